package validation

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MinQueryLength = 2
	MaxQueryLength = 10000
)

// Reason explains why a query was judged unusable. Empty means usable.
type Reason string

const (
	ReasonEmpty       Reason = "empty"
	ReasonTooLong     Reason = "too long"
	ReasonRepetition  Reason = "repeated characters"
	ReasonSymbols     Reason = "mostly symbols"
	ReasonDigits      Reason = "mostly digits"
	ReasonKeyboard    Reason = "keyboard mashing"
	ReasonPunctuation Reason = "excessive punctuation"
)

// CheckQuery screens a user query before any inference call. It is lenient:
// short report requests such as "top 5" or "pie" pass, only text that is
// clearly not a request is rejected.
func CheckQuery(query string) Reason {
	trimmed := strings.TrimSpace(query)
	n := utf8.RuneCountInString(trimmed)
	if n < MinQueryLength {
		return ReasonEmpty
	}
	if n > MaxQueryLength {
		return ReasonTooLong
	}

	words := strings.Fields(trimmed)
	if len(words) == 1 && isRepeatedCharacters(words[0]) {
		return ReasonRepetition
	}
	if hasExcessiveRepetition(trimmed) {
		return ReasonRepetition
	}

	var letters, digits, punct, other, total int
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r):
			digits++
		case unicode.IsPunct(r):
			punct++
		default:
			other++
		}
	}
	if float64(punct+other)/float64(total) > 0.5 {
		return ReasonSymbols
	}
	if float64(digits)/float64(total) > 0.5 && !hasKnownWord(trimmed) {
		return ReasonDigits
	}
	if float64(letters)/float64(total) < 0.3 {
		return ReasonSymbols
	}
	if hasKeyboardMashing(trimmed) {
		return ReasonKeyboard
	}
	if float64(punct)/float64(total) > 0.3 {
		return ReasonPunctuation
	}
	return ""
}

func IsValidQuery(query string) bool {
	return CheckQuery(query) == ""
}

func isRepeatedCharacters(s string) bool {
	if utf8.RuneCountInString(s) < 3 {
		return false
	}
	first, _ := utf8.DecodeRuneInString(s)
	for _, r := range s {
		if r != first {
			return false
		}
	}
	return true
}

// hasExcessiveRepetition finds runs of 5 identical characters or a 2-3
// character pattern repeated 4 times, as in "aaaaa" or "abababab". Digit
// runs such as "100000" are allowed.
func hasExcessiveRepetition(s string) bool {
	runes := []rune(s)
	run := 1
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] && !unicode.IsDigit(runes[i]) && !unicode.IsSpace(runes[i]) {
			run++
			if run >= 5 {
				return true
			}
		} else {
			run = 1
		}
	}
	for width := 2; width <= 3; width++ {
		for i := 0; i+width*4 <= len(runes); i++ {
			pattern := string(runes[i : i+width])
			if strings.TrimSpace(pattern) != pattern || strings.IndexFunc(pattern, unicode.IsDigit) >= 0 {
				continue
			}
			repeats := 1
			for j := i + width; j+width <= len(runes) && string(runes[j:j+width]) == pattern; j += width {
				repeats++
			}
			if repeats >= 4 {
				return true
			}
		}
	}
	return false
}

var mashingPatterns = []string{"asdfgh", "qwerty", "zxcvbn", "hjkl", "asdf", "qwer", "zxcv"}

// hasKeyboardMashing only fires on short inputs made of a mashing sequence
// and no recognizable word.
func hasKeyboardMashing(s string) bool {
	lower := strings.ToLower(s)
	if len(lower) >= 30 || hasKnownWord(lower) {
		return false
	}
	for _, p := range mashingPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

var knownWords = map[string]bool{
	"show": true, "list": true, "get": true, "give": true, "find": true, "compare": true,
	"chart": true, "table": true, "report": true, "graph": true, "plot": true, "pie": true,
	"bar": true, "line": true, "top": true, "total": true, "sum": true, "count": true,
	"average": true, "by": true, "per": true, "in": true, "for": true, "of": true,
	"the": true, "what": true, "how": true, "which": true, "only": true, "year": true,
	"month": true, "day": true, "week": true, "last": true, "this": true, "sales": true,
}

func hasKnownWord(s string) bool {
	for _, w := range strings.Fields(strings.ToLower(s)) {
		if knownWords[strings.Trim(w, ".,!?;:()[]{}\"'")] {
			return true
		}
	}
	return false
}
