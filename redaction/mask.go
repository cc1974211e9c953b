package redaction

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Masker rewrites one string value.
type Masker interface {
	Mask(s string) string
}

type maskFunc func(string) string

func (f maskFunc) Mask(s string) string { return f(s) }

var keepPattern = regexp.MustCompile(`^keep_(first|last)_(\d+)$`)

// NewMasker builds a masker from a rule pattern. Empty means the whole value
// becomes DefaultMaskToken. Named presets and JSON rules are recognised
// before the pattern is treated as a regular expression; a pattern that does
// not compile falls back to the whole-value mask.
func NewMasker(pattern string) Masker {
	pattern = strings.TrimSpace(pattern)
	switch pattern {
	case "":
		return maskFunc(fullMask)
	case "phone":
		return keepEnds(3, 4, '*')
	case "id_card":
		return keepEnds(6, 4, '*')
	case "email":
		return maskFunc(maskEmail)
	}
	if m := keepPattern.FindStringSubmatch(pattern); m != nil {
		n, _ := strconv.Atoi(m[2])
		if m[1] == "first" {
			return keepEnds(n, 0, '*')
		}
		return keepEnds(0, n, '*')
	}
	if strings.HasPrefix(pattern, "{") {
		if m, ok := parseCustom(pattern); ok {
			return m
		}
		return maskFunc(fullMask)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return maskFunc(fullMask)
	}
	return maskFunc(func(s string) string {
		return re.ReplaceAllStringFunc(s, func(match string) string {
			return strings.Repeat("*", len([]rune(match)))
		})
	})
}

func fullMask(string) string { return DefaultMaskToken }

// keepEnds keeps the first and last runes and stars the middle. Values too
// short to keep anything get the whole-value token.
func keepEnds(first, last int, char rune) Masker {
	return maskFunc(func(s string) string {
		r := []rune(s)
		if len(r) <= first+last {
			return DefaultMaskToken
		}
		out := make([]rune, len(r))
		for i := range r {
			if i < first || i >= len(r)-last {
				out[i] = r[i]
			} else {
				out[i] = char
			}
		}
		return string(out)
	})
}

func maskEmail(s string) string {
	at := strings.LastIndex(s, "@")
	if at <= 0 {
		return DefaultMaskToken
	}
	local := []rune(s[:at])
	return string(local[0]) + strings.Repeat("*", len(local)-1) + s[at:]
}

type customRule struct {
	Type        string   `json:"type"`
	KeepStart   int      `json:"keep_start"`
	KeepEnd     int      `json:"keep_end"`
	MaskChar    string   `json:"mask_char"`
	Pattern     string   `json:"pattern"`
	Replacement string   `json:"replacement"`
	Ranges      [][2]int `json:"ranges"`
}

func parseCustom(raw string) (Masker, bool) {
	var c customRule
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, false
	}
	char := '*'
	if c.MaskChar != "" {
		char = []rune(c.MaskChar)[0]
	}
	switch c.Type {
	case "custom":
		return keepEnds(c.KeepStart, c.KeepEnd, char), true
	case "regex":
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, false
		}
		repl := c.Replacement
		if repl == "" {
			repl = string(char)
		}
		return maskFunc(func(s string) string { return re.ReplaceAllString(s, repl) }), true
	case "range":
		ranges := c.Ranges
		return maskFunc(func(s string) string {
			r := []rune(s)
			for _, rg := range ranges {
				start, end := rg[0], rg[1]
				if start < 0 {
					start = 0
				}
				if end > len(r) {
					end = len(r)
				}
				for i := start; i < end; i++ {
					r[i] = char
				}
			}
			return string(r)
		}), true
	}
	return nil, false
}

// equalFoldTable compares table names ignoring case and schema prefixes.
func equalFoldTable(a, b string) bool {
	if strings.EqualFold(a, b) {
		return true
	}
	return strings.EqualFold(bareTable(a), bareTable(b))
}

func bareTable(s string) string {
	s = strings.Trim(s, "[]\"`")
	if i := strings.LastIndex(s, "."); i >= 0 {
		s = s[i+1:]
	}
	return strings.Trim(s, "[]\"`")
}
