package executor

import (
	"strings"
	"unicode"

	"reportpilot/models"
)

var identQuotes = map[rune]rune{'"': '"', '[': ']', '`': '`'}

var unquote = strings.NewReplacer(`"`, "", "[", "", "]", "", "`", "")

// words that end a FROM list or a table alias
var clauseWords = map[string]bool{
	"select": true, "from": true, "where": true, "group": true, "order": true,
	"having": true, "limit": true, "offset": true, "fetch": true, "on": true,
	"using": true, "union": true, "except": true, "intersect": true, "join": true,
	"inner": true, "left": true, "right": true, "full": true, "outer": true,
	"cross": true, "natural": true, "as": true, "with": true, "window": true,
	"for": true, "lateral": true, "apply": true, "pivot": true, "unpivot": true,
}

// stepTables is every table a step is known to read: the planner's list
// plus whatever the step's SQL names after FROM and JOIN.
func stepTables(step models.PlanStep) []string {
	out := append([]string(nil), step.Tables...)
	if step.Kind == models.StepQuery {
		out = append(out, tablesRead(step.SQL)...)
	}
	return out
}

// tablesRead lists the names following FROM and JOIN, including comma
// separated FROM lists. Over-reporting is harmless; names inside
// subqueries are found by the same scan.
func tablesRead(query string) []string {
	toks := sqlTokens(query)
	var out []string
	for i := 0; i < len(toks); i++ {
		kw := strings.ToLower(toks[i])
		if kw != "from" && kw != "join" {
			continue
		}
		j := i + 1
		for j < len(toks) {
			t := toks[j]
			if t == "(" || t == ")" || t == "," || clauseWords[strings.ToLower(t)] {
				break
			}
			if name := unquote.Replace(t); name != "" {
				out = append(out, name)
			}
			j++
			if j < len(toks) && strings.EqualFold(toks[j], "as") {
				j += 2
			} else if j < len(toks) && isName(toks[j]) && !clauseWords[strings.ToLower(toks[j])] {
				j++
			}
			if kw == "from" && j < len(toks) && toks[j] == "," {
				j++
				continue
			}
			break
		}
		i = j - 1
	}
	return out
}

// sqlTokens splits a statement into names (quoted parts and dots kept
// together) and the punctuation ( ) , while skipping string literals and
// line comments.
func sqlTokens(q string) []string {
	rs := []rune(q)
	var toks []string
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case r == '\'':
			i++
			for i < len(rs) && rs[i] != '\'' {
				i++
			}
			i++
		case r == '-' && i+1 < len(rs) && rs[i+1] == '-':
			for i < len(rs) && rs[i] != '\n' {
				i++
			}
		case r == '(' || r == ')' || r == ',':
			toks = append(toks, string(r))
			i++
		case isNameRune(r) || identQuotes[r] != 0:
			start := i
			for i < len(rs) {
				if closer, ok := identQuotes[rs[i]]; ok {
					i++
					for i < len(rs) && rs[i] != closer {
						i++
					}
					i++
					continue
				}
				if !isNameRune(rs[i]) && rs[i] != '.' {
					break
				}
				i++
			}
			if i > len(rs) {
				i = len(rs)
			}
			toks = append(toks, string(rs[start:i]))
		default:
			i++
		}
	}
	return toks
}

func isNameRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '$' || r == '#' || r == '@'
}

func isName(t string) bool {
	return t != "(" && t != ")" && t != ","
}
