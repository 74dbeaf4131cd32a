package decryptor

import "strings"

// luaKeywords are the Lua 5.3 reserved words, each worth 10 points per
// occurrence.
var luaKeywords = []string{
	"and", "break", "do", "else", "elseif", "end", "false", "for",
	"function", "goto", "if", "in", "local", "nil", "not", "or",
	"repeat", "return", "then", "true", "until", "while",
}

// luaOperators are the single- and two-character operators, each worth 2
// points per occurrence. Two-character operators come first so the counts
// mirror how a scanner would tokenize them.
var luaOperators = []string{
	"==", "~=", "<=", ">=", "..", "::", "//", "<<", ">>",
	"+", "-", "*", "/", "%", "^", "#", "&", "~", "|",
	"<", ">", "=", "(", ")", "{", "}", "[", "]", ";", ":", ",", ".",
}

// ScorePlaintext rates how much a byte string looks like Lua source. The
// function is deterministic and totally ordered:
//
//	10 * keyword occurrences
//	+ 2 * operator occurrences
//	+ 20 if both "function" and "end" appear
//	+ 15 if "local" appears
//	+ 10 if "print" appears
//	- 5 * non-printable byte count
func ScorePlaintext(data []byte) int {
	s := string(data)
	score := 0
	for _, kw := range luaKeywords {
		score += 10 * strings.Count(s, kw)
	}
	for _, op := range luaOperators {
		score += 2 * strings.Count(s, op)
	}
	if strings.Contains(s, "function") && strings.Contains(s, "end") {
		score += 20
	}
	if strings.Contains(s, "local") {
		score += 15
	}
	if strings.Contains(s, "print") {
		score += 10
	}
	score -= 5 * nonPrintableCount(data)
	return score
}

func nonPrintableCount(data []byte) int {
	n := 0
	for _, b := range data {
		if (b < 0x20 && b != '\t' && b != '\n' && b != '\r') || b >= 0x7F {
			n++
		}
	}
	return n
}
