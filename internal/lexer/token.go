// Package lexer implements a tolerant single-pass scanner for Lua 5.3 source
// that additionally classifies the token variants Luraph-protected files
// exhibit: string literals hiding encrypted payloads and identifiers produced
// by name mangling.
package lexer

import "fmt"

// Kind is the closed enumeration of token kinds. It covers the standard
// Lua 5.3 vocabulary plus the obfuscation variants and the synthetic kinds
// the scanner never fails on.
type Kind int

const (
	// Literals and names.
	KindName Kind = iota
	KindNumber
	KindString

	// Keywords.
	KindAnd
	KindBreak
	KindDo
	KindElse
	KindElseif
	KindEnd
	KindFalse
	KindFor
	KindFunction
	KindGoto
	KindIf
	KindIn
	KindLocal
	KindNil
	KindNot
	KindOr
	KindRepeat
	KindReturn
	KindThen
	KindTrue
	KindUntil
	KindWhile

	// Operators and punctuation.
	KindPlus
	KindMinus
	KindStar
	KindSlash
	KindDoubleSlash
	KindPercent
	KindCaret
	KindHash
	KindAmp
	KindTilde
	KindPipe
	KindShl
	KindShr
	KindEq
	KindNotEq
	KindLessEq
	KindGreaterEq
	KindLess
	KindGreater
	KindAssign
	KindLParen
	KindRParen
	KindLBrace
	KindRBrace
	KindLBracket
	KindRBracket
	KindDoubleColon
	KindSemicolon
	KindColon
	KindComma
	KindDot
	KindConcat
	KindEllipsis

	// Structure.
	KindNewline
	KindComment
	KindEOF

	// Luraph variants and tolerance.
	KindEncryptedString
	KindObfuscatedName
	KindVmCall // not produced by the scanner, nor by any other pass in this module
	KindUnknown
)

var kindNames = map[Kind]string{
	KindName: "Name", KindNumber: "Number", KindString: "String",
	KindAnd: "and", KindBreak: "break", KindDo: "do", KindElse: "else",
	KindElseif: "elseif", KindEnd: "end", KindFalse: "false", KindFor: "for",
	KindFunction: "function", KindGoto: "goto", KindIf: "if", KindIn: "in",
	KindLocal: "local", KindNil: "nil", KindNot: "not", KindOr: "or",
	KindRepeat: "repeat", KindReturn: "return", KindThen: "then",
	KindTrue: "true", KindUntil: "until", KindWhile: "while",
	KindPlus: "+", KindMinus: "-", KindStar: "*", KindSlash: "/",
	KindDoubleSlash: "//", KindPercent: "%", KindCaret: "^", KindHash: "#",
	KindAmp: "&", KindTilde: "~", KindPipe: "|", KindShl: "<<", KindShr: ">>",
	KindEq: "==", KindNotEq: "~=", KindLessEq: "<=", KindGreaterEq: ">=",
	KindLess: "<", KindGreater: ">", KindAssign: "=",
	KindLParen: "(", KindRParen: ")", KindLBrace: "{", KindRBrace: "}",
	KindLBracket: "[", KindRBracket: "]", KindDoubleColon: "::",
	KindSemicolon: ";", KindColon: ":", KindComma: ",", KindDot: ".",
	KindConcat: "..", KindEllipsis: "...",
	KindNewline: "<newline>", KindComment: "<comment>", KindEOF: "<eof>",
	KindEncryptedString: "EncryptedString", KindObfuscatedName: "ObfuscatedName",
	KindVmCall: "VmCall", KindUnknown: "Unknown",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// IsKeyword reports whether the kind is a Lua reserved word.
func (k Kind) IsKeyword() bool { return k >= KindAnd && k <= KindWhile }

// IsString reports whether the token carries a string payload.
func (k Kind) IsString() bool { return k == KindString || k == KindEncryptedString }

// IsName reports whether the token is an identifier of any flavour.
func (k Kind) IsName() bool { return k == KindName || k == KindObfuscatedName }

// Keywords maps reserved words to their token kinds.
var Keywords = map[string]Kind{
	"and": KindAnd, "break": KindBreak, "do": KindDo, "else": KindElse,
	"elseif": KindElseif, "end": KindEnd, "false": KindFalse, "for": KindFor,
	"function": KindFunction, "goto": KindGoto, "if": KindIf, "in": KindIn,
	"local": KindLocal, "nil": KindNil, "not": KindNot, "or": KindOr,
	"repeat": KindRepeat, "return": KindReturn, "then": KindThen,
	"true": KindTrue, "until": KindUntil, "while": KindWhile,
}

// Token is one lexed unit. Lexeme is the verbatim source slice; for string
// tokens Value holds the unescaped body, and for numbers the numeric fields
// are populated.
type Token struct {
	Kind   Kind
	Lexeme string
	Value  string
	Number float64
	Int    int64
	IsInt  bool
	Line   int
	Column int
	Offset int
}

// Pos renders the token position as "line:column".
func (t Token) Pos() string { return fmt.Sprintf("%d:%d", t.Line, t.Column) }
