package pipeline

import (
	"errors"
	"regexp"
	"strings"

	"github.com/whit3rabbit/unluraph/internal/lexer"
	"github.com/whit3rabbit/unluraph/internal/parser"
)

// Detection is the marker report produced by the gate, exposed to callers
// through the detect verb.
type Detection struct {
	IsLuraph bool
	Markers  []string
	Version  string
}

// Textual markers a protected bundle advertises.
var textMarkers = []string{"luraph", "lura.ph", "protected using luraph", "obfuscator"}

// Structural patterns; two distinct hits satisfy clause (b) of the gate.
var structuralPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"register-access R[..]", regexp.MustCompile(`R\[`)},
	{"constant-access K[..]", regexp.MustCompile(`K\[`)},
	{"handler naming", regexp.MustCompile(`handler_\d+`)},
	{"vm naming", regexp.MustCompile(`vm_\w+`)},
	{"hex literals", regexp.MustCompile(`0x[0-9a-fA-F]+`)},
}

// detect evaluates the looks_like_luraph gate over the raw source, the
// token stream, and the annotated AST.
func detect(source string, toks []lexer.Token, chunk *parser.Block) Detection {
	d := Detection{}
	lower := strings.ToLower(source)

	// (a) textual markers.
	textHit := false
	for _, marker := range textMarkers {
		if strings.Contains(lower, marker) {
			d.Markers = append(d.Markers, "text: "+marker)
			textHit = true
		}
	}

	// (b) at least two distinct structural patterns.
	structural := 0
	for _, p := range structuralPatterns {
		if p.re.MatchString(source) {
			d.Markers = append(d.Markers, "pattern: "+p.name)
			structural++
		}
	}
	for _, tok := range toks {
		if tok.Kind.IsName() && len(tok.Value) > 15 {
			d.Markers = append(d.Markers, "pattern: long identifiers")
			structural++
			break
		}
	}

	// (c) the AST carries both a handler and an encrypted string.
	handlers, encrypted := 0, 0
	if chunk != nil {
		parser.Walk(chunk, func(n parser.Node) {
			switch node := n.(type) {
			case *parser.FunctionDecl:
				if node.VMHandler {
					handlers++
				}
			case *parser.EncryptedString:
				encrypted++
			}
		})
	}
	astHit := handlers >= 1 && encrypted >= 1
	if astHit {
		d.Markers = append(d.Markers, "ast: vm handler + encrypted string")
	}

	d.IsLuraph = textHit || structural >= 2 || astHit
	return d
}

// Detect runs the front half of the pipeline (lex + parse + gate) and
// reports the marker evidence without reconstructing anything.
func Detect(source string) (*Detection, error) {
	toks := lexer.Scan(source)
	if lexer.UnknownRatio(toks) > 0.05 {
		return nil, &InvalidLuaError{Line: 1, Col: 1, Msg: "input does not lex as Lua"}
	}
	chunk, err := parser.Parse(toks)
	if err != nil {
		var perr *parser.ParseError
		if errors.As(err, &perr) {
			return nil, &InvalidLuaError{Line: perr.At.Line, Col: perr.At.Column, Msg: perr.Error()}
		}
		return nil, &InvalidLuaError{Line: 1, Col: 1, Msg: err.Error()}
	}
	d := detect(source, toks, chunk)
	d.Version = guessVersion(chunk)
	return &d, nil
}

// guessVersion infers the Luraph generation from key-length evidence: the
// first string literal of 16, 24 or 32 bytes is taken as the key, and its
// length maps to 11.5, 11.6 or 11.7. The literal's characters are not
// examined.
func guessVersion(chunk *parser.Block) string {
	var keyLen int
	parser.Walk(chunk, func(n parser.Node) {
		if keyLen > 0 {
			return
		}
		lit, ok := n.(*parser.Literal)
		if !ok || lit.Kind != parser.LiteralString {
			return
		}
		switch len(lit.Str) {
		case 16, 24, 32:
			keyLen = len(lit.Str)
		}
	})
	switch keyLen {
	case 16:
		return "11.5"
	case 24:
		return "11.6"
	case 32:
		return "11.7"
	}
	return ""
}
