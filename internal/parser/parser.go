package parser

import (
	"fmt"
	"strings"

	"github.com/whit3rabbit/unluraph/internal/lexer"
)

// ParseError is a fatal parse failure, tagged with the position where the
// parser gave up.
type ParseError struct {
	At       Position
	Expected string
	Got      string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %s: expected %s, got %s", e.At, e.Expected, e.Got)
}

// Parser is a recursive-descent parser over the token stream. Recoverable
// errors are collected in Errors; an unrecoverable failure (EOF inside a
// construct) aborts Parse with a *ParseError.
type Parser struct {
	toks   []lexer.Token
	pos    int
	Errors []*ParseError
	fatal  *ParseError
}

// Parse builds the AST for a full chunk. The returned block contains every
// statement that survived error recovery; err is non-nil only for fatal
// failures.
func Parse(toks []lexer.Token) (*Block, error) {
	p := &Parser{toks: toks}
	block := p.parseBlock()
	if p.fatal != nil {
		return nil, p.fatal
	}
	return block, nil
}

// --- Token navigation ---

// skipTrivia advances past newline and comment tokens, which carry no
// syntactic weight outside of return-statement bounding.
func (p *Parser) skipTrivia() {
	for p.pos < len(p.toks) {
		k := p.toks[p.pos].Kind
		if k == lexer.KindNewline || k == lexer.KindComment {
			p.pos++
			continue
		}
		return
	}
}

func (p *Parser) peek() lexer.Token {
	p.skipTrivia()
	if p.pos >= len(p.toks) {
		return lexer.Token{Kind: lexer.KindEOF}
	}
	return p.toks[p.pos]
}

// peekRaw looks at the next token without skipping trivia. Used after
// "return" where a newline terminates the expression list.
func (p *Parser) peekRaw() lexer.Token {
	if p.pos >= len(p.toks) {
		return lexer.Token{Kind: lexer.KindEOF}
	}
	return p.toks[p.pos]
}

func (p *Parser) next() lexer.Token {
	t := p.peek()
	if t.Kind != lexer.KindEOF {
		p.pos++
	}
	return t
}

func (p *Parser) at(kind lexer.Kind) bool { return p.peek().Kind == kind }

func (p *Parser) accept(kind lexer.Kind) (lexer.Token, bool) {
	if p.at(kind) {
		return p.next(), true
	}
	return lexer.Token{}, false
}

func pos(t lexer.Token) Position {
	return Position{Line: t.Line, Column: t.Column, Offset: t.Offset}
}

// expect consumes a token of the given kind or reports a recoverable error.
// At EOF the failure is fatal: there is nothing left to resynchronize on.
func (p *Parser) expect(kind lexer.Kind, context string) (lexer.Token, bool) {
	t := p.peek()
	if t.Kind == kind {
		return p.next(), true
	}
	perr := &ParseError{
		At:       pos(t),
		Expected: fmt.Sprintf("%s in %s", kind, context),
		Got:      describe(t),
	}
	if t.Kind == lexer.KindEOF {
		if p.fatal == nil {
			p.fatal = perr
		}
		return t, false
	}
	p.Errors = append(p.Errors, perr)
	return t, false
}

func describe(t lexer.Token) string {
	if t.Kind == lexer.KindEOF {
		return "<eof>"
	}
	return fmt.Sprintf("%q", t.Lexeme)
}

// synchronize discards tokens until the next statement-starting keyword or
// semicolon so that one bad statement does not poison the rest of the chunk.
func (p *Parser) synchronize() {
	for {
		switch p.peek().Kind {
		case lexer.KindFunction, lexer.KindLocal, lexer.KindFor, lexer.KindIf,
			lexer.KindWhile, lexer.KindReturn, lexer.KindEnd, lexer.KindElse,
			lexer.KindElseif, lexer.KindUntil, lexer.KindEOF:
			return
		case lexer.KindSemicolon:
			p.next()
			return
		default:
			p.next()
		}
	}
}

// --- Statements ---

func blockEnds(k lexer.Kind) bool {
	switch k {
	case lexer.KindEnd, lexer.KindElse, lexer.KindElseif, lexer.KindUntil, lexer.KindEOF:
		return true
	}
	return false
}

func (p *Parser) parseBlock() *Block {
	blk := &Block{Position: pos(p.peek())}
	for !blockEnds(p.peek().Kind) && p.fatal == nil {
		if _, ok := p.accept(lexer.KindSemicolon); ok {
			continue
		}
		before := p.pos
		stmt := p.parseStatement()
		if stmt != nil {
			blk.Stmts = append(blk.Stmts, stmt)
		}
		if p.pos == before {
			// Nothing consumed; skip one token to guarantee progress.
			p.next()
		}
	}
	return blk
}

func (p *Parser) parseStatement() Stmt {
	t := p.peek()
	switch t.Kind {
	case lexer.KindLocal:
		return p.parseLocal()
	case lexer.KindFunction:
		return p.parseFunctionStmt(false)
	case lexer.KindIf:
		return p.parseIf()
	case lexer.KindFor:
		return p.parseFor()
	case lexer.KindWhile:
		return p.parseWhile()
	case lexer.KindRepeat:
		return p.parseRepeat()
	case lexer.KindReturn:
		return p.parseReturn()
	case lexer.KindBreak:
		p.next()
		return &Break{Position: pos(t)}
	case lexer.KindGoto:
		p.next()
		name, ok := p.expect(lexer.KindName, "goto")
		if !ok {
			p.synchronize()
			return nil
		}
		return &Goto{Label: name.Value, Position: pos(t)}
	case lexer.KindDoubleColon:
		p.next()
		name, ok := p.expectName("label")
		if !ok {
			p.synchronize()
			return nil
		}
		p.expect(lexer.KindDoubleColon, "label")
		return &Label{Name: name, Position: pos(t)}
	case lexer.KindDo:
		p.next()
		body := p.parseBlock()
		p.expect(lexer.KindEnd, "do block")
		return body
	default:
		return p.parseExprStatement()
	}
}

// expectName accepts plain and obfuscated identifiers.
func (p *Parser) expectName(context string) (string, bool) {
	t := p.peek()
	if t.Kind.IsName() {
		p.next()
		return t.Value, true
	}
	p.expect(lexer.KindName, context)
	return "", false
}

func (p *Parser) parseLocal() Stmt {
	start := p.next() // 'local'
	if _, ok := p.accept(lexer.KindFunction); ok {
		return p.parseFunctionBody(pos(start), true, p.parseFunctionName())
	}

	var targets []Expr
	for {
		t := p.peek()
		name, ok := p.expectName("local declaration")
		if !ok {
			p.synchronize()
			return nil
		}
		targets = append(targets, &Ident{
			Name:       name,
			Obfuscated: t.Kind == lexer.KindObfuscatedName,
			Position:   pos(t),
		})
		if _, more := p.accept(lexer.KindComma); !more {
			break
		}
	}

	stmt := &Assign{Targets: targets, IsLocal: true, Position: pos(start)}
	if _, ok := p.accept(lexer.KindAssign); ok {
		stmt.Values = p.parseExprList()
	}
	return stmt
}

// parseFunctionName parses a possibly dotted (a.b.c / a:b) function name and
// returns it as a single string.
func (p *Parser) parseFunctionName() string {
	name, ok := p.expectName("function name")
	if !ok {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(name)
	for {
		if _, dot := p.accept(lexer.KindDot); dot {
			part, ok := p.expectName("function name")
			if !ok {
				break
			}
			sb.WriteString(".")
			sb.WriteString(part)
			continue
		}
		if _, colon := p.accept(lexer.KindColon); colon {
			part, ok := p.expectName("method name")
			if ok {
				sb.WriteString(":")
				sb.WriteString(part)
			}
			break
		}
		break
	}
	return sb.String()
}

func (p *Parser) parseFunctionStmt(isLocal bool) Stmt {
	start := p.next() // 'function'
	return p.parseFunctionBody(pos(start), isLocal, p.parseFunctionName())
}

// parseFunctionBody parses the parameter list and body shared by all
// function forms, then applies the handler annotation.
func (p *Parser) parseFunctionBody(at Position, isLocal bool, name string) *FunctionDecl {
	fn := &FunctionDecl{
		Name:         name,
		IsLocal:      isLocal,
		HandlerIndex: -1,
		Position:     at,
	}
	p.expect(lexer.KindLParen, "function")
	for !p.at(lexer.KindRParen) && p.fatal == nil {
		t := p.peek()
		if t.Kind == lexer.KindEllipsis {
			p.next()
			fn.IsVararg = true
			break
		}
		param, ok := p.expectName("parameter list")
		if !ok {
			break
		}
		fn.Params = append(fn.Params, param)
		if _, more := p.accept(lexer.KindComma); !more {
			break
		}
	}
	p.expect(lexer.KindRParen, "function")
	fn.Body = p.parseBlock()
	p.expect(lexer.KindEnd, "function")
	annotateHandler(fn)
	return fn
}

func (p *Parser) parseIf() Stmt {
	start := p.next() // 'if'
	stmt := &If{Position: pos(start)}
	stmt.Cond = p.parseExpr()
	p.expect(lexer.KindThen, "if")
	stmt.Then = p.parseBlock()

	switch p.peek().Kind {
	case lexer.KindElseif:
		// An elseif chain is an If nested in the else arm.
		stmt.Else = p.parseIf()
		return stmt
	case lexer.KindElse:
		p.next()
		stmt.Else = p.parseBlock()
	}
	p.expect(lexer.KindEnd, "if")
	return stmt
}

func (p *Parser) parseFor() Stmt {
	start := p.next() // 'for'
	first, ok := p.expectName("for")
	if !ok {
		p.synchronize()
		return nil
	}

	if _, numeric := p.accept(lexer.KindAssign); numeric {
		loop := &For{Kind: ForNumeric, Names: []string{first}, Position: pos(start)}
		loop.Exprs = append(loop.Exprs, p.parseExpr())
		p.expect(lexer.KindComma, "numeric for")
		loop.Exprs = append(loop.Exprs, p.parseExpr())
		if _, step := p.accept(lexer.KindComma); step {
			loop.Exprs = append(loop.Exprs, p.parseExpr())
		}
		p.expect(lexer.KindDo, "numeric for")
		loop.Body = p.parseBlock()
		p.expect(lexer.KindEnd, "numeric for")
		return loop
	}

	loop := &For{Kind: ForGeneric, Names: []string{first}, Position: pos(start)}
	for {
		if _, more := p.accept(lexer.KindComma); !more {
			break
		}
		name, ok := p.expectName("generic for")
		if !ok {
			break
		}
		loop.Names = append(loop.Names, name)
	}
	p.expect(lexer.KindIn, "generic for")
	loop.Exprs = p.parseExprList()
	p.expect(lexer.KindDo, "generic for")
	loop.Body = p.parseBlock()
	p.expect(lexer.KindEnd, "generic for")
	return loop
}

func (p *Parser) parseWhile() Stmt {
	start := p.next() // 'while'
	stmt := &While{Position: pos(start)}
	stmt.Cond = p.parseExpr()
	p.expect(lexer.KindDo, "while")
	stmt.Body = p.parseBlock()
	p.expect(lexer.KindEnd, "while")
	return stmt
}

func (p *Parser) parseRepeat() Stmt {
	start := p.next() // 'repeat'
	stmt := &Repeat{Position: pos(start)}
	stmt.Body = p.parseBlock()
	p.expect(lexer.KindUntil, "repeat")
	stmt.Cond = p.parseExpr()
	return stmt
}

// parseReturn parses a return statement. The expression list is bounded by
// the next newline (or a block terminator / semicolon).
func (p *Parser) parseReturn() Stmt {
	start := p.next() // 'return'
	stmt := &Return{Position: pos(start)}
	raw := p.peekRaw()
	if raw.Kind == lexer.KindNewline || raw.Kind == lexer.KindSemicolon ||
		blockEnds(raw.Kind) || raw.Kind == lexer.KindComment && blockEnds(p.peek().Kind) {
		return stmt
	}
	if blockEnds(p.peek().Kind) {
		return stmt
	}
	stmt.Args = p.parseExprList()
	p.accept(lexer.KindSemicolon)
	return stmt
}

// parseExprStatement parses either an assignment or a bare call statement.
func (p *Parser) parseExprStatement() Stmt {
	start := p.peek()
	first := p.parseSuffixedExpr()
	if first == nil {
		p.Errors = append(p.Errors, &ParseError{
			At:       pos(start),
			Expected: "statement",
			Got:      describe(start),
		})
		p.synchronize()
		return nil
	}

	if p.at(lexer.KindAssign) || p.at(lexer.KindComma) {
		targets := []Expr{first}
		for {
			if _, more := p.accept(lexer.KindComma); !more {
				break
			}
			next := p.parseSuffixedExpr()
			if next == nil {
				break
			}
			targets = append(targets, next)
		}
		p.expect(lexer.KindAssign, "assignment")
		return &Assign{Targets: targets, Values: p.parseExprList(), Position: pos(start)}
	}

	if _, ok := first.(*Call); !ok {
		p.Errors = append(p.Errors, &ParseError{
			At:       pos(start),
			Expected: "assignment or call",
			Got:      describe(start),
		})
		p.synchronize()
		return nil
	}
	return &ExprStmt{X: first, Position: pos(start)}
}

// --- Expressions ---

func (p *Parser) parseExprList() []Expr {
	var list []Expr
	for {
		e := p.parseExpr()
		if e == nil {
			break
		}
		list = append(list, e)
		if _, more := p.accept(lexer.KindComma); !more {
			break
		}
	}
	return list
}

// Binary operator precedence, Lua 5.3 table. Concat and power are
// right-associative.
type opInfo struct {
	prec  int
	right bool
}

var binaryOps = map[lexer.Kind]opInfo{
	lexer.KindOr:          {1, false},
	lexer.KindAnd:         {2, false},
	lexer.KindLess:        {3, false},
	lexer.KindGreater:     {3, false},
	lexer.KindLessEq:      {3, false},
	lexer.KindGreaterEq:   {3, false},
	lexer.KindNotEq:       {3, false},
	lexer.KindEq:          {3, false},
	lexer.KindPipe:        {4, false},
	lexer.KindTilde:       {5, false},
	lexer.KindAmp:         {6, false},
	lexer.KindShl:         {7, false},
	lexer.KindShr:         {7, false},
	lexer.KindConcat:      {9, true},
	lexer.KindPlus:        {10, false},
	lexer.KindMinus:       {10, false},
	lexer.KindStar:        {11, false},
	lexer.KindSlash:       {11, false},
	lexer.KindDoubleSlash: {11, false},
	lexer.KindPercent:     {11, false},
	lexer.KindCaret:       {14, true},
}

const unaryPrec = 12

func (p *Parser) parseExpr() Expr { return p.parseBinary(0) }

func (p *Parser) parseBinary(minPrec int) Expr {
	var left Expr
	t := p.peek()
	switch t.Kind {
	case lexer.KindNot, lexer.KindMinus, lexer.KindHash, lexer.KindTilde:
		p.next()
		operand := p.parseBinary(unaryPrec)
		if operand == nil {
			return nil
		}
		left = &Unary{Op: t.Lexeme, Operand: operand, Position: pos(t)}
	default:
		left = p.parseSuffixedExpr()
	}
	if left == nil {
		return nil
	}

	for {
		op := p.peek()
		info, ok := binaryOps[op.Kind]
		if !ok || info.prec <= minPrec {
			return left
		}
		p.next()
		nextMin := info.prec
		if info.right {
			nextMin--
		}
		right := p.parseBinary(nextMin)
		if right == nil {
			return left
		}
		left = &Binary{Op: op.Lexeme, L: left, R: right, Position: pos(op)}
	}
}

// parseSuffixedExpr parses a primary expression followed by any chain of
// index, field, method, and call suffixes.
func (p *Parser) parseSuffixedExpr() Expr {
	e := p.parsePrimary()
	if e == nil {
		return nil
	}
	for {
		t := p.peek()
		switch t.Kind {
		case lexer.KindLBracket:
			p.next()
			key := p.parseExpr()
			p.expect(lexer.KindRBracket, "index")
			e = &Binary{Op: "[]", L: e, R: key, Position: pos(t)}
		case lexer.KindDot:
			p.next()
			name, ok := p.expectName("field access")
			if !ok {
				return e
			}
			e = &Binary{Op: "[]", L: e, R: &Literal{
				Kind: LiteralString, Str: name, Position: pos(t),
			}, Position: pos(t)}
		case lexer.KindColon:
			p.next()
			method, ok := p.expectName("method call")
			if !ok {
				return e
			}
			callee := &Binary{Op: "[]", L: e, R: &Literal{
				Kind: LiteralString, Str: method, Position: pos(t),
			}, Position: pos(t)}
			e = p.parseCallArgs(callee, pos(t))
			if e == nil {
				return callee
			}
		case lexer.KindLParen, lexer.KindString, lexer.KindEncryptedString, lexer.KindLBrace:
			call := p.parseCallArgs(e, pos(t))
			if call == nil {
				return e
			}
			e = call
		default:
			return e
		}
	}
}

// parseCallArgs parses the three call-argument forms: parenthesized lists,
// a single string literal, and a single table constructor.
func (p *Parser) parseCallArgs(callee Expr, at Position) Expr {
	t := p.peek()
	call := &Call{Callee: callee, Position: at}
	switch t.Kind {
	case lexer.KindLParen:
		p.next()
		if !p.at(lexer.KindRParen) {
			call.Args = p.parseExprList()
		}
		p.expect(lexer.KindRParen, "call")
	case lexer.KindString, lexer.KindEncryptedString:
		arg := p.parsePrimary()
		if arg != nil {
			call.Args = []Expr{arg}
		}
	case lexer.KindLBrace:
		arg := p.parseTable()
		if arg != nil {
			call.Args = []Expr{arg}
		}
	default:
		return nil
	}
	annotateCall(call)
	return call
}

func (p *Parser) parsePrimary() Expr {
	t := p.peek()
	switch t.Kind {
	case lexer.KindNil:
		p.next()
		return &Literal{Kind: LiteralNil, Position: pos(t)}
	case lexer.KindTrue, lexer.KindFalse:
		p.next()
		return &Literal{Kind: LiteralBool, Bool: t.Kind == lexer.KindTrue, Position: pos(t)}
	case lexer.KindNumber:
		p.next()
		return &Literal{
			Kind: LiteralNumber, Number: t.Number, IsInt: t.IsInt, Int: t.Int,
			Position: pos(t),
		}
	case lexer.KindString:
		p.next()
		return &Literal{Kind: LiteralString, Str: t.Value, Position: pos(t)}
	case lexer.KindEncryptedString:
		p.next()
		return &EncryptedString{Bytes: []byte(t.Value), Method: "auto", Position: pos(t)}
	case lexer.KindName, lexer.KindObfuscatedName:
		p.next()
		return &Ident{
			Name:       t.Value,
			Obfuscated: t.Kind == lexer.KindObfuscatedName,
			Position:   pos(t),
		}
	case lexer.KindEllipsis:
		p.next()
		return &Vararg{Position: pos(t)}
	case lexer.KindFunction:
		p.next()
		return p.parseFunctionBody(pos(t), false, "")
	case lexer.KindLParen:
		p.next()
		e := p.parseExpr()
		p.expect(lexer.KindRParen, "parenthesized expression")
		return e
	case lexer.KindLBrace:
		return p.parseTable()
	default:
		return nil
	}
}

func (p *Parser) parseTable() Expr {
	start, ok := p.expect(lexer.KindLBrace, "table constructor")
	if !ok {
		return nil
	}
	ctor := &TableCtor{Position: pos(start)}
	for !p.at(lexer.KindRBrace) && p.fatal == nil {
		t := p.peek()
		var field TableField
		switch {
		case t.Kind == lexer.KindLBracket:
			p.next()
			field.Key = p.parseExpr()
			p.expect(lexer.KindRBracket, "table key")
			p.expect(lexer.KindAssign, "table field")
			field.Value = p.parseExpr()
			field.Kind = FieldRecord
		case t.Kind.IsName() && p.peekAhead(1).Kind == lexer.KindAssign:
			p.next()
			p.next()
			field.Key = &Literal{Kind: LiteralString, Str: t.Value, Position: pos(t)}
			field.Value = p.parseExpr()
			field.Kind = FieldRecord
		default:
			field.Value = p.parseExpr()
			field.Kind = FieldList
		}
		field.Position = pos(t)
		if field.Value == nil {
			break
		}
		ctor.Fields = append(ctor.Fields, field)
		if _, sep := p.accept(lexer.KindComma); !sep {
			if _, sep = p.accept(lexer.KindSemicolon); !sep {
				break
			}
		}
	}
	p.expect(lexer.KindRBrace, "table constructor")
	annotateTable(ctor)
	return ctor
}

// peekAhead returns the n-th significant token after the current one.
func (p *Parser) peekAhead(n int) lexer.Token {
	idx := p.pos
	seen := -1
	for idx < len(p.toks) {
		k := p.toks[idx].Kind
		if k != lexer.KindNewline && k != lexer.KindComment {
			seen++
			if seen == n {
				return p.toks[idx]
			}
		}
		idx++
	}
	return lexer.Token{Kind: lexer.KindEOF}
}
