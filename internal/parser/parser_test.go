package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whit3rabbit/unluraph/internal/lexer"
)

func parseChunk(t *testing.T, src string) *Block {
	t.Helper()
	blk, err := Parse(lexer.Scan(src))
	require.NoError(t, err)
	require.NotNil(t, blk)
	return blk
}

func TestParseLocalAssignment(t *testing.T) {
	blk := parseChunk(t, "local x, y = 1, \"two\"\n")
	require.Len(t, blk.Stmts, 1)
	assign, ok := blk.Stmts[0].(*Assign)
	require.True(t, ok)
	assert.True(t, assign.IsLocal)
	require.Len(t, assign.Targets, 2)
	require.Len(t, assign.Values, 2)
	lit, ok := assign.Values[1].(*Literal)
	require.True(t, ok)
	assert.Equal(t, LiteralString, lit.Kind)
	assert.Equal(t, "two", lit.Str)
}

func TestParsePrecedence(t *testing.T) {
	blk := parseChunk(t, "local r = 1 + 2 * 3\n")
	assign := blk.Stmts[0].(*Assign)
	add, ok := assign.Values[0].(*Binary)
	require.True(t, ok)
	assert.Equal(t, "+", add.Op)
	mul, ok := add.R.(*Binary)
	require.True(t, ok)
	assert.Equal(t, "*", mul.Op)
}

func TestParseConcatRightAssoc(t *testing.T) {
	blk := parseChunk(t, `local s = "a" .. "b" .. "c"` + "\n")
	assign := blk.Stmts[0].(*Assign)
	outer, ok := assign.Values[0].(*Binary)
	require.True(t, ok)
	assert.Equal(t, "..", outer.Op)
	// Right-associative: the right child is itself a concat.
	inner, ok := outer.R.(*Binary)
	require.True(t, ok)
	assert.Equal(t, "..", inner.Op)
}

func TestParseIndexingShape(t *testing.T) {
	blk := parseChunk(t, "R[0] = R[1]\n")
	assign := blk.Stmts[0].(*Assign)
	target, ok := assign.Targets[0].(*Binary)
	require.True(t, ok)
	assert.Equal(t, "[]", target.Op)
	base, ok := target.L.(*Ident)
	require.True(t, ok)
	assert.Equal(t, "R", base.Name)
	idx, ok := target.R.(*Literal)
	require.True(t, ok)
	assert.True(t, idx.IsInt)
	assert.Equal(t, int64(0), idx.Int)
}

func TestParseDotBecomesIndex(t *testing.T) {
	blk := parseChunk(t, "x = a.b\n")
	assign := blk.Stmts[0].(*Assign)
	access, ok := assign.Values[0].(*Binary)
	require.True(t, ok)
	assert.Equal(t, "[]", access.Op)
	key, ok := access.R.(*Literal)
	require.True(t, ok)
	assert.Equal(t, "b", key.Str)
}

func TestParseControlFlow(t *testing.T) {
	src := `
if a then
  print(1)
elseif b then
  print(2)
else
  print(3)
end
for i = 1, 10, 2 do print(i) end
for k, v in pairs(t) do print(k, v) end
while x do x = x - 1 end
repeat x = x + 1 until x > 3
`
	blk := parseChunk(t, src)
	require.Len(t, blk.Stmts, 5)

	cond, ok := blk.Stmts[0].(*If)
	require.True(t, ok)
	chained, ok := cond.Else.(*If)
	require.True(t, ok)
	_, ok = chained.Else.(*Block)
	assert.True(t, ok)

	numeric := blk.Stmts[1].(*For)
	assert.Equal(t, ForNumeric, numeric.Kind)
	assert.Len(t, numeric.Exprs, 3)

	generic := blk.Stmts[2].(*For)
	assert.Equal(t, ForGeneric, generic.Kind)
	assert.Equal(t, []string{"k", "v"}, generic.Names)

	_, ok = blk.Stmts[3].(*While)
	assert.True(t, ok)
	_, ok = blk.Stmts[4].(*Repeat)
	assert.True(t, ok)
}

func TestParseReturnBoundedByNewline(t *testing.T) {
	blk := parseChunk(t, "return\nprint(1)\n")
	require.Len(t, blk.Stmts, 2)
	ret, ok := blk.Stmts[0].(*Return)
	require.True(t, ok)
	assert.Empty(t, ret.Args)

	blk = parseChunk(t, "return 1, 2\n")
	ret = blk.Stmts[0].(*Return)
	assert.Len(t, ret.Args, 2)
}

func TestParseTableConstructorForms(t *testing.T) {
	blk := parseChunk(t, `local t = {1, name = "x", ["k"] = 2; 3}` + "\n")
	assign := blk.Stmts[0].(*Assign)
	ctor, ok := assign.Values[0].(*TableCtor)
	require.True(t, ok)
	require.Len(t, ctor.Fields, 4)
	assert.Equal(t, FieldList, ctor.Fields[0].Kind)
	assert.Equal(t, FieldRecord, ctor.Fields[1].Kind)
	assert.Equal(t, FieldRecord, ctor.Fields[2].Kind)
	assert.Equal(t, FieldList, ctor.Fields[3].Kind)
	assert.False(t, ctor.ConstantTable, "4 fields is below the constant-table threshold")
}

func TestConstantTableAnnotation(t *testing.T) {
	blk := parseChunk(t, `local K = {"print", "hello", 1, 2, true, nil}`+"\n")
	assign := blk.Stmts[0].(*Assign)
	ctor := assign.Values[0].(*TableCtor)
	assert.True(t, ctor.ConstantTable)

	// A non-literal field disqualifies the table.
	blk = parseChunk(t, `local K = {"a", "b", "c", "d", "e", f()}`+"\n")
	ctor = blk.Stmts[0].(*Assign).Values[0].(*TableCtor)
	assert.False(t, ctor.ConstantTable)
}

func TestHandlerAnnotationByName(t *testing.T) {
	cases := []struct {
		src  string
		want bool
	}{
		{"local function handler_7(a) return a end", true},
		{"local function vm_dispatch(a) return a end", true},
		{"function op_move(a, b) end", true},
		{"function exec_loadk() end", true},
		{"function a_name_sixteen_c() end", true}, // length >= 16
		{"local function helper(a) return a end", false},
	}
	for _, tc := range cases {
		blk := parseChunk(t, tc.src+"\n")
		fn, ok := blk.Stmts[0].(*FunctionDecl)
		require.True(t, ok, "src=%q", tc.src)
		assert.Equal(t, tc.want, fn.VMHandler, "src=%q", tc.src)
	}
}

func TestHandlerAnnotationByBody(t *testing.T) {
	// Plain name, but the body calls into the dispatch machinery.
	blk := parseChunk(t, "local function step(a)\n  vm_invoke(a)\nend\n")
	fn := blk.Stmts[0].(*FunctionDecl)
	assert.True(t, fn.VMHandler)
}

func TestHandlerIndexFromName(t *testing.T) {
	assert.Equal(t, 7, HandlerIndexFromName("handler_7"))
	assert.Equal(t, 123, HandlerIndexFromName("op_123_move"))
	assert.Equal(t, -1, HandlerIndexFromName("dispatch"))
}

func TestVMCallAnnotation(t *testing.T) {
	blk := parseChunk(t, "do_move_op(1, 2)\n")
	stmt := blk.Stmts[0].(*ExprStmt)
	call := stmt.X.(*Call)
	assert.True(t, call.VMCall)
	assert.Equal(t, "MOVE", call.VMOp)

	blk = parseChunk(t, "helper(1)\n")
	call = blk.Stmts[0].(*ExprStmt).X.(*Call)
	assert.False(t, call.VMCall)
}

func TestEncryptedStringNode(t *testing.T) {
	blk := parseChunk(t, `local s = "\x41\x42"`+"\n")
	assign := blk.Stmts[0].(*Assign)
	enc, ok := assign.Values[0].(*EncryptedString)
	require.True(t, ok)
	assert.Equal(t, []byte{0x41, 0x42}, enc.Bytes)
	assert.Equal(t, "auto", enc.Method)
}

func TestErrorRecoveryResumesAtStatement(t *testing.T) {
	toks := lexer.Scan("local = 5\nlocal ok = 1\n")
	p := &Parser{toks: toks}
	blk := p.parseBlock()
	require.Nil(t, p.fatal)
	assert.NotEmpty(t, p.Errors)
	// Recovery resumes at the next statement keyword, so the well-formed
	// declaration after the bad one survives.
	var sawLocal bool
	for _, stmt := range blk.Stmts {
		if a, ok := stmt.(*Assign); ok && a.IsLocal {
			sawLocal = true
		}
	}
	assert.True(t, sawLocal)
}

func TestFatalErrorAtEOF(t *testing.T) {
	_, err := Parse(lexer.Scan("function f(\n"))
	require.Error(t, err)
	perr, ok := err.(*ParseError)
	require.True(t, ok)
	assert.NotEmpty(t, perr.Expected)
}

func TestPositionsMonotonic(t *testing.T) {
	blk := parseChunk(t, "local a = 1\nlocal b = 2\nprint(a + b)\n")
	prev := -1
	Walk(blk, func(n Node) {
		// Child nodes may revisit earlier offsets; statements never do.
		if _, ok := n.(Stmt); ok {
			assert.GreaterOrEqual(t, n.Pos().Offset, prev)
			prev = n.Pos().Offset
		}
	})
}
