package reconstructor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whit3rabbit/unluraph/internal/analyzer"
	"github.com/whit3rabbit/unluraph/internal/vm"
)

func handler(index int, body string) *vm.Handler {
	return &vm.Handler{Index: index, Name: "", Opcode: -1, BodyCode: body}
}

func TestReconstructTrivialMove(t *testing.T) {
	a := &analyzer.Analysis{Handlers: []*vm.Handler{handler(1, "R[0] = R[1]")}}
	out := Reconstruct(a, "@test.lua")
	assert.Equal(t, 1, out.HandlersProcessed)
	require.Len(t, out.Proto.Code, 1)
	in := out.Proto.Code[0]
	assert.Equal(t, vm.OpMove, in.Opcode)
	assert.Equal(t, 0, in.A)
	assert.Equal(t, 1, in.B)
	assert.Equal(t, 0, in.C)
	assert.NoError(t, out.Proto.Validate())
}

func TestHandlersOrderedByIndex(t *testing.T) {
	a := &analyzer.Analysis{Handlers: []*vm.Handler{
		handler(3, "return R[0]"),
		handler(1, "R[0] = R[1]"),
		handler(2, "R[1] = R[2] + R[3]"),
	}}
	out := Reconstruct(a, "@test.lua")
	require.Len(t, out.Proto.Code, 3)
	assert.Equal(t, vm.OpMove, out.Proto.Code[0].Opcode)
	assert.Equal(t, vm.OpAdd, out.Proto.Code[1].Opcode)
	assert.Equal(t, vm.OpReturn, out.Proto.Code[2].Opcode)
	// Handler indices become line numbers.
	assert.Equal(t, 1, out.Proto.Code[0].Line)
	assert.Equal(t, 3, out.Proto.Code[2].Line)
}

func TestLoadKAgainstPool(t *testing.T) {
	a := &analyzer.Analysis{
		Handlers:  []*vm.Handler{handler(1, "R[0] = K[0]")},
		Constants: []vm.Constant{vm.StringConstant("print", 0)},
	}
	out := Reconstruct(a, "@test.lua")
	require.Len(t, out.Proto.Code, 1)
	in := out.Proto.Code[0]
	assert.Equal(t, vm.OpLoadK, in.Opcode)
	assert.True(t, in.HasBx)
	assert.Equal(t, 0, in.Bx)
	require.Len(t, out.Proto.Consts, 1)
	assert.Equal(t, "print", out.Proto.Consts[0].Str)
	assert.NoError(t, out.Proto.Validate())
}

func TestUnrecognizedBodyFallsBackToNop(t *testing.T) {
	a := &analyzer.Analysis{Handlers: []*vm.Handler{handler(4, "x = y z ???")}}
	out := Reconstruct(a, "@test.lua")
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "handler 4")
	// The nop placeholder MOVE 0 0 0 is itself removed by the self-move
	// rule, leaving an empty body that still validates.
	assert.NoError(t, out.Proto.Validate())
}

func TestRegexFallback(t *testing.T) {
	cases := []struct {
		body string
		want vm.Instruction
	}{
		// Shapes the symbolic executor cannot parse but the regex pass can
		// still read (stray tokens around the core statement).
		{"do R[2] = R[5] end", vm.ABC(vm.OpMove, 2, 5, 0)},
		{"?? R[1] = K[7]", vm.ABx(vm.OpLoadK, 1, 7)},
		{"?? R[0] = R[1] .. R[2]", vm.ABC(vm.OpConcat, 0, 1, 2)},
	}
	for _, tc := range cases {
		in, ok := liftByRegex(tc.body)
		require.True(t, ok, "body=%q", tc.body)
		assert.Equal(t, tc.want, in, "body=%q", tc.body)
	}
}

func TestPeepholeSelfMove(t *testing.T) {
	code, _ := Optimize([]vm.Instruction{
		vm.ABC(vm.OpMove, 1, 1, 0),
		vm.ABC(vm.OpMove, 0, 1, 0),
	}, nil)
	require.Len(t, code, 1)
	assert.Equal(t, vm.ABC(vm.OpMove, 0, 1, 0), code[0])
}

func TestPeepholeDeadLoadK(t *testing.T) {
	code, _ := Optimize([]vm.Instruction{
		vm.ABx(vm.OpLoadK, 0, 1),
		vm.ABx(vm.OpLoadK, 0, 2),
		vm.ABx(vm.OpLoadK, 1, 3),
	}, []vm.Constant{
		vm.IntConstant(10, 0), vm.IntConstant(11, 1),
		vm.IntConstant(12, 2), vm.IntConstant(13, 3),
	})
	require.Len(t, code, 2)
	assert.Equal(t, 2, code[0].Bx)
	assert.Equal(t, 3, code[1].Bx)
}

func TestPeepholeDuplicateArith(t *testing.T) {
	code, _ := Optimize([]vm.Instruction{
		vm.ABC(vm.OpAdd, 0, 1, 2),
		vm.ABC(vm.OpAdd, 0, 1, 2),
		vm.ABC(vm.OpSub, 0, 1, 2),
	}, nil)
	require.Len(t, code, 2)
	assert.Equal(t, vm.OpAdd, code[0].Opcode)
	assert.Equal(t, vm.OpSub, code[1].Opcode)
}

func TestConstantDeduplication(t *testing.T) {
	code := []vm.Instruction{
		vm.ABx(vm.OpLoadK, 0, 0),
		vm.ABx(vm.OpLoadK, 1, 2),
	}
	consts := []vm.Constant{
		vm.StringConstant("x", 0),
		vm.StringConstant("unused", 1),
		vm.StringConstant("x", 2), // duplicate of slot 0
	}
	outCode, outConsts := Optimize(code, consts)
	require.Len(t, outConsts, 2)
	assert.Equal(t, 0, outCode[0].Bx)
	assert.Equal(t, 0, outCode[1].Bx) // remapped onto the surviving "x"
	for i, k := range outConsts {
		assert.Equal(t, i, k.PoolIndex)
	}
}

func TestDeadCodeElimination(t *testing.T) {
	// RETURN at pc 1 makes pc 2 unreachable.
	code, _ := Optimize([]vm.Instruction{
		vm.ABC(vm.OpMove, 0, 1, 0),
		vm.ABC(vm.OpReturn, 0, 1, 0),
		vm.ABC(vm.OpAdd, 0, 1, 2),
	}, nil)
	require.Len(t, code, 2)
	assert.Equal(t, vm.OpReturn, code[1].Opcode)
}

func TestDeadCodeJumpTargetsFollowed(t *testing.T) {
	// JMP over an unreachable instruction; the offset is rewritten after
	// compaction.
	code, _ := Optimize([]vm.Instruction{
		vm.AsBx(vm.OpJmp, 0, 1),       // jumps to pc 2
		vm.ABC(vm.OpAdd, 0, 1, 2),     // skipped, unreachable
		vm.ABC(vm.OpMove, 0, 1, 0),    // target
		vm.ABC(vm.OpReturn, 0, 1, 0),
	}, nil)
	require.Len(t, code, 3)
	assert.Equal(t, vm.OpJmp, code[0].Opcode)
	assert.Equal(t, 0, code[0].SBx) // now falls through to the next pc
	assert.Equal(t, vm.OpMove, code[1].Opcode)
}

func TestComputeMaxStack(t *testing.T) {
	assert.Equal(t, 2, ComputeMaxStack(nil))
	assert.Equal(t, 6, ComputeMaxStack([]vm.Instruction{vm.ABC(vm.OpMove, 5, 0, 0)}))
	// CALL widens by its argument window: a=2, b=4 -> 2+4-1 = 5.
	assert.Equal(t, 5, ComputeMaxStack([]vm.Instruction{vm.ABC(vm.OpCall, 2, 4, 2)}))
}
