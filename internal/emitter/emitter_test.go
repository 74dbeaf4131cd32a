package emitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whit3rabbit/unluraph/internal/vm"
)

func emptyProto() *vm.Proto {
	return &vm.Proto{
		Source:   "@chunk.lua",
		IsVararg: true,
		MaxStack: 2,
		Upvals:   []vm.Upvalue{{Name: "_ENV", IsLocal: true, Register: 0}},
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	data, err := Emit(emptyProto())
	require.NoError(t, err)

	h, err := ReadHeader(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1B4C7561), h.Magic)
	assert.Equal(t, byte(0x53), h.Version)
	assert.Equal(t, byte(0), h.Format)
	assert.Equal(t, [5]byte{4, 8, 4, 8, 8}, h.Sizes)
	assert.Equal(t, int64(0x5678), h.IntCheck)
	assert.Equal(t, 370.5, h.NumCheck)
}

func TestValidateAcceptsOwnOutput(t *testing.T) {
	p := emptyProto()
	p.Code = []vm.Instruction{
		vm.ABx(vm.OpLoadK, 0, 0),
		vm.ABC(vm.OpReturn, 0, 1, 0),
	}
	p.Consts = []vm.Constant{vm.StringConstant("print", 0)}
	data, err := Emit(p)
	require.NoError(t, err)
	assert.NoError(t, Validate(data))
}

func TestValidateRejectsGarbage(t *testing.T) {
	assert.Error(t, Validate([]byte("not a luac image")))
	assert.Error(t, Validate(nil))

	// Corrupt the version byte of a valid image.
	data, err := Emit(emptyProto())
	require.NoError(t, err)
	data[4] = 0x52
	assert.Error(t, Validate(data))
}

func TestEmitRejectsInvalidProto(t *testing.T) {
	p := emptyProto()
	p.MaxStack = 0
	_, err := Emit(p)
	assert.Error(t, err)

	p = emptyProto()
	p.Code = []vm.Instruction{vm.ABx(vm.OpLoadK, 0, 3)} // no constants
	_, err = Emit(p)
	assert.Error(t, err)
}

func TestInstructionEncodingRoundTrip(t *testing.T) {
	cases := []vm.Instruction{
		vm.ABC(vm.OpMove, 0, 1, 0),
		vm.ABC(vm.OpAdd, 255, 511, 511),
		vm.ABC(vm.OpCall, 3, 2, 1),
		vm.ABC(vm.OpReturn, 0, 1, 0),
		vm.ABx(vm.OpLoadK, 7, 0),
		vm.ABx(vm.OpLoadK, 0, 1<<18-1),
		vm.ABx(vm.OpClosure, 2, 5),
		vm.AsBx(vm.OpJmp, 0, 0),
		vm.AsBx(vm.OpJmp, 0, -131071),
		vm.AsBx(vm.OpJmp, 0, 131072),
		vm.AsBx(vm.OpForLoop, 4, -2),
		vm.Ax(vm.OpExtraArg, 1<<26-1),
	}
	for _, in := range cases {
		word, err := EncodeInstruction(in)
		require.NoError(t, err, "in=%v", in)
		got := DecodeInstruction(word)
		got.Line = in.Line
		assert.Equal(t, in, got, "in=%v", in)
	}
}

func TestInstructionEncodingRejectsOutOfRange(t *testing.T) {
	cases := []vm.Instruction{
		vm.ABC(vm.OpMove, 256, 0, 0),
		vm.ABC(vm.OpMove, 0, 512, 0),
		vm.ABC(vm.OpMove, 0, 0, 512),
		vm.ABx(vm.OpLoadK, 0, 1<<18),
		vm.AsBx(vm.OpJmp, 0, 131073),
		vm.AsBx(vm.OpJmp, 0, -131072),
		vm.Ax(vm.OpExtraArg, 1<<26),
	}
	for _, in := range cases {
		_, err := EncodeInstruction(in)
		assert.Error(t, err, "in=%v", in)
	}
}

func TestConstantSerialization(t *testing.T) {
	p := emptyProto()
	p.Consts = []vm.Constant{
		vm.NilConstant(0),
		vm.BoolConstant(true, 1),
		vm.IntConstant(-42, 2),
		vm.FloatConstant(1.5, 3),
		vm.StringConstant("hello", 4),
	}
	data, err := Emit(p)
	require.NoError(t, err)
	require.NoError(t, Validate(data))

	// The constant section starts after header, upvalue-count byte,
	// function prefix, and the (empty) code array; locate the tags by
	// scanning for the known sequence instead of hand-computing offsets.
	assert.Contains(t, string(data), "\x04\x06hello", "tagged string constant present")
}

func TestEmptyStringEncodesAsZeroByte(t *testing.T) {
	p := emptyProto()
	p.Source = ""
	data, err := Emit(p)
	require.NoError(t, err)
	// Byte right after the main upvalue count is the source string size.
	assert.Equal(t, byte(0), data[headerSize+1])
}

func TestDeterministicOutput(t *testing.T) {
	p := emptyProto()
	p.Code = []vm.Instruction{vm.ABC(vm.OpReturn, 0, 1, 0)}
	a, err := Emit(p)
	require.NoError(t, err)
	b, err := Emit(p)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNestedProtos(t *testing.T) {
	inner := emptyProto()
	inner.Source = ""
	inner.Upvals = nil
	inner.Code = []vm.Instruction{vm.ABC(vm.OpReturn, 0, 1, 0)}

	p := emptyProto()
	p.Nested = []*vm.Proto{inner}
	p.Code = []vm.Instruction{
		vm.ABx(vm.OpClosure, 0, 0),
		vm.ABC(vm.OpReturn, 0, 1, 0),
	}
	data, err := Emit(p)
	require.NoError(t, err)
	assert.NoError(t, Validate(data))
}
