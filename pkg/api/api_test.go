package api

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whit3rabbit/unluraph/internal/config"
	"github.com/whit3rabbit/unluraph/internal/emitter"
	"github.com/whit3rabbit/unluraph/internal/vm"
)

func TestMain(m *testing.M) {
	config.Testing = true
	os.Exit(m.Run())
}

func newTestDeobfuscator(t *testing.T, opts Options) *Deobfuscator {
	t.Helper()
	opts.Silent = true
	d, err := NewDeobfuscator(opts)
	require.NoError(t, err)
	return d
}

// firstInstruction walks the emitted image to the main function's first
// code word: header, main upvalue count, source string, line/param prefix,
// then the code array.
func firstInstruction(t *testing.T, image []byte) vm.Instruction {
	t.Helper()
	require.NoError(t, emitter.Validate(image))
	off := 33 + 1 // header + main upvalue count
	strSize := int(image[off])
	off++
	if strSize > 0 {
		off += strSize - 1
	}
	off += 4 + 4 + 1 + 1 + 1 // lines, params, vararg, max stack
	codeLen := binary.LittleEndian.Uint32(image[off : off+4])
	require.NotZero(t, codeLen)
	off += 4
	return emitter.DecodeInstruction(binary.LittleEndian.Uint32(image[off : off+4]))
}

func TestNotLuraphGate(t *testing.T) {
	d := newTestDeobfuscator(t, Options{})
	_, err := d.DeobfuscateCode("print(\"hello\")\n")
	assert.ErrorIs(t, err, ErrNotLuraph)
}

func TestTrivialHandlerRecovery(t *testing.T) {
	d := newTestDeobfuscator(t, Options{})
	res, err := d.DeobfuscateCode(`
local function handler_1(...)
  R[0] = R[1]
end
`)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.HandlersProcessed)

	in := firstInstruction(t, res.Bytecode)
	assert.Equal(t, vm.OpMove, in.Opcode)
	assert.Equal(t, 0, in.A)
	assert.Equal(t, 1, in.B)
	assert.Equal(t, 0, in.C)
}

func TestLoadKThroughConstantPool(t *testing.T) {
	d := newTestDeobfuscator(t, Options{})
	res, err := d.DeobfuscateCode(`
local K = {"print", "a", "b", "c", "d", "e"}
local function handler_1(...)
  R[0] = K[0]
end
`)
	require.NoError(t, err)

	in := firstInstruction(t, res.Bytecode)
	assert.Equal(t, vm.OpLoadK, in.Opcode)
	assert.Equal(t, 0, in.A)
	assert.Equal(t, 0, in.Bx)

	assert.Contains(t, res.SourceCode, `[0] = "print"`)
	assert.Contains(t, res.SourceCode, "R[0] = K[0]")
}

func TestPartialDecryptionWarning(t *testing.T) {
	// One constant that decrypts under no algorithm; five that need no
	// decryption. Below the 50% threshold the run succeeds with a warning.
	d := newTestDeobfuscator(t, Options{})
	res, err := d.DeobfuscateCode(`
local K = {"\x01\x02\x9F\xFF\x80\x81", "a", "b", "c", "d", "e"}
local function handler_1(...)
  R[0] = K[0]
end
`)
	require.NoError(t, err)
	found := false
	for _, w := range res.Stats.Warnings {
		if w == "constant #0: decryption failed, kept ciphertext" {
			found = true
		}
	}
	assert.True(t, found, "warnings: %v", res.Stats.Warnings)
}

func TestHeaderRoundTripThroughAPI(t *testing.T) {
	d := newTestDeobfuscator(t, Options{})
	res, err := d.DeobfuscateCode(`
local function handler_1(...)
  R[0] = R[1]
end
`)
	require.NoError(t, err)
	h, err := emitter.ReadHeader(res.Bytecode)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1B4C7561), h.Magic)
	assert.Equal(t, byte(0x53), h.Version)
	assert.Equal(t, int64(0x5678), h.IntCheck)
	assert.Equal(t, 370.5, h.NumCheck)
}

func TestDeobfuscateFileToFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "protected.lua")
	outSrc := filepath.Join(dir, "out", "clean.lua")
	outBin := filepath.Join(dir, "out", "clean.luac")
	require.NoError(t, os.WriteFile(input, []byte(`
local function handler_1(...)
  R[0] = R[1]
end
`), 0644))

	d := newTestDeobfuscator(t, Options{})
	require.NoError(t, d.DeobfuscateFileToFile(input, outSrc, outBin))

	src, err := os.ReadFile(outSrc)
	require.NoError(t, err)
	assert.Contains(t, string(src), "R[0] = R[1]")

	bin, err := os.ReadFile(outBin)
	require.NoError(t, err)
	assert.NoError(t, emitter.Validate(bin))
}

func TestDeobfuscateFileMissing(t *testing.T) {
	d := newTestDeobfuscator(t, Options{})
	_, err := d.DeobfuscateFile(filepath.Join(t.TempDir(), "absent.lua"))
	assert.Error(t, err)
}

func TestDetect(t *testing.T) {
	d := newTestDeobfuscator(t, Options{})
	det, err := d.Detect("-- protected using luraph\nR[0] = K[1]\n")
	require.NoError(t, err)
	assert.True(t, det.IsLuraph)
	assert.NotEmpty(t, det.Markers)

	det, err = d.Detect("local x = 1\n")
	require.NoError(t, err)
	assert.False(t, det.IsLuraph)
}

func TestProgressCallback(t *testing.T) {
	var steps []string
	d := newTestDeobfuscator(t, Options{
		Progress: func(ev ProgressEvent) { steps = append(steps, ev.Step) },
	})
	_, err := d.DeobfuscateCode(`
local function handler_1(...)
  R[0] = R[1]
end
`)
	require.NoError(t, err)
	require.NotEmpty(t, steps)
	assert.Equal(t, "lex", steps[0])
	assert.Equal(t, "emit", steps[len(steps)-1])
}

func TestLookupOriginalName(t *testing.T) {
	d := newTestDeobfuscator(t, Options{})
	res, err := d.DeobfuscateCode(`
local function IlIlIlIlIlIlIlIlIlIl(...)
  R[0] = R[1]
end
`)
	require.NoError(t, err)
	assert.Contains(t, res.SourceCode, "op_1")

	orig, err := d.LookupOriginalName("op_1")
	require.NoError(t, err)
	assert.Equal(t, "IlIlIlIlIlIlIlIlIlIl", orig)
}
