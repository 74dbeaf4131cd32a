// Package emitter serializes a reconstructed prototype into a Lua 5.3
// compiled chunk, little-endian, and validates the produced image.
package emitter

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/whit3rabbit/unluraph/internal/vm"
)

// Header constants of the Lua 5.3 chunk format.
const (
	Signature   = "\x1bLua" // 1B 4C 75 61
	Magic       = 0x1B4C7561
	Version     = 0x53
	Format      = 0
	IntCheck    = int64(0x5678)
	NumCheck    = float64(370.5)
	maxShortStr = 253 // u8 size encodes len+1
)

// luacData is the corruption-detection filler after the format byte.
var luacData = []byte{0x19, 0x93, 0x0D, 0x0A, 0x1A, 0x0A}

// sizeBytes records the width of int, size_t, Instruction, lua_Integer and
// lua_Number in the emitted image.
var sizeBytes = []byte{4, 8, 4, 8, 8}

// Constant tags in the emitted image.
const (
	tagNil     = 0
	tagBool    = 1
	tagInteger = 3
	tagFloat   = 19
	tagString  = 4
)

// Emit serializes the prototype into a .luac image. The buffer grows as
// needed and the used prefix is returned.
func Emit(p *vm.Proto) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid proto: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(Signature)
	buf.WriteByte(Version)
	buf.WriteByte(Format)
	buf.Write(luacData)
	buf.Write(sizeBytes)
	writeU64(&buf, uint64(IntCheck))
	writeU64(&buf, math.Float64bits(NumCheck))
	// Upvalue count of the main closure, read by the loader before the
	// function body.
	buf.WriteByte(byte(len(p.Upvals)))
	if err := writeFunction(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

// writeString emits the short-string form: a size byte holding len+1, then
// the raw bytes. The null terminator is implicit; empty strings are the
// single byte 0.
func writeString(buf *bytes.Buffer, s string) error {
	if s == "" {
		buf.WriteByte(0)
		return nil
	}
	if len(s) > maxShortStr {
		return fmt.Errorf("string constant of %d bytes exceeds the short-string limit", len(s))
	}
	buf.WriteByte(byte(len(s) + 1))
	buf.WriteString(s)
	return nil
}

func writeFunction(buf *bytes.Buffer, p *vm.Proto) error {
	if err := writeString(buf, p.Source); err != nil {
		return err
	}
	writeU32(buf, uint32(p.LineDefined))
	writeU32(buf, uint32(p.LastLineDefined))
	buf.WriteByte(byte(p.NumParams))
	if p.IsVararg {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	buf.WriteByte(byte(p.MaxStack))

	// Code.
	writeU32(buf, uint32(len(p.Code)))
	for pc, in := range p.Code {
		word, err := EncodeInstruction(in)
		if err != nil {
			return fmt.Errorf("pc %d: %w", pc, err)
		}
		writeU32(buf, word)
	}

	// Constants.
	writeU32(buf, uint32(len(p.Consts)))
	for _, k := range p.Consts {
		if err := writeConstant(buf, k); err != nil {
			return err
		}
	}

	// Upvalues.
	writeU32(buf, uint32(len(p.Upvals)))
	for _, uv := range p.Upvals {
		if uv.IsLocal {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		buf.WriteByte(byte(uv.Register))
	}

	// Nested prototypes.
	writeU32(buf, uint32(len(p.Nested)))
	for _, nested := range p.Nested {
		if err := writeFunction(buf, nested); err != nil {
			return err
		}
	}

	// Debug: line info aligned with code, no locals, upvalue names.
	writeU32(buf, uint32(len(p.Code)))
	for _, in := range p.Code {
		writeU32(buf, uint32(in.Line))
	}
	writeU32(buf, 0) // locals
	writeU32(buf, uint32(len(p.Upvals)))
	for _, uv := range p.Upvals {
		if err := writeString(buf, uv.Name); err != nil {
			return err
		}
	}
	return nil
}

func writeConstant(buf *bytes.Buffer, k vm.Constant) error {
	switch k.Type {
	case vm.ConstNil:
		buf.WriteByte(tagNil)
	case vm.ConstBool:
		buf.WriteByte(tagBool)
		if k.Bool {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case vm.ConstNumber:
		if k.IsInteger {
			buf.WriteByte(tagInteger)
			writeU64(buf, uint64(k.Integer))
		} else {
			buf.WriteByte(tagFloat)
			writeU64(buf, math.Float64bits(k.Number))
		}
	case vm.ConstString:
		buf.WriteByte(tagString)
		return writeString(buf, k.Str)
	default:
		return fmt.Errorf("constant %d: unknown type %d", k.PoolIndex, k.Type)
	}
	return nil
}

// --- Instruction encoding ---

// Operand field limits of the 32-bit instruction word.
const (
	maxA   = 1<<8 - 1
	maxB   = 1<<9 - 1
	maxC   = 1<<9 - 1
	maxBx  = 1<<18 - 1
	maxAx  = 1<<26 - 1
	sbxMax = maxBx - sbxBias // +131072
	sbxMin = -sbxBias        // -131071
	sbxBias = 1<<17 - 1      // 131071
)

// EncodeInstruction packs an instruction into its 32-bit word. The form is
// chosen from which extended operand the instruction carries, cross-checked
// against the opcode's encoding table.
func EncodeInstruction(in vm.Instruction) (uint32, error) {
	if !in.Opcode.Valid() {
		return 0, fmt.Errorf("invalid opcode %d", int(in.Opcode))
	}
	op := uint32(in.Opcode)
	switch {
	case in.HasAx:
		if in.Ax < 0 || in.Ax > maxAx {
			return 0, fmt.Errorf("%s: ax %d out of range", in.Opcode, in.Ax)
		}
		return op | uint32(in.Ax)<<6, nil
	case in.HasBx:
		if err := checkA(in); err != nil {
			return 0, err
		}
		if in.Bx < 0 || in.Bx > maxBx {
			return 0, fmt.Errorf("%s: bx %d out of range", in.Opcode, in.Bx)
		}
		return op | uint32(in.A)<<6 | uint32(in.Bx)<<14, nil
	case in.HasSBx:
		if err := checkA(in); err != nil {
			return 0, err
		}
		if in.SBx < sbxMin || in.SBx > sbxMax {
			return 0, fmt.Errorf("%s: sbx %d out of range", in.Opcode, in.SBx)
		}
		return op | uint32(in.A)<<6 | uint32(in.SBx+sbxBias)<<14, nil
	default:
		if err := checkA(in); err != nil {
			return 0, err
		}
		if in.B < 0 || in.B > maxB {
			return 0, fmt.Errorf("%s: b %d out of range", in.Opcode, in.B)
		}
		if in.C < 0 || in.C > maxC {
			return 0, fmt.Errorf("%s: c %d out of range", in.Opcode, in.C)
		}
		return op | uint32(in.A)<<6 | uint32(in.C)<<14 | uint32(in.B)<<23, nil
	}
}

func checkA(in vm.Instruction) error {
	if in.A < 0 || in.A > maxA {
		return fmt.Errorf("%s: a %d out of range", in.Opcode, in.A)
	}
	return nil
}

// DecodeInstruction unpacks a 32-bit word using the opcode's encoding form.
func DecodeInstruction(word uint32) vm.Instruction {
	op := vm.Opcode(word & 0x3F)
	switch op.EncodingForm() {
	case vm.FormAx:
		return vm.Ax(op, int(word>>6))
	case vm.FormABx:
		return vm.ABx(op, int(word>>6&0xFF), int(word>>14))
	case vm.FormAsBx:
		return vm.AsBx(op, int(word>>6&0xFF), int(word>>14)-sbxBias)
	default:
		return vm.ABC(op, int(word>>6&0xFF), int(word>>23&0x1FF), int(word>>14&0x1FF))
	}
}
