package vm

import (
	"fmt"
	"sort"
)

// ConstantType discriminates the payload of a Constant.
type ConstantType int

const (
	ConstNil ConstantType = iota
	ConstBool
	ConstNumber
	ConstString
)

func (t ConstantType) String() string {
	switch t {
	case ConstNil:
		return "nil"
	case ConstBool:
		return "bool"
	case ConstNumber:
		return "number"
	case ConstString:
		return "string"
	}
	return "invalid"
}

// Constant is one entry of a prototype's constant pool. PoolIndex values are
// dense and start at zero.
type Constant struct {
	Type      ConstantType
	Bool      bool
	Number    float64
	IsInteger bool
	Integer   int64
	Str       string
	PoolIndex int
}

// Equal reports whether two constants have the same type and value, ignoring
// the pool index. The reconstructor uses it for constant deduplication.
func (c Constant) Equal(other Constant) bool {
	if c.Type != other.Type {
		return false
	}
	switch c.Type {
	case ConstNil:
		return true
	case ConstBool:
		return c.Bool == other.Bool
	case ConstNumber:
		if c.IsInteger != other.IsInteger {
			return false
		}
		if c.IsInteger {
			return c.Integer == other.Integer
		}
		return c.Number == other.Number
	case ConstString:
		return c.Str == other.Str
	}
	return false
}

func (c Constant) String() string {
	switch c.Type {
	case ConstNil:
		return "nil"
	case ConstBool:
		return fmt.Sprintf("%t", c.Bool)
	case ConstNumber:
		if c.IsInteger {
			return fmt.Sprintf("%d", c.Integer)
		}
		return fmt.Sprintf("%g", c.Number)
	case ConstString:
		return fmt.Sprintf("%q", c.Str)
	}
	return "?"
}

// NilConstant returns a nil-typed constant for the given pool slot.
func NilConstant(index int) Constant { return Constant{Type: ConstNil, PoolIndex: index} }

// BoolConstant returns a boolean constant for the given pool slot.
func BoolConstant(v bool, index int) Constant {
	return Constant{Type: ConstBool, Bool: v, PoolIndex: index}
}

// IntConstant returns an integer constant for the given pool slot.
func IntConstant(v int64, index int) Constant {
	return Constant{Type: ConstNumber, IsInteger: true, Integer: v, PoolIndex: index}
}

// FloatConstant returns a float constant for the given pool slot.
func FloatConstant(v float64, index int) Constant {
	return Constant{Type: ConstNumber, Number: v, PoolIndex: index}
}

// StringConstant returns a string constant for the given pool slot.
func StringConstant(s string, index int) Constant {
	return Constant{Type: ConstString, Str: s, PoolIndex: index}
}

// Instruction is one reconstructed Lua 5.3 instruction. Exactly one of the
// extended operand fields (Bx, SBx, Ax) is meaningful, selected by HasBx,
// HasSBx, and HasAx; when none is set the instruction is plain ABC.
type Instruction struct {
	Opcode  Opcode
	A, B, C int
	Bx      int
	SBx     int
	Ax      int
	HasBx   bool
	HasSBx  bool
	HasAx   bool
	Line    int
}

// ABC builds a plain three-operand instruction.
func ABC(op Opcode, a, b, c int) Instruction {
	return Instruction{Opcode: op, A: a, B: b, C: c}
}

// ABx builds an instruction with an 18-bit unsigned extended operand.
func ABx(op Opcode, a, bx int) Instruction {
	return Instruction{Opcode: op, A: a, Bx: bx, HasBx: true}
}

// AsBx builds an instruction with a signed extended operand.
func AsBx(op Opcode, a, sbx int) Instruction {
	return Instruction{Opcode: op, A: a, SBx: sbx, HasSBx: true}
}

// Ax builds an instruction with a 26-bit extended operand.
func Ax(op Opcode, ax int) Instruction {
	return Instruction{Opcode: op, Ax: ax, HasAx: true}
}

func (in Instruction) String() string {
	switch {
	case in.HasBx:
		return fmt.Sprintf("%-9s %d %d", in.Opcode, in.A, in.Bx)
	case in.HasSBx:
		return fmt.Sprintf("%-9s %d %d", in.Opcode, in.A, in.SBx)
	case in.HasAx:
		return fmt.Sprintf("%-9s %d", in.Opcode, in.Ax)
	default:
		return fmt.Sprintf("%-9s %d %d %d", in.Opcode, in.A, in.B, in.C)
	}
}

// Upvalue describes one upvalue slot of a prototype.
type Upvalue struct {
	Name     string
	IsLocal  bool
	Register int
}

// Proto is a reconstructed Lua 5.3 function prototype, the emitter's input.
type Proto struct {
	Source          string
	LineDefined     int
	LastLineDefined int
	NumParams       int
	IsVararg        bool
	MaxStack        int
	Code            []Instruction
	Consts          []Constant
	Upvals          []Upvalue
	Nested          []*Proto
}

// Validate checks the structural invariants the emitter relies on: a sane
// stack size, in-range constant references, in-range jump targets, and
// in-range closure references.
func (p *Proto) Validate() error {
	if p.MaxStack < 2 {
		return fmt.Errorf("max stack %d below minimum of 2", p.MaxStack)
	}
	for pc, in := range p.Code {
		switch in.Opcode {
		case OpLoadK:
			if in.Bx < 0 || in.Bx >= len(p.Consts) {
				return fmt.Errorf("pc %d: LOADK references constant %d of %d", pc, in.Bx, len(p.Consts))
			}
		case OpJmp:
			target := pc + 1 + in.SBx
			if target < 0 || target > len(p.Code) {
				return fmt.Errorf("pc %d: JMP lands at %d outside [0,%d]", pc, target, len(p.Code))
			}
		case OpClosure:
			if in.Bx < 0 || in.Bx >= len(p.Nested) {
				return fmt.Errorf("pc %d: CLOSURE references proto %d of %d", pc, in.Bx, len(p.Nested))
			}
		}
	}
	for i, k := range p.Consts {
		if k.PoolIndex != i {
			return fmt.Errorf("constant %d carries pool index %d", i, k.PoolIndex)
		}
	}
	for _, nested := range p.Nested {
		if err := nested.Validate(); err != nil {
			return fmt.Errorf("nested proto: %w", err)
		}
	}
	return nil
}

// Handler is a VM handler discovered in the obfuscated source. Identity is
// Index; the analyzer guarantees uniqueness per index.
type Handler struct {
	Index     int
	Name      string
	Opcode    Opcode
	BodyCode  string
	Encrypted bool
	Decrypted string
}

// Body returns the decrypted handler body when one exists, the raw body
// otherwise.
func (h *Handler) Body() string {
	if h.Encrypted && h.Decrypted != "" {
		return h.Decrypted
	}
	return h.BodyCode
}

// SortHandlers orders handlers by index so that emission order is stable.
func SortHandlers(handlers []*Handler) {
	sort.Slice(handlers, func(i, j int) bool { return handlers[i].Index < handlers[j].Index })
}
