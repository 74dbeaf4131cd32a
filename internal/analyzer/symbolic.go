package analyzer

import (
	"github.com/whit3rabbit/unluraph/internal/parser"
	"github.com/whit3rabbit/unluraph/internal/vm"
)

// stepCap bounds how many statements one symbolic run may interpret, so a
// pathological handler cannot stall the pipeline.
const stepCap = 1000

// SymValue is an opaque abstract value tracked by the executor: where it
// came from and, when known, which slot.
type SymValue struct {
	From  string // "reg", "const", "global", "unknown"
	Index int
	Name  string
}

// SymbolicContext is the per-run state of the symbolic executor.
type SymbolicContext struct {
	Registers map[int]SymValue
	Constants map[int]SymValue
	Globals   map[string]SymValue
	PC        int
	steps     int
}

// NewSymbolicContext returns an empty execution context.
func NewSymbolicContext() *SymbolicContext {
	return &SymbolicContext{
		Registers: make(map[int]SymValue),
		Constants: make(map[int]SymValue),
		Globals:   make(map[string]SymValue),
	}
}

var arithOps = map[string]vm.Opcode{
	"+":  vm.OpAdd,
	"-":  vm.OpSub,
	"*":  vm.OpMul,
	"/":  vm.OpDiv,
	"%":  vm.OpMod,
	"^":  vm.OpPow,
	"..": vm.OpConcat,
}

// Execute interprets a handler body abstractly and returns the instructions
// it emitted, in order. ok is false when nothing was recognized. Callers
// that lift handlers take the final fully-completed emission; the full
// sequence is returned so macro-op handlers stay representable.
func Execute(blk *parser.Block) ([]vm.Instruction, bool) {
	ctx := NewSymbolicContext()
	emitted := ctx.runBlock(blk)
	return emitted, len(emitted) > 0
}

func (ctx *SymbolicContext) runBlock(blk *parser.Block) []vm.Instruction {
	var out []vm.Instruction
	if blk == nil {
		return out
	}
	for _, stmt := range blk.Stmts {
		if ctx.steps >= stepCap {
			return out
		}
		ctx.steps++
		if in, ok := ctx.runStmt(stmt); ok {
			out = append(out, in)
			ctx.PC++
		}
	}
	return out
}

// runStmt interprets one statement. Statements whose register indices are
// not literal resolve to index -1 and are skipped.
func (ctx *SymbolicContext) runStmt(stmt parser.Stmt) (vm.Instruction, bool) {
	switch s := stmt.(type) {
	case *parser.Assign:
		if len(s.Targets) != 1 || len(s.Values) != 1 {
			return vm.Instruction{}, false
		}
		return ctx.runAssign(s.Targets[0], s.Values[0])
	case *parser.ExprStmt:
		call, ok := s.X.(*parser.Call)
		if !ok {
			return vm.Instruction{}, false
		}
		a, isReg := registerIndex(call.Callee)
		if !isReg || a < 0 {
			return vm.Instruction{}, false
		}
		ctx.Registers[a] = SymValue{From: "unknown"}
		return vm.ABC(vm.OpCall, a, len(call.Args)+1, 2), true
	case *parser.Return:
		return vm.ABC(vm.OpReturn, 0, 1, 0), true
	default:
		return vm.Instruction{}, false
	}
}

func (ctx *SymbolicContext) runAssign(target, value parser.Expr) (vm.Instruction, bool) {
	a, isReg := registerIndex(target)
	if !isReg || a < 0 {
		return vm.Instruction{}, false
	}

	switch v := value.(type) {
	case *parser.Binary:
		if v.Op == "[]" {
			if b, ok := registerIndex(v); ok {
				if b < 0 {
					return vm.Instruction{}, false
				}
				ctx.Registers[a] = ctx.Registers[b]
				return vm.ABC(vm.OpMove, a, b, 0), true
			}
			if b, ok := constantIndex(v); ok {
				if b < 0 {
					return vm.Instruction{}, false
				}
				ctx.Registers[a] = SymValue{From: "const", Index: b}
				return vm.ABx(vm.OpLoadK, a, b), true
			}
			return vm.Instruction{}, false
		}
		op, isArith := arithOps[v.Op]
		if !isArith {
			return vm.Instruction{}, false
		}
		b, bOK := registerIndex(v.L)
		c, cOK := registerIndex(v.R)
		if !bOK || !cOK || b < 0 || c < 0 {
			return vm.Instruction{}, false
		}
		ctx.Registers[a] = SymValue{From: "unknown"}
		return vm.ABC(op, a, b, c), true
	default:
		return vm.Instruction{}, false
	}
}

// registerIndex recognizes the R[i] shape. The second return is true when
// the expression is a register access at all; a non-literal subscript
// resolves to index -1, which callers treat as "skip this statement".
func registerIndex(expr parser.Expr) (int, bool) {
	return indexedAccess(expr, "R")
}

// constantIndex recognizes the K[i] shape.
func constantIndex(expr parser.Expr) (int, bool) {
	return indexedAccess(expr, "K")
}

func indexedAccess(expr parser.Expr, base string) (int, bool) {
	bin, ok := expr.(*parser.Binary)
	if !ok || bin.Op != "[]" {
		return 0, false
	}
	ident, ok := bin.L.(*parser.Ident)
	if !ok || ident.Name != base {
		return 0, false
	}
	lit, ok := bin.R.(*parser.Literal)
	if !ok || lit.Kind != parser.LiteralNumber || !lit.IsInt {
		return -1, true
	}
	return int(lit.Int), true
}
