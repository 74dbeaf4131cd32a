// Package reconstructor lifts analyzed VM handlers into Lua 5.3
// instructions and assembles the final function prototype. Symbolic
// execution is the primary lifting path; a cheap regex pass over the
// serialized handler body is the deliberate second chance, because handlers
// that defeat the executor are usually one-liners.
package reconstructor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/whit3rabbit/unluraph/internal/analyzer"
	"github.com/whit3rabbit/unluraph/internal/vm"
)

// Output is the reconstruction result plus its bookkeeping.
type Output struct {
	Proto                     *vm.Proto
	HandlersProcessed         int
	InstructionsReconstructed int
	Warnings                  []string
}

// Reconstruct lifts every handler to instructions (1:1 today; the lifting
// helper returns a slice so macro-op handlers stay representable), applies
// the peephole optimizer, and assembles the prototype. It does not call
// Validate; the emitter validates the prototype before serializing it.
func Reconstruct(a *analyzer.Analysis, sourceName string) *Output {
	out := &Output{}

	handlers := append([]*vm.Handler(nil), a.Handlers...)
	vm.SortHandlers(handlers)

	var code []vm.Instruction
	for _, h := range handlers {
		out.HandlersProcessed++
		lifted, ok := liftHandler(h)
		if !ok {
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("handler %d: unrecognized body, emitted MOVE 0 0 0 placeholder", h.Index))
		}
		for i := range lifted {
			// The handler index doubles as the line number so that source
			// order survives into the debug info.
			lifted[i].Line = h.Index
		}
		code = append(code, lifted...)
	}
	out.InstructionsReconstructed = len(code)

	consts := append([]vm.Constant(nil), a.Constants...)
	code, consts = Optimize(code, consts)

	proto := &vm.Proto{
		Source:    sourceName,
		NumParams: 0,
		IsVararg:  true,
		MaxStack:  ComputeMaxStack(code),
		Code:      code,
		Consts:    consts,
		// A Lua 5.3 main chunk closes over _ENV.
		Upvals: []vm.Upvalue{{Name: "_ENV", IsLocal: true, Register: 0}},
	}
	out.Proto = proto
	return out
}

// liftHandler returns the instruction sequence for one handler. ok is false
// when both lifting passes failed and the safe nop was substituted.
func liftHandler(h *vm.Handler) ([]vm.Instruction, bool) {
	body := analyzer.ParseFragment(h.Body())
	if emitted, ok := analyzer.Execute(body); ok {
		return []vm.Instruction{emitted[len(emitted)-1]}, true
	}
	if in, ok := liftByRegex(h.Body()); ok {
		return []vm.Instruction{in}, true
	}
	return []vm.Instruction{vm.ABC(vm.OpMove, 0, 0, 0)}, false
}

// Regex vocabulary, identical to the analyzer's body-pattern rules. The
// arithmetic form is matched first so the embedded register pair does not
// shadow it as a MOVE.
var (
	arithRE  = regexp.MustCompile(`R\[(\d+)\]\s*=\s*R\[(\d+)\]\s*(\.\.|[+\-*/%^])\s*R\[(\d+)\]`)
	loadkRE  = regexp.MustCompile(`R\[(\d+)\]\s*=\s*K\[(\d+)\]`)
	moveRE   = regexp.MustCompile(`R\[(\d+)\]\s*=\s*R\[(\d+)\]`)
	callRE   = regexp.MustCompile(`R\[(\d+)\]\(([^)]*)\)`)
	returnRE = regexp.MustCompile(`(?m)^\s*return\b`)
)

var arithByOp = map[string]vm.Opcode{
	"+": vm.OpAdd, "-": vm.OpSub, "*": vm.OpMul, "/": vm.OpDiv,
	"%": vm.OpMod, "^": vm.OpPow, "..": vm.OpConcat,
}

func liftByRegex(body string) (vm.Instruction, bool) {
	if m := arithRE.FindStringSubmatch(body); m != nil {
		return vm.ABC(arithByOp[m[3]], atoi(m[1]), atoi(m[2]), atoi(m[4])), true
	}
	if m := loadkRE.FindStringSubmatch(body); m != nil {
		return vm.ABx(vm.OpLoadK, atoi(m[1]), atoi(m[2])), true
	}
	if m := moveRE.FindStringSubmatch(body); m != nil {
		return vm.ABC(vm.OpMove, atoi(m[1]), atoi(m[2]), 0), true
	}
	if m := callRE.FindStringSubmatch(body); m != nil {
		nargs := 0
		if strings.TrimSpace(m[2]) != "" {
			nargs = strings.Count(m[2], ",") + 1
		}
		return vm.ABC(vm.OpCall, atoi(m[1]), nargs+1, 2), true
	}
	if returnRE.MatchString(body) {
		return vm.ABC(vm.OpReturn, 0, 1, 0), true
	}
	return vm.Instruction{}, false
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
