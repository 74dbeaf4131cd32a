package reconstructor

import "github.com/whit3rabbit/unluraph/internal/vm"

// Optimize runs the peephole rules in order until the code and constant
// pool stop changing: self-move removal, dead LOADK stores, duplicated
// arithmetic pairs, constant deduplication, and dead-code elimination.
func Optimize(code []vm.Instruction, consts []vm.Constant) ([]vm.Instruction, []vm.Constant) {
	for {
		before := len(code) + len(consts)
		code = removeSelfMoves(code)
		code = removeDeadLoadK(code)
		code = removeDuplicateArith(code)
		code, consts = dedupConstants(code, consts)
		code = eliminateDeadCode(code)
		if len(code)+len(consts) == before {
			return code, consts
		}
	}
}

func removeSelfMoves(code []vm.Instruction) []vm.Instruction {
	out := code[:0]
	for _, in := range code {
		if in.Opcode == vm.OpMove && in.A == in.B {
			continue
		}
		out = append(out, in)
	}
	return out
}

// removeDeadLoadK drops a LOADK immediately overwritten by another LOADK
// into the same register.
func removeDeadLoadK(code []vm.Instruction) []vm.Instruction {
	var out []vm.Instruction
	for i := 0; i < len(code); i++ {
		in := code[i]
		if in.Opcode == vm.OpLoadK && i+1 < len(code) {
			next := code[i+1]
			if next.Opcode == vm.OpLoadK && next.A == in.A {
				continue
			}
		}
		out = append(out, in)
	}
	return out
}

var arithOpcodes = map[vm.Opcode]bool{
	vm.OpAdd: true, vm.OpSub: true, vm.OpMul: true, vm.OpDiv: true,
	vm.OpMod: true, vm.OpPow: true, vm.OpConcat: true,
}

// removeDuplicateArith drops the second of two consecutive identical
// arithmetic instructions.
func removeDuplicateArith(code []vm.Instruction) []vm.Instruction {
	var out []vm.Instruction
	for i := 0; i < len(code); i++ {
		in := code[i]
		if i > 0 && arithOpcodes[in.Opcode] {
			prev := code[i-1]
			if prev.Opcode == in.Opcode && prev.A == in.A && prev.B == in.B && prev.C == in.C {
				continue
			}
		}
		out = append(out, in)
	}
	return out
}

// dedupConstants collapses (type, value)-equal constants and remaps every
// LOADK accordingly. Pool indices are re-densified.
func dedupConstants(code []vm.Instruction, consts []vm.Constant) ([]vm.Instruction, []vm.Constant) {
	remap := make(map[int]int, len(consts))
	var kept []vm.Constant
	for i, k := range consts {
		dup := -1
		for j, existing := range kept {
			if existing.Equal(k) {
				dup = j
				break
			}
		}
		if dup >= 0 {
			remap[i] = dup
			continue
		}
		k.PoolIndex = len(kept)
		remap[i] = len(kept)
		kept = append(kept, k)
	}
	if len(kept) == len(consts) {
		return code, consts
	}
	for i := range code {
		if code[i].Opcode == vm.OpLoadK {
			if to, ok := remap[code[i].Bx]; ok {
				code[i].Bx = to
			}
		}
	}
	return code, kept
}

// eliminateDeadCode keeps only instructions reachable by forward flow from
// pc 0. JMP contributes pc+1+sbx, RETURN contributes nothing, everything
// else falls through. Surviving JMP offsets are rewritten against the
// compacted layout.
func eliminateDeadCode(code []vm.Instruction) []vm.Instruction {
	if len(code) == 0 {
		return code
	}
	reachable := make([]bool, len(code))
	stack := []int{0}
	for len(stack) > 0 {
		pc := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if pc < 0 || pc >= len(code) || reachable[pc] {
			continue
		}
		reachable[pc] = true
		switch code[pc].Opcode {
		case vm.OpJmp:
			stack = append(stack, pc+1+code[pc].SBx)
		case vm.OpReturn:
		default:
			stack = append(stack, pc+1)
		}
	}

	keep := 0
	newIndex := make([]int, len(code))
	for pc := range code {
		if reachable[pc] {
			newIndex[pc] = keep
			keep++
		} else {
			newIndex[pc] = -1
		}
	}
	if keep == len(code) {
		return code
	}

	out := make([]vm.Instruction, 0, keep)
	for pc, in := range code {
		if !reachable[pc] {
			continue
		}
		if in.Opcode == vm.OpJmp {
			target := pc + 1 + in.SBx
			if target >= 0 && target < len(code) && newIndex[target] >= 0 {
				in.SBx = newIndex[target] - (newIndex[pc] + 1)
			}
		}
		out = append(out, in)
	}
	return out
}

// ComputeMaxStack derives the frame size: one past the highest written
// register, widened by CALL argument and result windows, and never below
// the Lua minimum of 2.
func ComputeMaxStack(code []vm.Instruction) int {
	max := 2
	grow := func(n int) {
		if n > max {
			max = n
		}
	}
	for _, in := range code {
		if in.Opcode.WritesA() {
			grow(in.A + 1)
		}
		if in.Opcode == vm.OpCall {
			if in.B > 0 {
				grow(in.A + in.B - 1)
			}
			if in.C > 0 {
				grow(in.A + in.C - 1)
			}
		}
	}
	return max
}
