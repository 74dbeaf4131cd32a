// Package render pretty-prints a reconstructed prototype as readable Lua
// source for manual inspection. The rendition mirrors the lifted
// instructions one statement per line, with the recovered opcode mnemonics
// as trailing comments, and is syntax-checked with the gopher-lua parser.
package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yuin/gopher-lua/parse"

	"github.com/whit3rabbit/unluraph/internal/renamer"
	"github.com/whit3rabbit/unluraph/internal/vm"
)

// Render produces the source rendition. handlers supplies the recovered
// handler identities for the header block; rn maps their mangled names to
// stable readable ones.
func Render(proto *vm.Proto, handlers []*vm.Handler, rn *renamer.Renamer) string {
	var sb strings.Builder

	sb.WriteString("-- reconstructed by unluraph\n")
	sb.WriteString(fmt.Sprintf("-- %d instructions, %d constants\n", len(proto.Code), len(proto.Consts)))
	if len(handlers) > 0 {
		sb.WriteString("--\n-- handler map:\n")
		for _, h := range handlers {
			name := h.Name
			if name == "" {
				name = "(anonymous)"
			} else if rn != nil {
				name = rn.Rename(h.Name, renamer.TypeHandler)
			}
			sb.WriteString(fmt.Sprintf("--   [%d] %s = %s\n", h.Index, name, opName(h.Opcode)))
		}
	}
	sb.WriteString("\n")

	if len(proto.Consts) > 0 {
		sb.WriteString("local K = {\n")
		for _, k := range proto.Consts {
			sb.WriteString(fmt.Sprintf("  [%d] = %s,\n", k.PoolIndex, constantSource(k)))
		}
		sb.WriteString("}\n")
	} else {
		sb.WriteString("local K = {}\n")
	}
	sb.WriteString("local R = {}\n\n")

	for pc, in := range proto.Code {
		sb.WriteString(instructionSource(pc, in))
		sb.WriteString("\n")
	}
	return sb.String()
}

func opName(op vm.Opcode) string {
	if !op.Valid() {
		return "UNKNOWN"
	}
	return op.String()
}

func constantSource(k vm.Constant) string {
	switch k.Type {
	case vm.ConstNil:
		// nil cannot sit in a table constructor; false marks the empty slot.
		return "false"
	case vm.ConstBool:
		if k.Bool {
			return "true"
		}
		return "false"
	case vm.ConstNumber:
		if k.IsInteger {
			return strconv.FormatInt(k.Integer, 10)
		}
		return strconv.FormatFloat(k.Number, 'g', -1, 64)
	case vm.ConstString:
		return strconv.Quote(k.Str)
	}
	return "false"
}

func reg(i int) string { return fmt.Sprintf("R[%d]", i) }

var arithSource = map[vm.Opcode]string{
	vm.OpAdd: "+", vm.OpSub: "-", vm.OpMul: "*", vm.OpDiv: "/",
	vm.OpMod: "%", vm.OpPow: "^", vm.OpIDiv: "//", vm.OpConcat: "..",
	vm.OpBAnd: "&", vm.OpBOr: "|", vm.OpBXor: "~", vm.OpShl: "<<",
	vm.OpShr: ">>",
}

// instructionSource renders one instruction as a Lua statement, or as a
// comment line when the opcode has no direct statement form.
func instructionSource(pc int, in vm.Instruction) string {
	tag := fmt.Sprintf(" -- %s", opName(in.Opcode))
	switch in.Opcode {
	case vm.OpMove:
		return reg(in.A) + " = " + reg(in.B) + tag
	case vm.OpLoadK:
		return fmt.Sprintf("%s = K[%d]%s", reg(in.A), in.Bx, tag)
	case vm.OpLoadBool:
		v := "false"
		if in.B != 0 {
			v = "true"
		}
		return reg(in.A) + " = " + v + tag
	case vm.OpLoadNil:
		return reg(in.A) + " = nil" + tag
	case vm.OpNewTable:
		return reg(in.A) + " = {}" + tag
	case vm.OpGetTable:
		return fmt.Sprintf("%s = %s[%s]%s", reg(in.A), reg(in.B), reg(in.C), tag)
	case vm.OpSetTable:
		return fmt.Sprintf("%s[%s] = %s%s", reg(in.A), reg(in.B), reg(in.C), tag)
	case vm.OpLen:
		return fmt.Sprintf("%s = #%s%s", reg(in.A), reg(in.B), tag)
	case vm.OpNot:
		return fmt.Sprintf("%s = not %s%s", reg(in.A), reg(in.B), tag)
	case vm.OpUnm:
		return fmt.Sprintf("%s = -%s%s", reg(in.A), reg(in.B), tag)
	case vm.OpCall:
		var args []string
		for i := 1; i < in.B; i++ {
			args = append(args, reg(in.A+i))
		}
		return fmt.Sprintf("%s(%s)%s", reg(in.A), strings.Join(args, ", "), tag)
	case vm.OpReturn:
		switch {
		case in.B == 1:
			return "-- return" + tag
		case in.B >= 2:
			var vals []string
			for i := 0; i < in.B-1; i++ {
				vals = append(vals, reg(in.A+i))
			}
			return fmt.Sprintf("-- return %s%s", strings.Join(vals, ", "), tag)
		default:
			return "-- return ..." + tag
		}
	case vm.OpJmp:
		return fmt.Sprintf("-- jump %+d (to pc %d)%s", in.SBx, pc+1+in.SBx, tag)
	default:
		if op, ok := arithSource[in.Opcode]; ok {
			return fmt.Sprintf("%s = %s %s %s%s", reg(in.A), reg(in.B), op, reg(in.C), tag)
		}
		return fmt.Sprintf("-- %s %d %d %d", opName(in.Opcode), in.A, in.B, in.C)
	}
}

// CheckSyntax parses the rendition with the gopher-lua front end. A failure
// is a warning signal, never a reason to discard the rendition.
func CheckSyntax(src string) error {
	_, err := parse.Parse(strings.NewReader(src), "rendition")
	if err != nil {
		return fmt.Errorf("rendition failed the syntax check: %w", err)
	}
	return nil
}
