package analyzer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/whit3rabbit/unluraph/internal/parser"
)

// SerializeBlock renders a handler body back to compact Lua-like text, one
// statement per line. The reconstructor works from these strings so it never
// has to carry AST references across the pass boundary.
func SerializeBlock(blk *parser.Block) string {
	var sb strings.Builder
	writeBlock(&sb, blk, 0)
	return strings.TrimRight(sb.String(), "\n")
}

func writeBlock(sb *strings.Builder, blk *parser.Block, depth int) {
	if blk == nil {
		return
	}
	for _, stmt := range blk.Stmts {
		writeStmt(sb, stmt, depth)
	}
}

func indent(sb *strings.Builder, depth int) {
	for i := 0; i < depth; i++ {
		sb.WriteString("  ")
	}
}

func writeStmt(sb *strings.Builder, stmt parser.Stmt, depth int) {
	indent(sb, depth)
	switch s := stmt.(type) {
	case *parser.Assign:
		if s.IsLocal {
			sb.WriteString("local ")
		}
		for i, t := range s.Targets {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(ExprString(t))
		}
		if len(s.Values) > 0 {
			sb.WriteString(" = ")
			for i, v := range s.Values {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(ExprString(v))
			}
		}
		sb.WriteString("\n")
	case *parser.ExprStmt:
		sb.WriteString(ExprString(s.X))
		sb.WriteString("\n")
	case *parser.Return:
		sb.WriteString("return")
		for i, a := range s.Args {
			if i == 0 {
				sb.WriteString(" ")
			} else {
				sb.WriteString(", ")
			}
			sb.WriteString(ExprString(a))
		}
		sb.WriteString("\n")
	case *parser.If:
		sb.WriteString("if ")
		sb.WriteString(ExprString(s.Cond))
		sb.WriteString(" then\n")
		writeBlock(sb, s.Then, depth+1)
		if s.Else != nil {
			indent(sb, depth)
			sb.WriteString("else\n")
			writeStmt(sb, s.Else, depth+1)
		}
		indent(sb, depth)
		sb.WriteString("end\n")
	case *parser.While:
		sb.WriteString("while ")
		sb.WriteString(ExprString(s.Cond))
		sb.WriteString(" do\n")
		writeBlock(sb, s.Body, depth+1)
		indent(sb, depth)
		sb.WriteString("end\n")
	case *parser.Repeat:
		sb.WriteString("repeat\n")
		writeBlock(sb, s.Body, depth+1)
		indent(sb, depth)
		sb.WriteString("until ")
		sb.WriteString(ExprString(s.Cond))
		sb.WriteString("\n")
	case *parser.For:
		sb.WriteString("for ")
		sb.WriteString(strings.Join(s.Names, ", "))
		if s.Kind == parser.ForNumeric {
			sb.WriteString(" = ")
		} else {
			sb.WriteString(" in ")
		}
		for i, e := range s.Exprs {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(ExprString(e))
		}
		sb.WriteString(" do\n")
		writeBlock(sb, s.Body, depth+1)
		indent(sb, depth)
		sb.WriteString("end\n")
	case *parser.FunctionDecl:
		if s.IsLocal {
			sb.WriteString("local ")
		}
		sb.WriteString("function ")
		sb.WriteString(s.Name)
		writeFunctionTail(sb, s, depth)
	case *parser.Block:
		sb.WriteString("do\n")
		writeBlock(sb, s, depth+1)
		indent(sb, depth)
		sb.WriteString("end\n")
	case *parser.Break:
		sb.WriteString("break\n")
	case *parser.Goto:
		sb.WriteString("goto ")
		sb.WriteString(s.Label)
		sb.WriteString("\n")
	case *parser.Label:
		sb.WriteString("::")
		sb.WriteString(s.Name)
		sb.WriteString("::\n")
	default:
		sb.WriteString("-- <unknown statement>\n")
	}
}

func writeFunctionTail(sb *strings.Builder, fn *parser.FunctionDecl, depth int) {
	sb.WriteString("(")
	sb.WriteString(strings.Join(fn.Params, ", "))
	if fn.IsVararg {
		if len(fn.Params) > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("...")
	}
	sb.WriteString(")\n")
	writeBlock(sb, fn.Body, depth+1)
	indent(sb, depth)
	sb.WriteString("end\n")
}

// ExprString renders a single expression in source form.
func ExprString(expr parser.Expr) string {
	switch e := expr.(type) {
	case *parser.Literal:
		switch e.Kind {
		case parser.LiteralNil:
			return "nil"
		case parser.LiteralBool:
			if e.Bool {
				return "true"
			}
			return "false"
		case parser.LiteralNumber:
			if e.IsInt {
				return strconv.FormatInt(e.Int, 10)
			}
			return strconv.FormatFloat(e.Number, 'g', -1, 64)
		case parser.LiteralString:
			return strconv.Quote(e.Str)
		}
		return "nil"
	case *parser.Ident:
		return e.Name
	case *parser.Vararg:
		return "..."
	case *parser.Binary:
		if e.Op == "[]" {
			return ExprString(e.L) + "[" + ExprString(e.R) + "]"
		}
		return ExprString(e.L) + " " + e.Op + " " + ExprString(e.R)
	case *parser.Unary:
		if e.Op == "not" {
			return "not " + ExprString(e.Operand)
		}
		return e.Op + ExprString(e.Operand)
	case *parser.Call:
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			args[i] = ExprString(a)
		}
		return ExprString(e.Callee) + "(" + strings.Join(args, ", ") + ")"
	case *parser.TableCtor:
		fields := make([]string, len(e.Fields))
		for i, f := range e.Fields {
			switch {
			case f.Key == nil:
				fields[i] = ExprString(f.Value)
			default:
				fields[i] = "[" + ExprString(f.Key) + "] = " + ExprString(f.Value)
			}
		}
		return "{" + strings.Join(fields, ", ") + "}"
	case *parser.EncryptedString:
		return strconv.Quote(string(e.Bytes))
	case *parser.FunctionDecl:
		var sb strings.Builder
		sb.WriteString("function")
		writeFunctionTail(&sb, e, 0)
		return strings.TrimRight(sb.String(), "\n")
	case nil:
		return ""
	default:
		return fmt.Sprintf("--[[?%T]]", expr)
	}
}
