package parser

import (
	"regexp"
	"strconv"
	"strings"
)

// handlerNameRE matches the naming schemes Luraph uses for VM handler
// functions across the supported versions.
var handlerNameRE = regexp.MustCompile(`^(handler_\d+|vm_\w+|op_\w+|exec_\w+)`)

// dispatchOps are the opcode names whose presence in a callee name marks a
// call as VM dispatch.
var dispatchOps = []string{"MOVE", "LOADK", "CALL", "JMP"}

// firstDecimalRE extracts the first run of decimal digits from a name.
var firstDecimalRE = regexp.MustCompile(`\d+`)

// annotateHandler marks a completed FunctionDecl as a VM handler when its
// name or body matches the Luraph handler heuristics, and derives a handler
// index from the name when one is embedded.
func annotateHandler(fn *FunctionDecl) {
	if looksLikeHandlerName(fn.Name) || bodyHasDispatchCall(fn.Body) {
		fn.VMHandler = true
		fn.HandlerIndex = HandlerIndexFromName(fn.Name)
	}
}

func looksLikeHandlerName(name string) bool {
	if name == "" {
		return false
	}
	return handlerNameRE.MatchString(name) || len(name) >= 16
}

// HandlerIndexFromName extracts the first decimal run in a handler name, or
// -1 when the name carries no digits. The analyzer falls back to a name hash
// for the -1 case.
func HandlerIndexFromName(name string) int {
	m := firstDecimalRE.FindString(name)
	if m == "" {
		return -1
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return -1
	}
	return n
}

// bodyHasDispatchCall reports whether the body contains at least one call
// whose callee matches the handler-name prefixes, or whose shape (3+
// arguments to a long-named callee) suggests VM dispatch.
func bodyHasDispatchCall(body *Block) bool {
	if body == nil {
		return false
	}
	found := false
	walkBlock(body, func(n Node) {
		call, ok := n.(*Call)
		if !ok || found {
			return
		}
		name := call.CalleeName()
		if name != "" && handlerNameRE.MatchString(name) {
			found = true
			return
		}
		if len(call.Args) >= 3 && len(name) > 15 {
			found = true
		}
	})
	return found
}

// annotateCall sets the VM-call annotation by substring-matching the callee
// name against the known dispatch opcode names.
func annotateCall(call *Call) {
	name := strings.ToUpper(call.CalleeName())
	if name == "" {
		return
	}
	for _, op := range dispatchOps {
		if strings.Contains(name, op) {
			call.VMCall = true
			call.VMOp = op
			return
		}
	}
}

// annotateTable marks a completed table constructor as a packed constant
// pool: at least 6 fields, every field value a literal or an encrypted
// string.
func annotateTable(ctor *TableCtor) {
	if len(ctor.Fields) < 6 {
		return
	}
	for _, f := range ctor.Fields {
		switch f.Value.(type) {
		case *Literal, *EncryptedString:
		default:
			return
		}
	}
	ctor.ConstantTable = true
}

// walkBlock visits every node of a block in source order, exhaustively by
// node shape. Unknown shapes are unreachable because the node sum is closed.
func walkBlock(blk *Block, visit func(Node)) {
	if blk == nil {
		return
	}
	visit(blk)
	for _, stmt := range blk.Stmts {
		walkStmt(stmt, visit)
	}
}

func walkStmt(stmt Stmt, visit func(Node)) {
	if stmt == nil {
		return
	}
	switch s := stmt.(type) {
	case *Assign:
		visit(s)
		for _, t := range s.Targets {
			walkExpr(t, visit)
		}
		for _, v := range s.Values {
			walkExpr(v, visit)
		}
	case *Block:
		walkBlock(s, visit)
	case *FunctionDecl:
		visit(s)
		walkBlock(s.Body, visit)
	case *If:
		visit(s)
		walkExpr(s.Cond, visit)
		walkBlock(s.Then, visit)
		walkStmt(s.Else, visit)
	case *For:
		visit(s)
		for _, e := range s.Exprs {
			walkExpr(e, visit)
		}
		walkBlock(s.Body, visit)
	case *While:
		visit(s)
		walkExpr(s.Cond, visit)
		walkBlock(s.Body, visit)
	case *Repeat:
		visit(s)
		walkBlock(s.Body, visit)
		walkExpr(s.Cond, visit)
	case *Return:
		visit(s)
		for _, e := range s.Args {
			walkExpr(e, visit)
		}
	case *Break, *Goto, *Label:
		visit(s)
	case *ExprStmt:
		visit(s)
		walkExpr(s.X, visit)
	}
}

func walkExpr(expr Expr, visit func(Node)) {
	if expr == nil {
		return
	}
	switch e := expr.(type) {
	case *Literal, *Ident, *Vararg, *EncryptedString:
		visit(e)
	case *Binary:
		visit(e)
		walkExpr(e.L, visit)
		walkExpr(e.R, visit)
	case *Unary:
		visit(e)
		walkExpr(e.Operand, visit)
	case *Call:
		visit(e)
		walkExpr(e.Callee, visit)
		for _, a := range e.Args {
			walkExpr(a, visit)
		}
	case *TableCtor:
		visit(e)
		for _, f := range e.Fields {
			walkExpr(f.Key, visit)
			walkExpr(f.Value, visit)
		}
	case *FunctionDecl:
		visit(e)
		walkBlock(e.Body, visit)
	}
}

// Walk traverses the whole chunk. Exported for the analyzer and the
// orchestrator's marker gate.
func Walk(blk *Block, visit func(Node)) { walkBlock(blk, visit) }
