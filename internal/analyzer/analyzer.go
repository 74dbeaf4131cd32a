// Package analyzer discovers the Luraph VM inside a parsed chunk: which
// functions are handlers, what encryption protects the constant pool, and
// which Lua 5.3 opcode each handler implements.
package analyzer

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/whit3rabbit/unluraph/internal/decryptor"
	"github.com/whit3rabbit/unluraph/internal/lexer"
	"github.com/whit3rabbit/unluraph/internal/parser"
	"github.com/whit3rabbit/unluraph/internal/vm"
)

// Options carries caller-pinned encryption parameters. Zero values mean
// "discover from the input".
type Options struct {
	Method  decryptor.Method
	Key     []byte
	IV      []byte
	Version string
}

// Analysis is the analyzer's output bundle. All state is per-invocation;
// concurrent analyses do not interfere.
type Analysis struct {
	Handlers           []*vm.Handler
	Constants          []vm.Constant
	Encryption         decryptor.Info
	ConstantsTotal     int
	ConstantsEncrypted int
	ConstantsDecrypted int
	ConstantsFailed    int
	Warnings           []string
}

// Analyze runs the three sub-passes over the chunk: handler extraction,
// encryption discovery, and opcode inference (with constant-pool
// decryption). source is the raw input text, used for key scanning when the
// AST carries no key-shaped literal.
func Analyze(chunk *parser.Block, source string, opts Options) *Analysis {
	a := &Analysis{}
	a.discoverEncryption(chunk, source, opts)
	a.extractHandlers(chunk)
	a.collectConstants(chunk)
	a.inferOpcodes()
	return a
}

// --- Sub-pass 1: handler extraction ---

func (a *Analysis) extractHandlers(chunk *parser.Block) {
	byIndex := make(map[int]*vm.Handler)
	var order []int

	parser.Walk(chunk, func(n parser.Node) {
		fn, ok := n.(*parser.FunctionDecl)
		if !ok || !fn.VMHandler {
			return
		}
		index := fn.HandlerIndex
		if index < 0 {
			index = parser.HandlerIndexFromName(fn.Name)
		}
		if index < 0 {
			index = hashName(fn.Name) % 1000
		}
		if _, dup := byIndex[index]; dup {
			a.warnf("handler index %d: duplicate handler %q ignored", index, fn.Name)
			return
		}
		h := &vm.Handler{Index: index, Name: fn.Name, Opcode: -1}
		if blob, ok := encryptedBody(fn); ok {
			h.Encrypted = true
			h.BodyCode = string(blob)
		} else {
			h.BodyCode = SerializeBlock(fn.Body)
		}
		byIndex[index] = h
		order = append(order, index)
	})

	for _, idx := range order {
		a.Handlers = append(a.Handlers, byIndex[idx])
	}
	vm.SortHandlers(a.Handlers)
}

// encryptedBody reports whether the handler body is a single encrypted
// payload rather than plain statements, and returns the ciphertext.
func encryptedBody(fn *parser.FunctionDecl) ([]byte, bool) {
	if fn.Body == nil || len(fn.Body.Stmts) != 1 {
		return nil, false
	}
	var enc *parser.EncryptedString
	switch s := fn.Body.Stmts[0].(type) {
	case *parser.ExprStmt:
		if call, ok := s.X.(*parser.Call); ok && len(call.Args) == 1 {
			enc, _ = call.Args[0].(*parser.EncryptedString)
		} else {
			enc, _ = s.X.(*parser.EncryptedString)
		}
	case *parser.Return:
		if len(s.Args) == 1 {
			enc, _ = s.Args[0].(*parser.EncryptedString)
		}
	}
	if enc == nil {
		return nil, false
	}
	return enc.Bytes, true
}

func hashName(name string) int {
	h := fnv.New32a()
	h.Write([]byte(name))
	return int(h.Sum32() & 0x7FFFFFFF)
}

// --- Sub-pass 2: encryption discovery ---

func (a *Analysis) discoverEncryption(chunk *parser.Block, source string, opts Options) {
	info := decryptor.Info{
		Method:  decryptor.MethodAuto,
		Key:     opts.Key,
		IV:      opts.IV,
		Version: opts.Version,
	}
	if opts.Method != "" {
		info.Method = opts.Method
	}

	if info.Key == nil {
		// First key-shaped string literal in the tree wins.
		parser.Walk(chunk, func(n parser.Node) {
			if info.Key != nil {
				return
			}
			lit, ok := n.(*parser.Literal)
			if !ok || lit.Kind != parser.LiteralString {
				return
			}
			if decryptor.LooksLikeKey(lit.Str) {
				info.Key = []byte(lit.Str)
			}
		})
	}
	if info.Key == nil {
		if candidates := decryptor.ScanKeys(source); len(candidates) > 0 {
			info.Key = candidates[0]
		}
	}

	if info.Version == "" {
		switch len(info.Key) {
		case 16:
			info.Version = "11.5"
		case 24:
			info.Version = "11.6"
		case 32:
			info.Version = "11.7"
		}
	}
	a.Encryption = info
}

// --- Constant pool ---

// collectConstants picks the largest annotated constant table in the chunk
// and lowers its fields to VM constants, decrypting encrypted entries.
func (a *Analysis) collectConstants(chunk *parser.Block) {
	var pool *parser.TableCtor
	parser.Walk(chunk, func(n parser.Node) {
		ctor, ok := n.(*parser.TableCtor)
		if !ok || !ctor.ConstantTable {
			return
		}
		if pool == nil || len(ctor.Fields) > len(pool.Fields) {
			pool = ctor
		}
	})
	if pool == nil {
		return
	}

	for i, field := range pool.Fields {
		a.ConstantsTotal++
		switch v := field.Value.(type) {
		case *parser.Literal:
			a.Constants = append(a.Constants, literalConstant(v, i))
		case *parser.EncryptedString:
			a.ConstantsEncrypted++
			r := a.decryptPayload(v)
			if r.OK {
				a.ConstantsDecrypted++
				a.Constants = append(a.Constants, vm.StringConstant(string(r.Plaintext), i))
			} else {
				a.ConstantsFailed++
				a.warnf("constant #%d: decryption failed, kept ciphertext", i)
				a.Constants = append(a.Constants, vm.StringConstant(string(v.Bytes), i))
			}
		default:
			// Unreachable for annotated tables; keep the slot dense anyway.
			a.Constants = append(a.Constants, vm.NilConstant(i))
		}
	}
}

func literalConstant(lit *parser.Literal, index int) vm.Constant {
	switch lit.Kind {
	case parser.LiteralNil:
		return vm.NilConstant(index)
	case parser.LiteralBool:
		return vm.BoolConstant(lit.Bool, index)
	case parser.LiteralNumber:
		if lit.IsInt {
			return vm.IntConstant(lit.Int, index)
		}
		return vm.FloatConstant(lit.Number, index)
	case parser.LiteralString:
		return vm.StringConstant(lit.Str, index)
	}
	return vm.NilConstant(index)
}

// decryptPayload decrypts one encrypted node, honouring a per-node method
// override when the node carries one.
func (a *Analysis) decryptPayload(enc *parser.EncryptedString) decryptor.Result {
	method := a.Encryption.Method
	if enc.Method != "" && enc.Method != "auto" {
		method = decryptor.Method(enc.Method)
	}
	return decryptor.Decrypt(enc.Bytes, a.Encryption.Key, method, a.Encryption.IV)
}

// --- Sub-pass 3: opcode inference ---

// nameRules is the ordered substring cascade. More specific rules come
// before the bare "table" catch-all so GETTABLE/SETTABLE are not shadowed.
var nameRules = []struct {
	subs []string
	op   vm.Opcode
}{
	{[]string{"move"}, vm.OpMove},
	{[]string{"copy"}, vm.OpMove},
	{[]string{"load", "const"}, vm.OpLoadK},
	{[]string{"load", "bool"}, vm.OpLoadBool},
	{[]string{"load", "nil"}, vm.OpLoadNil},
	{[]string{"call"}, vm.OpCall},
	{[]string{"return"}, vm.OpReturn},
	{[]string{"jump"}, vm.OpJmp},
	{[]string{"jmp"}, vm.OpJmp},
	{[]string{"add"}, vm.OpAdd},
	{[]string{"sub"}, vm.OpSub},
	{[]string{"mul"}, vm.OpMul},
	{[]string{"div"}, vm.OpDiv},
	{[]string{"mod"}, vm.OpMod},
	{[]string{"pow"}, vm.OpPow},
	{[]string{"concat"}, vm.OpConcat},
	{[]string{"get", "table"}, vm.OpGetTable},
	{[]string{"set", "table"}, vm.OpSetTable},
	{[]string{"newtable"}, vm.OpNewTable},
	{[]string{"table"}, vm.OpNewTable},
}

func (a *Analysis) inferOpcodes() {
	for _, h := range a.Handlers {
		if h.Encrypted {
			r := decryptor.Decrypt([]byte(h.BodyCode), a.Encryption.Key, a.Encryption.Method, a.Encryption.IV)
			if r.OK {
				h.Decrypted = string(r.Plaintext)
			} else {
				a.warnf("handler %d: body decryption failed", h.Index)
			}
		}
		h.Opcode = a.inferHandlerOpcode(h)
	}
}

func (a *Analysis) inferHandlerOpcode(h *vm.Handler) vm.Opcode {
	if op, ok := InferOpcodeFromName(h.Name); ok {
		return op
	}
	body := ParseFragment(h.Body())
	if op, ok := inferFromFirstStatement(body); ok {
		return op
	}
	if emitted, ok := Execute(body); ok {
		return emitted[len(emitted)-1].Opcode
	}
	return -1
}

// InferOpcodeFromName applies the handler-name substring heuristics.
func InferOpcodeFromName(name string) (vm.Opcode, bool) {
	lower := strings.ToLower(name)
	for _, rule := range nameRules {
		match := true
		for _, sub := range rule.subs {
			if !strings.Contains(lower, sub) {
				match = false
				break
			}
		}
		if match {
			return rule.op, true
		}
	}
	return -1, false
}

// inferFromFirstStatement applies the body-pattern rules to the first
// statement only, mirroring the quick check that precedes full symbolic
// execution.
func inferFromFirstStatement(body *parser.Block) (vm.Opcode, bool) {
	if body == nil || len(body.Stmts) == 0 {
		return -1, false
	}
	ctx := NewSymbolicContext()
	in, ok := ctx.runStmt(body.Stmts[0])
	if !ok {
		return -1, false
	}
	return in.Opcode, true
}

// ParseFragment lexes and parses a serialized handler body. Parse errors in
// fragments are tolerated; whatever statements survive recovery are
// returned.
func ParseFragment(src string) *parser.Block {
	blk, err := parser.Parse(lexer.Scan(src))
	if err != nil || blk == nil {
		return &parser.Block{}
	}
	return blk
}

func (a *Analysis) warnf(format string, args ...interface{}) {
	a.Warnings = append(a.Warnings, fmt.Sprintf(format, args...))
}
