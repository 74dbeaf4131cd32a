package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors of the pipeline taxonomy. Callers discriminate with
// errors.Is / errors.As.
var (
	// ErrNotLuraph marks input that parses as Lua but fails the Luraph
	// marker gate. Informational; never retried.
	ErrNotLuraph = errors.New("input does not look Luraph-protected")

	// ErrDecryptionFailed marks a run where at least half of the constant
	// pool stayed encrypted under every algorithm.
	ErrDecryptionFailed = errors.New("constant decryption failed")

	// ErrCancelled is returned when the caller's cancellation flag is
	// observed at a stage boundary.
	ErrCancelled = errors.New("deobfuscation cancelled")
)

// InvalidLuaError is an unrecoverable lexer or parser failure, tagged with
// the position where recovery gave up.
type InvalidLuaError struct {
	Line int
	Col  int
	Msg  string
}

func (e *InvalidLuaError) Error() string {
	return fmt.Sprintf("invalid Lua at %d:%d: %s", e.Line, e.Col, e.Msg)
}

// EmitError is a validator rejection of the produced bytecode image.
type EmitError struct {
	Msg string
}

func (e *EmitError) Error() string {
	return "emit failed: " + e.Msg
}
