// Package pipeline sequences the deobfuscation passes, reports progress,
// and classifies failures. It is the only component holding values across
// stage boundaries; every stage itself is pure.
package pipeline

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/whit3rabbit/unluraph/internal/analyzer"
	"github.com/whit3rabbit/unluraph/internal/decryptor"
	"github.com/whit3rabbit/unluraph/internal/emitter"
	"github.com/whit3rabbit/unluraph/internal/lexer"
	"github.com/whit3rabbit/unluraph/internal/parser"
	"github.com/whit3rabbit/unluraph/internal/reconstructor"
	"github.com/whit3rabbit/unluraph/internal/renamer"
	"github.com/whit3rabbit/unluraph/internal/render"
)

// ProgressEvent is delivered synchronously at each stage boundary.
// Fraction is monotonic over a run.
type ProgressEvent struct {
	Step     string
	Fraction float64
}

// The stage names in delivery order.
var progressSteps = []struct {
	name     string
	fraction float64
}{
	{"lex", 0.10},
	{"parse", 0.25},
	{"detect_vm", 0.40},
	{"find_encryption", 0.50},
	{"decrypt", 0.65},
	{"strip_antidecompile", 0.75},
	{"optimize", 0.85},
	{"emit", 1.00},
}

// Options configures one pipeline run.
type Options struct {
	Method     decryptor.Method
	Key        []byte
	IV         []byte
	Version    string
	SourceName string

	RenameEnabled bool
	Renamer       *renamer.Renamer

	Progress func(ProgressEvent)
	Cancel   *atomic.Bool
	Logger   *slog.Logger
}

// Stats summarizes a run for the caller.
type Stats struct {
	RunID                     string
	HandlersProcessed         int
	InstructionsReconstructed int
	ConstantsDecrypted        int
	LuraphVersion             string
	Warnings                  []string
}

// Result is the successful outcome of a run.
type Result struct {
	SourceCode string
	Bytecode   []byte
	Stats      Stats
}

// Run executes the full pipeline over one source text. The call is
// deterministic: the same source and options yield byte-identical output.
func Run(source string, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	runID := uuid.NewString()
	log = log.With("run_id", runID)

	result := &Result{Stats: Stats{RunID: runID}}
	stepIdx := 0
	step := func() error {
		s := progressSteps[stepIdx]
		stepIdx++
		if opts.Progress != nil {
			opts.Progress(ProgressEvent{Step: s.name, Fraction: s.fraction})
		}
		log.Debug("stage complete", "step", s.name)
		if opts.Cancel != nil && opts.Cancel.Load() {
			return ErrCancelled
		}
		return nil
	}

	// Lex.
	if strings.TrimSpace(source) == "" {
		return nil, &InvalidLuaError{Line: 1, Col: 1, Msg: "empty input"}
	}
	toks := lexer.Scan(source)
	if lexer.UnknownRatio(toks) > 0.05 {
		return nil, &InvalidLuaError{Line: 1, Col: 1, Msg: "input does not lex as Lua"}
	}
	if err := step(); err != nil {
		return nil, err
	}

	// Parse.
	chunk, err := parser.Parse(toks)
	if err != nil {
		var perr *parser.ParseError
		if errors.As(err, &perr) {
			return nil, &InvalidLuaError{Line: perr.At.Line, Col: perr.At.Column, Msg: perr.Error()}
		}
		return nil, &InvalidLuaError{Line: 1, Col: 1, Msg: err.Error()}
	}
	if err := step(); err != nil {
		return nil, err
	}

	// Gate + handler discovery.
	detection := detect(source, toks, chunk)
	if !detection.IsLuraph {
		return nil, ErrNotLuraph
	}
	if err := step(); err != nil {
		return nil, err
	}

	// Encryption discovery and constant decryption run inside the analyzer;
	// the two stage boundaries are still reported separately.
	analysis := analyzer.Analyze(chunk, source, analyzer.Options{
		Method:  opts.Method,
		Key:     opts.Key,
		IV:      opts.IV,
		Version: opts.Version,
	})
	result.Stats.LuraphVersion = analysis.Encryption.Version
	result.Stats.ConstantsDecrypted = analysis.ConstantsDecrypted
	result.Stats.Warnings = append(result.Stats.Warnings, analysis.Warnings...)
	if err := step(); err != nil { // find_encryption
		return nil, err
	}
	if analysis.ConstantsTotal > 0 && analysis.ConstantsFailed*2 >= analysis.ConstantsTotal {
		return nil, ErrDecryptionFailed
	}
	if err := step(); err != nil { // decrypt
		return nil, err
	}

	// Reconstruction: lifting plus the junk-stripping peephole rules.
	sourceName := opts.SourceName
	if sourceName == "" {
		sourceName = "@deobfuscated.lua"
	}
	recon := reconstructor.Reconstruct(analysis, sourceName)
	result.Stats.HandlersProcessed = recon.HandlersProcessed
	result.Stats.InstructionsReconstructed = recon.InstructionsReconstructed
	result.Stats.Warnings = append(result.Stats.Warnings, recon.Warnings...)
	if err := step(); err != nil { // strip_antidecompile
		return nil, err
	}
	if err := step(); err != nil { // optimize
		return nil, err
	}

	// Render the readable rendition.
	rn := opts.Renamer
	if rn == nil && opts.RenameEnabled {
		rn = renamer.New()
	}
	result.SourceCode = render.Render(recon.Proto, analysis.Handlers, rn)
	if err := render.CheckSyntax(result.SourceCode); err != nil {
		result.Stats.Warnings = append(result.Stats.Warnings, err.Error())
	}

	// Emit and validate the bytecode image.
	image, err := emitter.Emit(recon.Proto)
	if err != nil {
		return nil, &EmitError{Msg: err.Error()}
	}
	if err := emitter.Validate(image); err != nil {
		return nil, &EmitError{Msg: err.Error()}
	}
	result.Bytecode = image
	if err := step(); err != nil { // emit
		return nil, err
	}

	log.Debug("pipeline finished",
		"handlers", result.Stats.HandlersProcessed,
		"instructions", result.Stats.InstructionsReconstructed,
		"warnings", len(result.Stats.Warnings))
	return result, nil
}
