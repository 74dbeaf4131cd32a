// Package api provides the public API for using the Luraph deobfuscator as
// a library.
//
// The same pipeline that backs the command-line interface is exposed for
// programmatic use: recover readable Lua source and a Lua 5.3 bytecode
// image from a Luraph-protected file.
//
// Basic usage example:
//
//	d, err := api.NewDeobfuscator(api.Options{})
//	if err != nil {
//	    log.Fatalf("Failed to create deobfuscator: %v", err)
//	}
//
//	result, err := d.DeobfuscateFile("protected.lua")
//	if err != nil {
//	    log.Fatalf("Failed to deobfuscate: %v", err)
//	}
//
//	fmt.Println(result.SourceCode)
package api

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/whit3rabbit/unluraph/internal/config"
	"github.com/whit3rabbit/unluraph/internal/decryptor"
	"github.com/whit3rabbit/unluraph/internal/pipeline"
	"github.com/whit3rabbit/unluraph/internal/renamer"
)

// Re-exported error taxonomy so callers can discriminate failures with
// errors.Is / errors.As without importing internal packages.
var (
	ErrNotLuraph        = pipeline.ErrNotLuraph
	ErrDecryptionFailed = pipeline.ErrDecryptionFailed
	ErrCancelled        = pipeline.ErrCancelled
)

// InvalidLuaError and EmitError are the structured members of the taxonomy.
type (
	InvalidLuaError = pipeline.InvalidLuaError
	EmitError       = pipeline.EmitError
)

// ProgressEvent reports a completed pipeline stage. Events are delivered
// synchronously from the computing goroutine.
type ProgressEvent = pipeline.ProgressEvent

// Stats summarizes one deobfuscation run.
type Stats = pipeline.Stats

// Result carries the recovered artifacts: the readable source rendition and
// the emitted .luac image.
type Result = pipeline.Result

// Detection is the marker report of the detect verb.
type Detection = pipeline.Detection

// Options configures a Deobfuscator.
type Options struct {
	// ConfigPath is the path to a YAML configuration file. Empty uses the
	// default configuration (and ./config.yaml when present).
	ConfigPath string

	// Method pins a decryption algorithm: auto, xor_v1, xor_v2, aes_cbc,
	// aes_cbc_v2, luraph_custom. Empty means auto.
	Method string

	// Key and IV pin explicit encryption parameters instead of scanning the
	// input for them.
	Key []byte
	IV  []byte

	// Version pins the Luraph version (11.5 .. 11.8.1).
	Version string

	// Silent suppresses informational messages.
	Silent bool

	// Progress receives a stage event at each pipeline boundary.
	Progress func(ProgressEvent)

	// Cancel is checked at stage boundaries; setting it makes the run
	// return ErrCancelled.
	Cancel *atomic.Bool

	// Logger receives debug logging when set. Nil keeps the library silent.
	Logger *slog.Logger
}

// Deobfuscator is the main engine. It holds the loaded configuration and
// the renamer context shared across files of one session.
type Deobfuscator struct {
	Config  *config.Config
	Renamer *renamer.Renamer

	opts Options
}

// NewDeobfuscator creates an engine from the given options. Options that
// pin encryption parameters override the loaded configuration.
func NewDeobfuscator(opts Options) (*Deobfuscator, error) {
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.Silent {
		cfg.Silent = true
	}
	if opts.Method != "" {
		cfg.Decryption.Method = opts.Method
	}
	if opts.Key != nil {
		cfg.Decryption.Key = string(opts.Key)
	}
	if opts.IV != nil {
		cfg.Decryption.IV = string(opts.IV)
	}
	if opts.Version != "" {
		cfg.Decryption.Version = opts.Version
	}

	d := &Deobfuscator{Config: cfg, opts: opts}
	if cfg.Rename.Enabled {
		d.Renamer = renamer.New()
		if cfg.Rename.StatePath != "" {
			if err := d.Renamer.LoadState(cfg.Rename.StatePath); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: Failed to load rename state: %v\n", err)
			}
		}
	}
	return d, nil
}

func (d *Deobfuscator) pipelineOptions(sourceName string) pipeline.Options {
	popts := pipeline.Options{
		SourceName:    sourceName,
		Version:       d.Config.Decryption.Version,
		RenameEnabled: d.Config.Rename.Enabled,
		Renamer:       d.Renamer,
		Progress:      d.opts.Progress,
		Cancel:        d.opts.Cancel,
		Logger:        d.opts.Logger,
	}
	if d.Config.Decryption.Method != "" {
		popts.Method = decryptor.Method(d.Config.Decryption.Method)
	}
	if d.Config.Decryption.Key != "" {
		popts.Key = []byte(d.Config.Decryption.Key)
	}
	if d.Config.Decryption.IV != "" {
		popts.IV = []byte(d.Config.Decryption.IV)
	}
	return popts
}

// DeobfuscateCode deobfuscates a string of protected Lua source.
func (d *Deobfuscator) DeobfuscateCode(code string) (*Result, error) {
	return pipeline.Run(code, d.pipelineOptions("@code.lua"))
}

// DeobfuscateFile deobfuscates a protected Lua file and returns the result.
func (d *Deobfuscator) DeobfuscateFile(filePath string) (*Result, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file %s: %w", filePath, err)
	}
	return pipeline.Run(string(data), d.pipelineOptions("@"+filepath.Base(filePath)))
}

// DeobfuscateFileToFile deobfuscates a file and writes the artifacts the
// configuration enables: the readable rendition to sourcePath and the
// bytecode image to bytecodePath. Empty paths skip that artifact.
func (d *Deobfuscator) DeobfuscateFileToFile(inputPath, sourcePath, bytecodePath string) error {
	result, err := d.DeobfuscateFile(inputPath)
	if err != nil {
		return err
	}
	if sourcePath != "" && d.Config.Output.Source {
		if err := writeArtifact(sourcePath, []byte(result.SourceCode)); err != nil {
			return err
		}
	}
	if bytecodePath != "" && d.Config.Output.Bytecode {
		if err := writeArtifact(bytecodePath, result.Bytecode); err != nil {
			return err
		}
	}
	if d.Config.Rename.Enabled && d.Config.Rename.StatePath != "" && d.Renamer != nil {
		if err := d.Renamer.SaveState(d.Config.Rename.StatePath); err != nil {
			return fmt.Errorf("failed to save rename state: %w", err)
		}
	}
	return nil
}

func writeArtifact(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write output file %s: %w", path, err)
	}
	return nil
}

// Detect runs only the front of the pipeline and reports the Luraph marker
// evidence found in code.
func (d *Deobfuscator) Detect(code string) (*Detection, error) {
	return pipeline.Detect(code)
}

// LookupOriginalName resolves a generated readable name (fn_1, var_2, ...)
// back to the mangled identifier it replaced.
func (d *Deobfuscator) LookupOriginalName(readable string) (string, error) {
	if d.Renamer == nil {
		return "", fmt.Errorf("renaming is disabled")
	}
	orig, ok := d.Renamer.LookupOriginal(readable)
	if !ok {
		return "", fmt.Errorf("name not found in context: %s", readable)
	}
	return orig, nil
}
