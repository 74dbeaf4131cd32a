package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/whit3rabbit/unluraph/pkg/api"
)

var (
	outputFile   string // flag: readable rendition output path
	bytecodeFile string // flag: bytecode output path
)

// fileCmd represents the deobfuscate-one-file command.
var fileCmd = &cobra.Command{
	Use:   "file <protected_lua_file>",
	Short: "Deobfuscate a single Luraph-protected Lua file",
	Long: `Reads a single protected Lua file, runs the full deobfuscation
pipeline, and writes the recovered source (stdout or -o) and the
Lua 5.3 bytecode image (-b).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("configuration not loaded")
		}
		cmd.SilenceUsage = true
		filePath := args[0]

		d, err := newDeobfuscator()
		if err != nil {
			return err
		}

		if !cfg.Silent {
			fmt.Printf("Processing file: %s\n", filePath)
		}
		result, err := d.DeobfuscateFile(filePath)
		if err != nil {
			return classifyError(filePath, err)
		}

		if !cfg.Silent {
			fmt.Printf("Recovered %d instructions from %d handlers (Luraph %s)\n",
				result.Stats.InstructionsReconstructed,
				result.Stats.HandlersProcessed,
				orUnknown(result.Stats.LuraphVersion))
			for _, w := range result.Stats.Warnings {
				fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
			}
		}

		if bytecodeFile != "" && cfg.Output.Bytecode {
			if err := os.WriteFile(bytecodeFile, result.Bytecode, 0644); err != nil {
				return fmt.Errorf("error writing bytecode to %s: %w", bytecodeFile, err)
			}
			if !cfg.Silent {
				fmt.Printf("Info: Wrote bytecode image to %s\n", bytecodeFile)
			}
		}

		if outputFile != "" {
			if err := os.WriteFile(outputFile, []byte(result.SourceCode), 0644); err != nil {
				return fmt.Errorf("error writing to output file %s: %w", outputFile, err)
			}
			if !cfg.Silent {
				fmt.Printf("Info: Wrote recovered source to %s\n", outputFile)
			}
		} else if cfg.Output.Source {
			fmt.Print(result.SourceCode)
		}
		return nil
	},
}

// newDeobfuscator builds the engine from the loaded configuration and the
// shared flag overrides.
func newDeobfuscator() (*api.Deobfuscator, error) {
	opts := api.Options{
		ConfigPath: cfgFile,
		Silent:     cfg.Silent,
		Method:     cfg.Decryption.Method,
		Version:    cfg.Decryption.Version,
		Logger:     logger,
	}
	if cfg.Decryption.Key != "" {
		opts.Key = []byte(cfg.Decryption.Key)
	}
	if cfg.Decryption.IV != "" {
		opts.IV = []byte(cfg.Decryption.IV)
	}
	d, err := api.NewDeobfuscator(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize deobfuscator: %w", err)
	}
	return d, nil
}

// classifyError attaches a human-facing hint per error class.
func classifyError(path string, err error) error {
	switch {
	case errors.Is(err, api.ErrNotLuraph):
		return fmt.Errorf("%s does not look Luraph-protected: %w", path, err)
	case errors.Is(err, api.ErrDecryptionFailed):
		return fmt.Errorf("%s: constants stayed encrypted under every method; try --key / --method: %w", path, err)
	default:
		return fmt.Errorf("error processing %s: %w", path, err)
	}
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}

func init() {
	fileCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file for the recovered source (default: stdout)")
	fileCmd.Flags().StringVarP(&bytecodeFile, "bytecode", "b", "", "Output file for the .luac bytecode image")
}
