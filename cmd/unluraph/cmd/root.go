// Package cmd implements the command line interface for the application.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/whit3rabbit/unluraph/internal/config"
)

var (
	cfgFile string         // config file path from the flag
	cfg     *config.Config // loaded configuration
	logger  *slog.Logger   // debug logger, nil unless --debug

	// Flag variables mapped to config fields for override.
	silentMode   bool   // -> cfg.Silent
	abortOnError bool   // -> cfg.AbortOnError
	debugMode    bool   // -> cfg.DebugMode
	method       string // -> cfg.Decryption.Method
	key          string // -> cfg.Decryption.Key
	luraphVer    string // -> cfg.Decryption.Version
	emitSource   bool   // -> cfg.Output.Source
	emitBytecode bool   // -> cfg.Output.Bytecode
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "unluraph",
	Short: "A CLI tool to deobfuscate Luraph-protected Lua files.",
	Long: `unluraph reverses the Luraph obfuscator (v11.5 - v11.8.1): it lexes
and parses the protected file, identifies the embedded VM handlers,
decrypts string and constant pools, and reconstructs both readable Lua
source and a Lua 5.3 bytecode image.`,
	// PersistentPreRunE runs before any subcommand's RunE; load the
	// configuration early so every verb sees the same settings.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			loadedCfg, err := config.LoadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("error loading configuration: %w", err)
			}
			cfg = loadedCfg
			applyFlagOverrides(cfg, cmd)
		}
		if cfg.DebugMode && logger == nil {
			logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{
				Level:     slog.LevelDebug,
				AddSource: true,
			}))
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// applyFlagOverrides applies command-line flag values to the config struct.
// Only overrides if the flag was explicitly set by the user.
func applyFlagOverrides(cfg *config.Config, cmd *cobra.Command) {
	if cmd.Flags().Changed("silent") {
		cfg.Silent = silentMode
	}
	if cmd.Flags().Changed("abort-on-error") {
		cfg.AbortOnError = abortOnError
	}
	if cmd.Flags().Changed("debug") {
		cfg.DebugMode = debugMode
	}
	if cmd.Flags().Changed("method") {
		cfg.Decryption.Method = method
	}
	if cmd.Flags().Changed("key") {
		cfg.Decryption.Key = key
	}
	if cmd.Flags().Changed("luraph-version") {
		cfg.Decryption.Version = luraphVer
	}
	if cmd.Flags().Changed("emit-source") {
		cfg.Output.Source = emitSource
	}
	if cmd.Flags().Changed("emit-bytecode") {
		cfg.Output.Bytecode = emitBytecode
	}
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		// Cobra prints the error; exit non-zero.
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	rootCmd.PersistentFlags().BoolVarP(&silentMode, "silent", "s", false, "Suppress informational output (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&abortOnError, "abort-on-error", true, "Stop directory processing on the first error (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable verbose debug logging (overrides config)")
	rootCmd.PersistentFlags().StringVar(&method, "method", "auto", "Decryption method: auto, xor_v1, xor_v2, aes_cbc, aes_cbc_v2, luraph_custom")
	rootCmd.PersistentFlags().StringVar(&key, "key", "", "Explicit decryption key (overrides key scanning)")
	rootCmd.PersistentFlags().StringVar(&luraphVer, "luraph-version", "", "Luraph version hint: 11.5, 11.6, 11.7, 11.8, 11.8.1")
	rootCmd.PersistentFlags().BoolVar(&emitSource, "emit-source", true, "Write the readable source rendition (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&emitBytecode, "emit-bytecode", true, "Write the .luac bytecode image (overrides config)")

	// Subcommands.
	rootCmd.AddCommand(fileCmd)
	rootCmd.AddCommand(dirCmd)
	rootCmd.AddCommand(detectCmd)
}
