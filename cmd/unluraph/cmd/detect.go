package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// detectCmd reports the Luraph marker evidence of a file without running
// the full pipeline.
var detectCmd = &cobra.Command{
	Use:   "detect <lua_file>",
	Short: "Report whether a file looks Luraph-protected",
	Long: `Lexes and parses the file, evaluates the Luraph marker gate, and
prints the evidence found: textual markers, structural VM patterns, and
the guessed Luraph version. Nothing is decrypted or emitted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("configuration not loaded")
		}
		cmd.SilenceUsage = true

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		d, err := newDeobfuscator()
		if err != nil {
			return err
		}
		det, err := d.Detect(string(data))
		if err != nil {
			return classifyError(args[0], err)
		}

		if det.IsLuraph {
			fmt.Printf("%s: Luraph-protected (version %s)\n", args[0], orUnknown(det.Version))
		} else {
			fmt.Printf("%s: no Luraph protection detected\n", args[0])
		}
		for _, m := range det.Markers {
			fmt.Printf("  %s\n", m)
		}
		return nil
	},
}
