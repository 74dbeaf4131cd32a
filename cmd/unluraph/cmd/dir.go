package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/whit3rabbit/unluraph/internal/config"
	"github.com/whit3rabbit/unluraph/pkg/api"
)

var watchMode bool // flag: keep running and re-process changed files

// dirCmd recursively deobfuscates every Lua file of a directory tree into a
// mirror output tree.
var dirCmd = &cobra.Command{
	Use:   "dir <input_dir> <output_dir>",
	Short: "Deobfuscate all Lua files in a directory",
	Long: `Processes every Lua file under the input directory, preserving the
directory structure in the output directory. Non-Lua files are copied
verbatim; files matching the skip list are ignored. With --watch the
command keeps running and re-processes files as they change.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("configuration not loaded")
		}
		cmd.SilenceUsage = true
		inputDir, outputDir := args[0], args[1]

		info, err := os.Stat(inputDir)
		if err != nil {
			return fmt.Errorf("failed to stat input directory %s: %w", inputDir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("input path %s is not a directory", inputDir)
		}
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
		}

		d, err := newDeobfuscator()
		if err != nil {
			return err
		}

		if err := processDirectory(d, inputDir, outputDir); err != nil {
			return err
		}
		if !watchMode {
			return nil
		}
		return watchDirectory(d, inputDir, outputDir)
	},
}

func processDirectory(d *api.Deobfuscator, inputDir, outputDir string) error {
	return filepath.Walk(inputDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(inputDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if cfg.ShouldSkipPath(rel) {
			config.PrintInfo("Skipping path (matches skiplist): %s\n", rel)
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		outPath := filepath.Join(outputDir, rel)
		if info.IsDir() {
			return os.MkdirAll(outPath, 0755)
		}
		return processOne(d, path, outPath)
	})
}

// processOne deobfuscates a single Lua file into the output tree, or copies
// a non-Lua file verbatim.
func processOne(d *api.Deobfuscator, inPath, outPath string) error {
	if !cfg.IsLuaFile(inPath) {
		content, err := os.ReadFile(inPath)
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", inPath, err)
		}
		if err := os.WriteFile(outPath, content, 0644); err != nil {
			return fmt.Errorf("failed to write file %s: %w", outPath, err)
		}
		config.PrintInfo("Copied: %s -> %s\n", inPath, outPath)
		return nil
	}

	bytecodePath := strings.TrimSuffix(outPath, filepath.Ext(outPath)) + "." + cfg.Output.Extension
	if err := d.DeobfuscateFileToFile(inPath, outPath, bytecodePath); err != nil {
		if cfg.AbortOnError {
			return classifyError(inPath, err)
		}
		fmt.Fprintf(os.Stderr, "Warning: Failed to process %s: %v\n", inPath, err)
		return nil
	}
	config.PrintInfo("Processed: %s -> %s\n", inPath, outPath)
	return nil
}

// watchDirectory re-processes Lua files as fsnotify reports writes. The
// watch runs until the process is interrupted.
func watchDirectory(d *api.Deobfuscator, inputDir, outputDir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the whole tree; fsnotify is not recursive by itself.
	err = filepath.Walk(inputDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", inputDir, err)
	}
	config.PrintInfo("Watching %s for changes (interrupt to stop)...\n", inputDir)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil || info.IsDir() {
				if err == nil {
					_ = watcher.Add(event.Name)
				}
				continue
			}
			rel, err := filepath.Rel(inputDir, event.Name)
			if err != nil || cfg.ShouldSkipPath(rel) {
				continue
			}
			if err := processOne(d, event.Name, filepath.Join(outputDir, rel)); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "Warning: watcher error: %v\n", err)
		}
	}
}

func init() {
	dirCmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "Keep running and re-process files as they change")
}
