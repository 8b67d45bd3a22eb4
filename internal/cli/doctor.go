package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/tootrelay/internal/config"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, state and cache",
	RunE:  doctorAction,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func doctorAction(cmd *cobra.Command, _ []string) error {
	ok := true

	// Config dir
	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		printCheck(false, "config directory %s", configDir)
		ok = false
	} else {
		printCheck(true, "config directory %s", configDir)
	}

	// Config file plus environment
	cfg, err := config.Load(configDir)
	if err != nil {
		printCheck(false, "config: %v", err)
		return fmt.Errorf("some checks failed")
	}
	printCheck(true, "config (%s, %d sources, %d destinations)", cfg.Mode, len(cfg.Sources), len(cfg.Destinations))

	// Pairs
	pairs, err := planPairs(cfg)
	if err != nil {
		printCheck(false, "pairs: %v", err)
		ok = false
	} else {
		printCheck(true, "%d pairs planned", len(pairs))
	}

	// Tokens
	for _, d := range cfg.Destinations {
		if d.Token == "" {
			printCheck(false, "token for %s", d.URL)
			ok = false
		} else {
			printCheck(true, "token for %s", d.URL)
		}
	}

	// State store
	wm, err := openWatermarks(cfg)
	if err != nil {
		printCheck(false, "state: %v", err)
		ok = false
	} else {
		printCheck(true, "state %s (%s)", cfg.State.Path, cfg.State.Backend)
		for _, p := range pairs {
			if _, err := wm.Read(commandContext(cmd), p.Key()); err != nil {
				printCheck(false, "watermark for %s: %v", p.SourceURL, err)
				ok = false
			}
		}
		_ = wm.Close()
	}

	// Cache dir
	if err := checkWritable(cfg.Cache.Path); err != nil {
		printCheck(false, "cache %s: %v", cfg.Cache.Path, err)
		ok = false
	} else {
		printCheck(true, "cache %s", cfg.Cache.Path)
	}

	if cfg.Privacy.Redact.Enabled {
		printInfo("redaction on with %d patterns", len(cfg.Privacy.Redact.Patterns))
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(filepath.Clean(name))
}

func printCheck(pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Printf("[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...any) {
	fmt.Printf("[INFO] %s\n", fmt.Sprintf(format, args...))
}
