package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/tootrelay/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with an example config",
	RunE:  initAction,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initAction(_ *cobra.Command, _ []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	configPath := filepath.Join(configDir, config.DefaultConfigFile)
	wrote, err := writeIfNotExists(configPath, []byte(exampleConfig))
	if err != nil {
		return err
	}

	if wrote {
		fmt.Printf("Initialized %s. Set TT_TOKEN_MASTODON and edit sources before running.\n", configDir)
	} else {
		fmt.Printf("Config directory %s already initialized.\n", configDir)
	}
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(path string, data []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# tootrelay configuration

app_name: tootrelay

# one-to-one | one-to-many | many-to-one | many-to-many
mode: one-to-one

sources:
  - https://twitter.com/NASA

destinations:
  - url: https://mastodon.social
    token_env: TT_TOKEN_MASTODON

source:
  host: twitter.com
  mobile_host: mobile.twitter.com

fetch:
  timeout: 30s
  user_agent: "tootrelay/1.0"
  requests_per_second: 2

state:
  backend: file   # file | sqlite

cache:
  path: ~/.tootrelay/cache/

privacy:
  redact:
    enabled: false
    patterns: []

log:
  level: info
  format: console
`
