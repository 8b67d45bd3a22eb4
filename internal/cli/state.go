package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/tootrelay/internal/config"
	"github.com/ppiankov/tootrelay/internal/store"
)

var stateFormat string

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the watermark of every configured pair",
	RunE:  stateAction,
}

func init() {
	stateCmd.Flags().StringVar(&stateFormat, "format", "terminal", "output format: terminal, json")
	rootCmd.AddCommand(stateCmd)
}

type pairState struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	PairKey     string `json:"pair_key"`
	Watermark   int64  `json:"watermark"`
}

func stateAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pairs, err := planPairs(cfg)
	if err != nil {
		return fmt.Errorf("plan pairs: %w", err)
	}

	wm, err := openWatermarks(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = wm.Close() }()

	states := make([]pairState, 0, len(pairs))
	for _, p := range pairs {
		key := p.Key()
		v, err := wm.Read(commandContext(cmd), key)
		if err != nil {
			return fmt.Errorf("read watermark for %s: %w", p.SourceURL, err)
		}
		states = append(states, pairState{
			Source:      p.SourceURL,
			Destination: p.DestinationURL,
			PairKey:     key,
			Watermark:   v,
		})
	}

	switch stateFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(states)
	case "terminal", "":
		printStates(os.Stdout, cfg.State.Backend, states)
		return nil
	default:
		return fmt.Errorf("unknown format %q (want terminal or json)", stateFormat)
	}
}

func printStates(w io.Writer, backend string, states []pairState) {
	fmt.Fprintf(w, "%d pairs (%s state)\n\n", len(states), backend)
	for _, s := range states {
		mark := fmt.Sprintf("%d", s.Watermark)
		if s.Watermark == 0 {
			mark = "never relayed"
		}
		fmt.Fprintf(w, "  %s -> %s\n", s.Source, s.Destination)
		fmt.Fprintf(w, "    %s%s  %s\n", filePrefixFor(backend), s.PairKey, mark)
	}
}

func filePrefixFor(backend string) string {
	if backend == store.BackendFile {
		return store.FilePrefix
	}
	return ""
}
