package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/ppiankov/tootrelay/internal/config"
	"github.com/ppiankov/tootrelay/internal/extract"
	"github.com/ppiankov/tootrelay/internal/fetch"
	"github.com/ppiankov/tootrelay/internal/logging"
	"github.com/ppiankov/tootrelay/internal/privacy"
	"github.com/ppiankov/tootrelay/internal/publish"
	"github.com/ppiankov/tootrelay/internal/relay"
	"github.com/ppiankov/tootrelay/internal/resolve"
	"github.com/ppiankov/tootrelay/internal/source"
	"github.com/ppiankov/tootrelay/internal/store"
	"github.com/ppiankov/tootrelay/internal/topology"
)

// logOutput is where run logs go; stdout is reserved for the report.
var logOutput io.Writer = os.Stderr

func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	return logging.New(logOutput, cfg.Log.Level, cfg.Log.Format)
}

func siteFor(cfg *config.Config) source.Site {
	return source.NewSite(cfg.Source.Host, cfg.Source.MobileHost)
}

// planPairs rewrites sources to the mobile host and expands the topology.
func planPairs(cfg *config.Config) ([]relay.Pair, error) {
	mode, err := topology.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	site := siteFor(cfg)
	sources := make([]string, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		sources = append(sources, site.Mobile(s))
	}
	return topology.Plan(mode, cfg.AppName, sources, cfg.Targets())
}

func openWatermarks(cfg *config.Config) (store.Watermarks, error) {
	wm, err := store.New(cfg.State.Backend, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	return wm, nil
}

// newRelayer wires the fetch, parse, resolve, extract and publish chain.
func newRelayer(cfg *config.Config, wm store.Watermarks, log zerolog.Logger, dryRun bool) (*relay.Relayer, error) {
	var redactor *privacy.Redactor
	if cfg.Privacy.Redact.Enabled {
		r, err := privacy.NewRedactor(cfg.Privacy.Redact.Patterns)
		if err != nil {
			return nil, fmt.Errorf("redact patterns: %w", err)
		}
		redactor = r
	}

	if err := os.MkdirAll(cfg.Cache.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	fetcher := fetch.New(fetch.Config{
		Timeout:           cfg.Fetch.Timeout.Duration,
		MaxBytes:          cfg.Fetch.MaxBodyBytes,
		MaxMediaBytes:     cfg.Fetch.MaxMediaBytes,
		UserAgent:         cfg.Fetch.UserAgent,
		RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
	}, nil)

	site := siteFor(cfg)
	parser := source.NewHTMLParser()
	extractor := extract.New(
		parser,
		site,
		resolve.NewMediaResolver(fetcher, parser, site),
		resolve.NewContextResolver(fetcher, parser, site),
		log,
	)

	publishers := func(p relay.Pair) relay.Publisher {
		dest := publish.Destination{URL: p.DestinationURL, Token: p.DestinationToken}
		return publish.New(fetcher.Client(), fetcher, dest, cfg.Cache.Path, log, publish.WithRedactor(redactor))
	}

	return relay.New(relay.Deps{
		Getter:     fetcher,
		Extractor:  extractor,
		Watermarks: wm,
		Publishers: publishers,
		Log:        log,
	}, dryRun), nil
}
