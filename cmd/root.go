package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/seclens/vuln-triage/internal/advisory"
	"github.com/seclens/vuln-triage/internal/blob"
	"github.com/seclens/vuln-triage/internal/config"
	"github.com/seclens/vuln-triage/internal/enrich"
	"github.com/seclens/vuln-triage/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "vuln-triage",
	Short: "Finding enrichment and automated triage engine",
	Long: `vuln-triage enriches vulnerability findings with advisory data from
OSV, FIRST.org EPSS and the MITRE CVE program, scores the confidence of
each finding and drives its triage state machine.

Examples:
  # Run the HTTP API
  vuln-triage serve

  # Enrich a single finding from the command line
  vuln-triage enrich --org <org-uuid> <finding-uuid>`,
}

// Execute runs the root command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(2)
	}
}

// app is the wired engine shared by the serve and enrich commands.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	store    *store.Store
	enricher *enrich.Enricher
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	log, err := zcfg.Build()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DatabaseDSN, log)
	if err != nil {
		return nil, err
	}
	blobs, err := blob.New(cfg.BlobDir)
	if err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	client := advisory.NewClient(st, st, limiter, log)
	client.HTTP.Timeout = cfg.RequestTimeout()

	enricher := &enrich.Enricher{
		OSV:   advisory.NewOSVClient(client, cfg.OSVBaseURL),
		EPSS:  advisory.NewEPSSClient(client, cfg.EPSSBaseURL),
		Mitre: advisory.NewMitreClient(client, cfg.MitreAPIBaseURL, cfg.MitreMirrorBaseURL, st, blobs),
		Store: enrich.NewStore(st),
		Log:   log,
	}
	return &app{cfg: cfg, log: log, store: st, enricher: enricher}, nil
}
