package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seclens/vuln-triage/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the enrichment HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.log.Sync()

	srv := &web.Server{Enricher: a.enricher, Store: a.store, Log: a.log}
	a.log.Info("listening", zap.String("addr", a.cfg.ListenAddr))
	return srv.Router().Run(a.cfg.ListenAddr)
}
