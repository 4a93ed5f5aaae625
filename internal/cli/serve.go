package cli

import (
	"github.com/spf13/cobra"

	"github.com/lucasnoah/docfactory/internal/analytics"
	"github.com/lucasnoah/docfactory/internal/logging"
	"github.com/lucasnoah/docfactory/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pipeline API and live progress streams",
	Long: `Start an HTTP server exposing the runner: status, metrics, stage details,
scores and ledger analytics as JSON, POST endpoints that start a full run or a
single stage, and live progress events over Server-Sent Events (/events) and a
websocket (/ws).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := runContext(cmd)
		defer cancel()

		a, cleanup, err := newApp(ctx, appOptions{models: true, logs: cmd.ErrOrStderr()})
		if err != nil {
			return err
		}
		defer cleanup()

		addr := a.cfg.Server.Addr
		if cmd.Flags().Changed("addr") {
			addr, _ = cmd.Flags().GetString("addr")
		}
		var ledger analytics.DB
		if a.ledger != nil {
			ledger = a.ledger
		}

		srv := web.New(web.Options{
			Pipeline: a.runner,
			Events:   a.hub,
			History:  a.history,
			Ledger:   ledger,
			Store:    a.engine.Store(),
			Addr:     addr,
			Log:      logging.New("web"),
		})
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default from config, 127.0.0.1:8420)")
}
