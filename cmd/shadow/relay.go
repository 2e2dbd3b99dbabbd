package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/shadow/relay"
	"github.com/hazyhaar/shadow/shield"
)

func newRelayCmd(a *app) *cobra.Command {
	var joinLimit int
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the websocket relay peers meet in",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runRelay(ctx, joinLimit)
		},
	}
	fs := cmd.Flags()
	fs.String("listen", "", "listen address (default :8080)")
	fs.String("audit-db", "", "SQLite file recording joins and leaves")
	fs.IntVar(&joinLimit, "join-limit", 30, "websocket joins per client IP per minute, 0 disables")
	a.bind(fs, "relay.listen", "listen")
	a.bind(fs, "relay.audit_db", "audit-db")
	return cmd
}

func (a *app) runRelay(ctx context.Context, joinLimit int) error {
	rc := a.cfg.Relay
	cfg := relay.Config{
		Listen:     rc.Listen,
		QueueDepth: rc.QueueDepth,
		MaxMessage: rc.MaxMessage,
		JoinLimit:  shield.RateLimitConfig{MaxRequests: joinLimit, Window: time.Minute},
		Logger:     a.logger,
	}
	if rc.AuditDB != "" {
		audit, err := relay.OpenAudit(rc.AuditDB, a.logger)
		if err != nil {
			return err
		}
		defer audit.Close()
		cfg.Audit = audit
	}
	return relay.New(cfg).ListenAndServe(ctx)
}
