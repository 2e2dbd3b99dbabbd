package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hazyhaar/shadow/shadow"
)

// app carries what every subcommand shares once PersistentPreRunE ran.
type app struct {
	v      *viper.Viper
	cfg    *shadow.Config
	logger *slog.Logger
	stderr io.Writer
}

func newApp() *app {
	a := &app{v: viper.New(), stderr: os.Stderr}
	a.v.SetEnvPrefix("SHADOW")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()
	return a
}

func newRootCmd() *cobra.Command { return rootCmdFor(newApp()) }

func rootCmdFor(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "shadow",
		Short:         "Share a live web page with a remote viewer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd.Flags())
		},
	}
	pf := root.PersistentFlags()
	pf.String("config", "", "YAML configuration file (env SHADOW_CONFIG)")
	pf.String("log-level", "", "debug | info | warn | error")
	pf.String("codec", "", "wire codec: json | cbor | json+zstd | cbor+zstd")
	a.bind(pf, "config", "config")
	a.bind(pf, "log.level", "log-level")
	a.bind(pf, "session.codec", "codec")

	root.AddCommand(newRelayCmd(a), newControlCmd(a), newViewCmd(a))
	return root
}

func (a *app) bind(fs *pflag.FlagSet, key, flag string) {
	if f := fs.Lookup(flag); f != nil {
		a.v.BindPFlag(key, f)
	}
}

// load builds the configuration: defaults, then the file, then SHADOW_*
// environment variables, then flags.
func (a *app) load(fs *pflag.FlagSet) error {
	cfg := shadow.DefaultConfig()
	if path := a.v.GetString("config"); path != "" {
		var err error
		if cfg, err = shadow.LoadConfigFile(path); err != nil {
			return err
		}
	}
	if err := a.override(cfg); err != nil {
		return err
	}
	a.cfg = cfg

	lvl, err := parseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	a.logger = slog.New(slog.NewJSONHandler(a.stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(a.logger)
	return nil
}

func (a *app) override(cfg *shadow.Config) error {
	str := func(key string, dst *string) {
		if a.v.IsSet(key) {
			*dst = a.v.GetString(key)
		}
	}
	str("log.level", &cfg.Log.Level)
	str("session.codec", &cfg.Session.Codec)
	str("relay.listen", &cfg.Relay.Listen)
	str("relay.audit_db", &cfg.Relay.AuditDB)
	str("loader.mode", &cfg.Loader.Mode)
	str("loader.remote", &cfg.Loader.Remote)
	if a.v.IsSet("session.snapshot_interval") {
		d := a.v.GetDuration("session.snapshot_interval")
		if d < 0 {
			return fmt.Errorf("snapshot interval must not be negative, got %s", d)
		}
		cfg.Session.SnapshotInterval = d
	}
	if a.v.IsSet("session.match_size") {
		cfg.Session.MatchSize = a.v.GetBool("session.match_size")
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
