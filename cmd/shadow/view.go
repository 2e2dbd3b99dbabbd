package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/shadow/shadow"
	"github.com/hazyhaar/shadow/shadow/protocol"
	"github.com/hazyhaar/shadow/transport"
)

func newViewCmd(a *app) *cobra.Command {
	var relayURL, out, format string
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Mirror the controller's page from a relay room",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if relayURL == "" {
				return errors.New("--relay is required")
			}
			if _, err := render(shadow.NewContainer(), format); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runView(ctx, relayURL, out, format)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&relayURL, "relay", "", "relay room URL, e.g. ws://host:8080/ws/ROOM")
	fs.StringVarP(&out, "out", "o", "-", "file the mirror is written to after each update, - for stdout")
	fs.StringVar(&format, "format", "html", "mirror output: html | sanitized | markdown")
	fs.Bool("match-size", false, "draw the mirror unscaled when the local viewport is large enough")
	a.bind(fs, "session.match_size", "match-size")
	return cmd
}

// render produces the container in the requested format.
func render(c *shadow.Container, format string) (string, error) {
	switch format {
	case "html":
		return c.HTML(), nil
	case "sanitized":
		return c.SanitizedHTML(), nil
	case "markdown", "md":
		return c.Markdown()
	}
	return "", fmt.Errorf("unknown format %q", format)
}

// mirrorWriter writes the mirror after structural changes. It runs on the
// session loop.
type mirrorWriter struct {
	a      *app
	out    string
	format string
	stdout io.Writer
}

func (w *mirrorWriter) write(c *shadow.Container) {
	if c.Loading() {
		return
	}
	text, err := render(c, w.format)
	if err != nil {
		w.a.logger.Warn("view: render", "error", err)
		return
	}
	if w.out == "-" {
		fmt.Fprintln(w.stdout, text)
		return
	}
	tmp := w.out + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), 0o644); err != nil {
		w.a.logger.Warn("view: write mirror", "path", tmp, "error", err)
		return
	}
	if err := os.Rename(tmp, w.out); err != nil {
		w.a.logger.Warn("view: write mirror", "path", w.out, "error", err)
	}
}

// structural reports whether env changes what the mirror file shows.
func structural(env protocol.Envelope) bool {
	switch env.Payload.(type) {
	case protocol.Snapshot, protocol.DOMChange, protocol.Removed, protocol.AttributeChange:
		return true
	}
	return false
}

func (a *app) runView(ctx context.Context, relayURL, out, format string) error {
	codec, err := protocol.CodecByName(a.cfg.Session.Codec)
	if err != nil {
		return err
	}
	ch, err := transport.DialWebSocket(ctx, withRole(relayURL, "viewer"),
		transport.WithBinary(codec.Binary()), transport.WithLogger(a.logger))
	if err != nil {
		return err
	}

	container := shadow.NewContainer()
	w := &mirrorWriter{a: a, out: out, format: format, stdout: os.Stdout}
	sess, err := shadow.New(shadow.Options{
		Role:      shadow.Viewer,
		Channel:   ch,
		Container: container,
		Session:   a.cfg.Session,
		Codec:     codec,
		Hooks: shadow.Hooks{
			Applied: func(env protocol.Envelope) {
				if structural(env) {
					w.write(container)
				}
				if cu, ok := env.Payload.(protocol.ChangeURL); ok {
					a.logger.Info("view: controller navigating", "url", cu.URL)
				}
			},
		},
		Logger: a.logger,
	})
	if err != nil {
		ch.Close()
		return err
	}
	if err := sess.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("view: waiting for snapshot", "session_id", sess.ID(), "relay", relayURL)

	select {
	case <-ctx.Done():
		sess.End()
		return nil
	case <-sess.Done():
		return sess.Err()
	}
}
