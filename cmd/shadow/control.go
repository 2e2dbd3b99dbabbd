package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/shadow/loader"
	"github.com/hazyhaar/shadow/shadow"
	"github.com/hazyhaar/shadow/shadow/protocol"
	"github.com/hazyhaar/shadow/transport"
)

func newControlCmd(a *app) *cobra.Command {
	var relayURL, pageURL string
	var allowPrivate bool
	cmd := &cobra.Command{
		Use:   "control",
		Short: "Share a page with the viewer in a relay room",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if relayURL == "" || pageURL == "" {
				return errors.New("--relay and --url are required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runControl(ctx, relayURL, pageURL, allowPrivate)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&relayURL, "relay", "", "relay room URL, e.g. ws://host:8080/ws/ROOM")
	fs.StringVar(&pageURL, "url", "", "page to share")
	fs.String("mode", "", "page loading: auto | http | browser")
	fs.Duration("snapshot-interval", 0, "re-send a full snapshot this often, 0 disables")
	fs.String("chrome", "", "DevTools URL of an external Chrome")
	fs.BoolVar(&allowPrivate, "allow-private", false, "allow loopback and private network pages")
	a.bind(fs, "loader.mode", "mode")
	a.bind(fs, "session.snapshot_interval", "snapshot-interval")
	a.bind(fs, "loader.remote", "chrome")
	return cmd
}

// controller keeps the live page in step with navigations: every new
// location is loaded and handed to the session. Loads run off the session
// loop since Session.Load waits on it.
type controller struct {
	ctx    context.Context
	loader *loader.Loader
	sess   *shadow.Session
	a      *app
}

// Navigate vets a viewer-requested location. The load itself follows from
// the Navigated hook, which also covers navigations of the live page.
func (c *controller) Navigate(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("control: refusing to navigate to %q", target)
	}
	return nil
}

func (c *controller) Reload(target string) error {
	go c.reload(target)
	return nil
}

func (c *controller) reload(target string) {
	page, err := c.loader.Load(c.ctx, target)
	if err != nil {
		c.a.logger.Warn("control: load failed", "url", target, "error", err)
		return
	}
	if err := c.sess.Load(page.Document); err != nil && !errors.Is(err, shadow.ErrEnded) {
		c.a.logger.Warn("control: hand over page", "url", page.URL, "error", err)
	}
}

func (a *app) runControl(ctx context.Context, relayURL, pageURL string, allowPrivate bool) error {
	mode, err := loader.ParseMode(a.cfg.Loader.Mode)
	if err != nil {
		return err
	}
	lc := a.cfg.Loader
	ldr := loader.New(loader.Config{
		Mode:         mode,
		Timeout:      lc.Timeout,
		MaxBody:      lc.MaxBody,
		UserAgent:    lc.UserAgent,
		Remote:       lc.Remote,
		MemoryLimit:  lc.MemoryLimit,
		AllowPrivate: allowPrivate,
		Logger:       a.logger,
	})
	defer ldr.Close()

	page, err := ldr.Load(ctx, pageURL)
	if err != nil {
		return err
	}
	a.logger.Info("control: page loaded", "url", page.URL, "mode", page.Mode)

	codec, err := protocol.CodecByName(a.cfg.Session.Codec)
	if err != nil {
		return err
	}
	ch, err := transport.DialWebSocket(ctx, withRole(relayURL, "controller"),
		transport.WithBinary(codec.Binary()), transport.WithLogger(a.logger))
	if err != nil {
		return err
	}

	c := &controller{ctx: ctx, loader: ldr, a: a}
	sess, err := shadow.New(shadow.Options{
		Role:      shadow.Controller,
		Channel:   ch,
		Document:  page.Document,
		Session:   a.cfg.Session,
		Codec:     codec,
		Navigator: c,
		Reloader:  c,
		Hooks: shadow.Hooks{
			Navigated: func(u string) {
				a.logger.Info("control: navigated", "url", u)
				go c.reload(u)
			},
			Loaded: func(href string) {
				a.logger.Info("control: viewer loaded", "href", href)
			},
		},
		Logger: a.logger,
	})
	if err != nil {
		ch.Close()
		return err
	}
	c.sess = sess
	if err := sess.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("control: sharing", "session_id", sess.ID(), "relay", relayURL)

	select {
	case <-ctx.Done():
		sess.End()
		return nil
	case <-sess.Done():
		return sess.Err()
	}
}

// withRole tags the relay URL with the peer's role for the relay's logs.
func withRole(raw, role string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("role", role)
	u.RawQuery = q.Encode()
	return u.String()
}
