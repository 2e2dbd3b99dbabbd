package shadow

import (
	"context"
	"log/slog"

	"k8s.io/utils/clock"

	"github.com/hazyhaar/shadow/dom"
	"github.com/hazyhaar/shadow/shadow/internal/config"
	"github.com/hazyhaar/shadow/shadow/internal/mirror"
	"github.com/hazyhaar/shadow/shadow/internal/replay"
	"github.com/hazyhaar/shadow/shadow/protocol"
)

// Config is the top-level shadow configuration. Re-exported from internal.
type Config = config.Config

// SessionConfig tunes a single session.
type SessionConfig = config.SessionConfig

// RelayConfig controls the fan-out server.
type RelayConfig = config.RelayConfig

// LoaderConfig controls how the controller obtains its page.
type LoaderConfig = config.LoaderConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}

// Container is the isolated surface a viewer rebuilds the mirror in.
type Container = mirror.Container

// NewContainer returns an empty container showing its loading overlay.
func NewContainer() *Container {
	return mirror.NewContainer()
}

// Pointer draws the peer's cursor.
type Pointer = replay.Pointer

// Navigator commits a navigation of the controller's page.
type Navigator = replay.Navigator

// Reloader reloads the controller's page.
type Reloader = replay.Reloader

// Channel carries opaque messages between the two peers. Delivery must be
// ordered and reliable; the session never reorders or retries.
type Channel interface {
	Send(ctx context.Context, msg []byte) error
	// Receive blocks for the next message. It returns io.EOF once the peer
	// has closed the channel.
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Hooks observe a session from the host's side. Every hook runs on the
// session loop, so it may read the session's documents but must not block.
type Hooks struct {
	// Applied runs after an inbound envelope was accepted and applied.
	Applied func(env protocol.Envelope)
	// Navigated runs when the controller's live page changed location,
	// either locally or on the viewer's request. Hosts typically load the
	// new page and hand it over with Session.Load.
	Navigated func(url string)
	// Loaded runs when the peer reports it finished loading href.
	Loaded func(href string)
}

// Options configures a Session.
type Options struct {
	Role    Role
	Channel Channel

	// Document is the controller's live page. Viewers leave it nil.
	Document *dom.Document
	// Container receives the viewer's mirror. A fresh one is created when nil.
	Container *Container

	Session SessionConfig
	// Codec overrides Session.Codec.
	Codec protocol.Codec

	Pointer   Pointer
	Navigator Navigator
	Reloader  Reloader
	Hooks     Hooks

	// Clock drives coalescing, dwell and guard timings.
	Clock  clock.WithDelayedExecution
	ID     string
	Logger *slog.Logger
}
