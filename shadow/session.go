// Package shadow runs co-browsing sessions. A controller serializes its live
// page and streams structural diffs; a viewer rebuilds the page in an
// isolated container and relays its interactions back to be replayed on the
// controller's page.
//
// Each session owns one goroutine that runs every task: inbound messages,
// timer callbacks and host calls. The documents, the id map and every
// internal component are only ever touched from that goroutine.
package shadow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/hazyhaar/shadow/dom"
	"github.com/hazyhaar/shadow/idgen"
	"github.com/hazyhaar/shadow/shadow/internal/capture"
	"github.com/hazyhaar/shadow/shadow/internal/differ"
	"github.com/hazyhaar/shadow/shadow/internal/guard"
	"github.com/hazyhaar/shadow/shadow/internal/idmap"
	"github.com/hazyhaar/shadow/shadow/internal/mirror"
	"github.com/hazyhaar/shadow/shadow/internal/replay"
	"github.com/hazyhaar/shadow/shadow/internal/serializer"
	"github.com/hazyhaar/shadow/shadow/protocol"
)

var (
	// ErrNoChannel is returned by New when Options.Channel is nil.
	ErrNoChannel = errors.New("shadow: no channel")
	// ErrNoDocument is returned by New for a controller without a page.
	ErrNoDocument = errors.New("shadow: controller without document")
	// ErrEnded is returned by operations on an ended session.
	ErrEnded = errors.New("shadow: session ended")
	// ErrStarted is returned by a second call to Start.
	ErrStarted = errors.New("shadow: session already started")
	// ErrNotController is returned by controller-only operations on a viewer.
	ErrNotController = errors.New("shadow: not a controller")
)

// Role says which side of the session this peer plays.
type Role int

const (
	// Controller owns the live page.
	Controller Role = iota
	// Viewer displays the mirror.
	Viewer
)

func (r Role) String() string {
	if r == Viewer {
		return "viewer"
	}
	return "controller"
}

// ParseRole accepts "controller" or "viewer".
func ParseRole(s string) (Role, error) {
	switch s {
	case "controller":
		return Controller, nil
	case "viewer":
		return Viewer, nil
	}
	return 0, fmt.Errorf("shadow: unknown role %q", s)
}

// State is the session lifecycle state.
type State int32

const (
	Idle State = iota
	Active
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	default:
		return "ended"
	}
}

// Session is one end of a shadow session.
type Session struct {
	id     string
	role   Role
	ch     Channel
	codec  protocol.Codec
	cfg    SessionConfig
	clk    clock.WithDelayedExecution
	opts   Options
	logger *slog.Logger

	// Loop-owned.
	doc       *dom.Document
	container *Container
	ids       *idmap.Map
	ser       *serializer.Serializer
	builder   *mirror.Builder
	diffs     *differ.Producer
	capt      *capture.Capture
	style     *capture.StyleTransfer
	rep       *replay.Replayer
	out       *capture.Coalescer
	selGuard  *guard.Guard
	scrGuard  *guard.Guard
	detach    []func()
	snapTimer capture.Timer
	reqTimer  capture.Timer
	remoteURL string
	ended     bool
	cause     error

	state   atomic.Int32
	started atomic.Bool

	mu      sync.Mutex
	queue   []func()
	history []string

	wake   chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a session. Nothing is sent or received until Start.
func New(opts Options) (*Session, error) {
	if opts.Channel == nil {
		return nil, ErrNoChannel
	}
	if opts.Role == Controller && opts.Document == nil {
		return nil, ErrNoDocument
	}
	cfg := opts.Session
	cfg.ApplyDefaults()

	codec := opts.Codec
	if codec == nil {
		c, err := protocol.CodecByName(cfg.Codec)
		if err != nil {
			return nil, fmt.Errorf("shadow: new: %w", err)
		}
		codec = c
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	id := opts.ID
	if id == "" {
		id = idgen.Prefixed("shd_", idgen.Default)()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		id:     id,
		role:   opts.Role,
		ch:     opts.Channel,
		codec:  codec,
		cfg:    cfg,
		clk:    clk,
		opts:   opts,
		logger: logger.With("session_id", id, "role", opts.Role.String()),
		ids:    idmap.New(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		ctx:    context.Background(),
	}
	s.selGuard = guard.New(clk, cfg.SelectionGuard)
	s.scrGuard = guard.New(clk, cfg.ScrollGuard)
	s.out = capture.NewCoalescer(s.scheduler(), cfg.CoalesceDelay, cfg.CoalesceMaxWait, s.transmit)

	allow := serializer.DefaultAttributeAllowlist
	if len(cfg.Attributes) > 0 {
		allow = append(slices.Clone(allow), cfg.Attributes...)
	}
	s.ser = serializer.New(serializer.Config{IDs: s.ids, Allocator: &idmap.Allocator{}, Allowlist: allow})

	if s.role == Viewer {
		s.container = opts.Container
		if s.container == nil {
			s.container = mirror.NewContainer()
		}
		s.bind(s.container.Document())
	} else {
		s.bind(opts.Document)
	}
	return s, nil
}

// bind builds the document-bound components for doc.
func (s *Session) bind(doc *dom.Document) {
	s.doc = doc
	s.capt = capture.New(capture.Config{
		Doc: doc, IDs: s.ids, Out: s.out,
		Selection: s.selGuard, Scroll: s.scrGuard,
		Logger: s.logger,
	})
	hooks := replay.Hooks{URLChanged: s.urlChanged, Loaded: s.peerLoaded}
	rc := replay.Config{
		Doc: doc, IDs: s.ids,
		Pointer:   s.opts.Pointer,
		Selection: s.selGuard, Scroll: s.scrGuard,
		MatchSize: s.cfg.MatchSize,
		Logger:    s.logger,
	}
	if s.role == Viewer {
		s.builder = mirror.New(mirror.Config{IDs: s.ids, Armer: s.capt, Logger: s.logger})
		hooks.Snapshot = s.mirrored
		rc.Mirror, rc.Container = s.builder, s.container
	} else {
		s.style = capture.NewStyleTransfer(doc, s.ids, s.scheduler(), s.cfg.HoverDwell, s.out)
		s.diffs = differ.New(differ.Config{IDs: s.ids, Serializer: s.ser, Emit: s.out.Send, Logger: s.logger})
		rc.Style, rc.Navigator, rc.Reloader = s.style, s.opts.Navigator, s.opts.Reloader
	}
	rc.Hooks = hooks
	s.rep = replay.New(rc)
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Role returns the session role.
func (s *Session) Role() Role { return s.role }

// State returns the lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	if old := State(s.state.Swap(int32(st))); old != st {
		s.logger.Info("shadow: state", "from", old.String(), "to", st.String())
	}
}

// Container returns the viewer's mirror container, nil on a controller.
// Read it from a hook or through Do.
func (s *Session) Container() *Container { return s.container }

// NavigationHistory returns the locations the session navigated to, oldest
// first.
func (s *Session) NavigationHistory() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// Done is closed once the session has ended and its loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session ended: nil after End or a clean channel
// close, the channel or context error otherwise.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.cause
	default:
		return nil
	}
}

// Start runs the session loop and the channel reader. A controller sends its
// initial snapshot right away and becomes Active; a viewer waits for one.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		if s.State() == Ended {
			return ErrEnded
		}
		return ErrStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	go s.loop()
	go s.read()
	s.post(s.begin)
	return nil
}

// End tears the session down and waits for the loop to exit. Pending
// coalesced payloads and timers are discarded. End is idempotent.
func (s *Session) End() error {
	if s.started.CompareAndSwap(false, true) {
		s.teardown(nil)
		close(s.done)
		return nil
	}
	s.post(func() { s.teardown(nil) })
	<-s.done
	return nil
}

// Do runs fn on the session loop with the session's document: the live page
// on a controller, the mirror document on a viewer. Mutations made by fn are
// observed like any other.
func (s *Session) Do(fn func(doc *dom.Document)) error {
	return s.do(func() { fn(s.doc) })
}

// Resnapshot sends a fresh full snapshot, superseding the viewer's mirror.
func (s *Session) Resnapshot() error {
	if s.role != Controller {
		return ErrNotController
	}
	return s.do(s.sendSnapshot)
}

// Load replaces the controller's live page, typically after a navigation,
// and sends its snapshot.
func (s *Session) Load(doc *dom.Document) error {
	if s.role != Controller {
		return ErrNotController
	}
	if doc == nil {
		return ErrNoDocument
	}
	return s.do(func() {
		s.unbind()
		s.bind(doc)
		s.attach()
		s.sendSnapshot()
	})
}

func (s *Session) do(fn func()) error {
	if s.State() == Ended {
		return ErrEnded
	}
	res := make(chan struct{})
	s.post(func() {
		fn()
		close(res)
	})
	select {
	case <-res:
		return nil
	case <-s.done:
		select {
		case <-res:
			return nil
		default:
			return ErrEnded
		}
	}
}

// --- loop ---

// post queues fn for the loop. It never blocks, so timer callbacks may call
// it while their clock holds a lock.
func (s *Session) post(fn func()) {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) drain() []func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue
	s.queue = nil
	return q
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.teardown(s.ctx.Err())
			return
		case <-s.wake:
		}
		for _, task := range s.drain() {
			task()
			if s.ended {
				return
			}
			s.settle()
		}
	}
}

// settle delivers the mutation records a task left queued.
func (s *Session) settle() {
	s.doc.DeliverMutations()
}

func (s *Session) read() {
	for {
		msg, err := s.ch.Receive(s.ctx)
		if err != nil {
			s.post(func() {
				if s.ended {
					return
				}
				if errors.Is(err, io.EOF) {
					s.logger.Info("shadow: channel closed by peer")
					err = nil
				} else {
					s.logger.Warn("shadow: receive failed", "error", err)
				}
				s.teardown(err)
			})
			return
		}
		s.post(func() { s.receive(msg) })
	}
}

type loopScheduler struct{ s *Session }

func (l loopScheduler) AfterFunc(d time.Duration, fn func()) capture.Timer {
	return l.s.clk.AfterFunc(d, func() { l.s.post(fn) })
}

func (l loopScheduler) Now() time.Time { return l.s.clk.Now() }

func (s *Session) scheduler() capture.Scheduler { return loopScheduler{s: s} }

// --- lifecycle tasks ---

func (s *Session) begin() {
	if s.role == Viewer {
		s.capt.WatchWindow()
		s.capt.WatchPointer()
		s.logger.Info("shadow: viewer waiting for snapshot")
		s.scheduleRequest()
		return
	}
	s.attach()
	s.sendSnapshot()
	s.scheduleSnapshot()
}

// attach starts observing the controller's page.
func (s *Session) attach() {
	s.capt.WatchWindow()
	s.detach = append(s.detach,
		s.doc.Observe(s.diffs.Handle),
		s.doc.Node().AddEventListener(dom.EventNavigate, func(ev *dom.Event) {
			s.navigated(ev.Value)
		}),
	)
}

func (s *Session) unbind() {
	for _, fn := range s.detach {
		fn()
	}
	s.detach = nil
	if s.style != nil {
		s.style.Close()
	}
	s.capt.Close()
}

func (s *Session) sendSnapshot() {
	if s.ended {
		return
	}
	s.style.Close()
	s.doc.TakeRecords()
	s.ids.Reset()
	if o, err := serializer.OriginFromURL(s.doc.URL()); err == nil {
		s.ser.SetOrigin(o)
	}
	snap, ok := s.ser.Serialize(s.doc.Node(), serializer.FreshIDs)
	if !ok {
		s.logger.Warn("shadow: page not serializable", "href", s.doc.URL())
		return
	}
	s.out.Send(protocol.Snapshot{Href: s.doc.URL(), Content: snap})
	s.setState(Active)
	if vp := s.doc.Viewport(); vp.Width > 0 && vp.Height > 0 {
		s.out.Send(protocol.Resize{Width: vp.Width, Height: vp.Height})
	}
	s.logger.Debug("shadow: snapshot sent", "href", s.doc.URL(), "nodes", s.ids.Len())
}

func (s *Session) scheduleSnapshot() {
	if s.cfg.SnapshotInterval <= 0 {
		return
	}
	s.snapTimer = s.scheduler().AfterFunc(s.cfg.SnapshotInterval, func() {
		if s.ended {
			return
		}
		s.sendSnapshot()
		s.scheduleSnapshot()
	})
}

// scheduleRequest asks the controller for a snapshot until one is mirrored.
// A controller that started first has already sent its own to an empty room.
func (s *Session) scheduleRequest() {
	s.reqTimer = s.scheduler().AfterFunc(s.cfg.SnapshotRequest, func() {
		if s.ended || s.State() == Active {
			return
		}
		s.logger.Debug("shadow: requesting snapshot")
		s.out.Send(protocol.Loaded{})
		s.scheduleRequest()
	})
}

func (s *Session) teardown(cause error) {
	if s.ended {
		return
	}
	s.ended = true
	s.cause = cause
	if s.snapTimer != nil {
		s.snapTimer.Stop()
	}
	if s.reqTimer != nil {
		s.reqTimer.Stop()
	}
	s.out.Close()
	s.unbind()
	s.ids.Reset()
	s.setState(Ended)
	if s.cancel != nil {
		s.cancel()
	}
	if err := s.ch.Close(); err != nil {
		s.logger.Debug("shadow: channel close", "error", err)
	}
	s.logger.Info("shadow: session ended", "error", cause)
}

// --- outbound ---

func (s *Session) transmit(p protocol.Payload) {
	if s.ended {
		return
	}
	env := protocol.New(p)
	msg, err := s.codec.Marshal(env)
	if err != nil {
		s.logger.Warn("shadow: encode failed", "envelope", env.String(), "error", err)
		return
	}
	if err := s.ch.Send(s.ctx, msg); err != nil {
		s.logger.Warn("shadow: send failed", "envelope", env.String(), "error", err)
	}
}

// --- inbound ---

func (s *Session) receive(msg []byte) {
	env, err := s.codec.Unmarshal(msg)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownCategory) || errors.Is(err, protocol.ErrUnknownSubtype) {
			s.logger.Debug("shadow: ignored message", "error", err)
		} else {
			s.logger.Warn("shadow: malformed message", "bytes", len(msg), "error", err)
		}
		return
	}
	if !s.accepts(env) {
		s.logger.Debug("shadow: dropped envelope", "envelope", env.String(), "state", s.State().String())
		return
	}
	if p, ok := env.Payload.(protocol.ChangeURL); ok && s.role == Controller {
		s.remoteURL = p.URL
	}
	s.rep.Apply(env)
	if s.opts.Hooks.Applied != nil {
		s.opts.Hooks.Applied(env)
	}
}

// accepts applies the lifecycle and role gates.
func (s *Session) accepts(env protocol.Envelope) bool {
	cat := env.Category()
	if s.State() != Active && cat != protocol.CategoryDOM {
		return false
	}
	switch s.role {
	case Controller:
		return cat == protocol.CategoryInput || cat == protocol.CategoryMouse ||
			cat == protocol.CategorySelection || cat == protocol.CategoryWindow
	default:
		return cat == protocol.CategoryDOM || cat == protocol.CategoryWindow ||
			cat == protocol.CategorySelection || cat == protocol.CategoryStyle
	}
}

// mirrored runs after the viewer rebuilt a snapshot.
func (s *Session) mirrored(href string) {
	s.setState(Active)
	if s.reqTimer != nil {
		s.reqTimer.Stop()
		s.reqTimer = nil
	}
	if s.container.MarkLoaded() {
		s.logger.Info("shadow: mirror loaded", "href", href)
	}
	s.out.Send(protocol.Loaded{Href: href})
	if vp := s.doc.Viewport(); vp.Width > 0 && vp.Height > 0 {
		s.out.Send(protocol.Resize{Width: vp.Width, Height: vp.Height})
	}
}

func (s *Session) record(url string) {
	s.mu.Lock()
	s.history = append(s.history, url)
	s.mu.Unlock()
}

// navigated runs when the controller's page changed location.
func (s *Session) navigated(url string) {
	if url == s.remoteURL {
		s.remoteURL = ""
		return
	}
	s.record(url)
	s.out.Send(protocol.ChangeURL{URL: url})
	if s.opts.Hooks.Navigated != nil {
		s.opts.Hooks.Navigated(url)
	}
}

// urlChanged runs after a received CHANGE_URL was applied.
func (s *Session) urlChanged(url string) {
	s.remoteURL = ""
	s.record(url)
	if s.role == Controller && s.opts.Hooks.Navigated != nil {
		s.opts.Hooks.Navigated(url)
	}
}

// peerLoaded runs on a received WINDOW LOADED. An empty href is a viewer
// without a mirror asking for a snapshot.
func (s *Session) peerLoaded(href string) {
	if href == "" {
		if s.role == Controller {
			s.logger.Info("shadow: snapshot requested by viewer")
			s.sendSnapshot()
		}
		return
	}
	if s.opts.Hooks.Loaded != nil {
		s.opts.Hooks.Loaded(href)
	}
}
