// Package session owns the live connection to the remote speech service.
//
// A [Controller] runs at most one session at a time. Starting a session
// acquires the speaker, dials the transport, sends the setup and initial
// context envelopes, and only then opens the microphone and starts capture.
// Every persona change tears the whole pipeline down and performs a fresh
// handshake; nothing carries over between sessions except the workspace.
//
// A failed session moves the controller to [StateError] and emits an
// [EventSessionFailed] event. The controller never reconnects on its own.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/parivox/internal/capture"
	"github.com/MrWong99/parivox/internal/observe"
	"github.com/MrWong99/parivox/internal/persona"
	"github.com/MrWong99/parivox/internal/playback"
	"github.com/MrWong99/parivox/internal/tools"
	"github.com/MrWong99/parivox/pkg/audio"
	"github.com/MrWong99/parivox/pkg/live"
	"github.com/MrWong99/parivox/pkg/vad"
)

// ErrTransport marks dial, read and write failures on the live transport.
var ErrTransport = errors.New("session: transport failure")

// ErrUnknownPersona is returned when a persona key is not in the registry.
var ErrUnknownPersona = errors.New("session: unknown persona")

// Failure kinds recorded on the session failure counter.
const (
	failureTransport = "transport"
	failureDevice    = "device"
	failureSetup     = "setup"
)

const defaultEventBuffer = 64

// Workspace is the state the session reads the user context from and writes
// tool side effects and transfer lines to. [workspace.Workspace] implements
// it.
type Workspace interface {
	tools.ResumeSink
	tools.LedgerSink
	tools.PlannerSink
	tools.ContextSink

	// UserContext renders the profile and summary sent at session start.
	UserContext() (string, error)

	// RecordTransfer logs a hand-off to the persona with key.
	RecordTransfer(key, reason string)

	// RecordReturn logs a return to the default persona called name.
	RecordReturn(name, reason string)
}

// Config holds all dependencies for a [Controller].
type Config struct {
	Transport live.Transport
	Devices   audio.Devices
	VAD       vad.Engine
	VADConfig vad.Config
	Personas  *persona.Registry
	Workspace Workspace

	// Model is the model resource name. Default: [live.DefaultModel].
	Model string

	// Location is the time zone of the date sent in the initial context.
	// Default: time.Local.
	Location *time.Location

	// ConnectTimeout bounds dialing and the handshake. Zero means no bound
	// beyond the caller's context.
	ConnectTimeout time.Duration

	// TailWindow overrides [bargein.DefaultTailWindow] when positive.
	TailWindow time.Duration

	// CaptureWireRate is the outbound wire rate. Default: [capture.DefaultWireRate].
	CaptureWireRate int

	// PlaybackWireRate is the inbound wire rate. Default: [playback.DefaultSourceRate].
	PlaybackWireRate int

	// OutboxDepth is the number of encoded chunks buffered between capture
	// and the transport. Default: 8.
	OutboxDepth int

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Option configures a [Controller].
type Option func(*Controller)

// WithClock replaces time.Now for speech timestamps and the initial context.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithEventBuffer sets the capacity of the events channel. Events are dropped
// when the channel is full.
func WithEventBuffer(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.events = make(chan Event, n)
		}
	}
}

// Controller is the session state machine. All exported methods are safe for
// concurrent use.
type Controller struct {
	cfg    Config
	now    func() time.Time
	events chan Event

	// lifecycle serialises Start, SwitchPersona, Stop, transfers and the
	// handling of sessions that end on their own.
	lifecycle sync.Mutex
	cur       *liveSession

	mu      sync.Mutex
	state   State
	persona persona.Persona
}

// New creates a Controller in [StateIdle] with the default persona selected.
func New(cfg Config, opts ...Option) *Controller {
	if cfg.Model == "" {
		cfg.Model = live.DefaultModel
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.CaptureWireRate <= 0 {
		cfg.CaptureWireRate = capture.DefaultWireRate
	}
	if cfg.PlaybackWireRate <= 0 {
		cfg.PlaybackWireRate = playback.DefaultSourceRate
	}
	if cfg.OutboxDepth <= 0 {
		cfg.OutboxDepth = 8
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	c := &Controller{
		cfg:     cfg,
		now:     time.Now,
		events:  make(chan Event, defaultEventBuffer),
		persona: cfg.Personas.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Events returns the channel events are delivered on.
func (c *Controller) Events() <-chan Event { return c.events }

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Persona returns the active persona, or the one the next Start will use.
func (c *Controller) Persona() persona.Persona {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persona
}

// Start opens a session for the persona with key, or for the current persona
// when key is empty. A running session is torn down first. Start returns once
// the handshake has been sent and capture is running.
func (c *Controller) Start(ctx context.Context, key string) error {
	p := c.Persona()
	if key != "" {
		var err error
		if p, err = c.lookup(key); err != nil {
			return err
		}
	}
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.connect(ctx, p)
}

// SwitchPersona selects the persona with key. If a session is running it is
// replaced by a new one for that persona; otherwise the persona is used by
// the next Start.
func (c *Controller) SwitchPersona(ctx context.Context, key string) error {
	p, err := c.lookup(key)
	if err != nil {
		return err
	}
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.cur == nil {
		c.setPersona(p)
		return nil
	}
	return c.connect(ctx, p)
}

// Stop ends the running session. Calling Stop without a session is a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	sess := c.cur
	if sess == nil {
		return nil
	}
	c.teardown(ctx)
	c.setState(StateClosed, sess.id)
	return nil
}

func (c *Controller) lookup(key string) (persona.Persona, error) {
	p, ok := c.cfg.Personas.Lookup(key)
	if !ok {
		return persona.Persona{}, fmt.Errorf("%w: %q", ErrUnknownPersona, key)
	}
	return p, nil
}

// connect replaces the running session with a new one for p. The caller must
// hold c.lifecycle.
func (c *Controller) connect(ctx context.Context, p persona.Persona) (err error) {
	c.teardown(ctx)
	c.setPersona(p)

	sess := newLiveSession(ctx, c, p)
	c.setState(StateConnecting, sess.id)

	ctx, span := observe.StartSpan(ctx, "session.connect",
		attribute.String("persona", p.Key), attribute.String("session_id", sess.id))
	defer span.End()
	log := observe.Logger(ctx).With("persona", p.Key, "session_id", sess.id)
	start := time.Now()

	defer func() {
		if err != nil {
			span.RecordError(err)
			c.fail(ctx, sess, err)
		}
	}()

	decls, err := p.Declarations()
	if err != nil {
		return fmt.Errorf("session: persona %s: %w", p.Key, err)
	}
	if sess.vad, err = c.cfg.VAD.NewSession(c.cfg.VADConfig); err != nil {
		return fmt.Errorf("session: vad: %w", err)
	}

	spk, err := c.cfg.Devices.OpenSpeaker(ctx)
	if err != nil {
		return deviceError("open speaker", err)
	}
	sess.attachSpeaker(spk)

	dialCtx := ctx
	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}
	if sess.conn, err = c.cfg.Transport.Dial(dialCtx); err != nil {
		return fmt.Errorf("%w: dial: %w", ErrTransport, err)
	}

	setup := live.NewSetup(live.SetupParams{
		Model:       c.cfg.Model,
		Voice:       p.Voice,
		Instruction: p.Instruction,
		Tools:       decls,
	})
	if err := sess.conn.Send(dialCtx, setup); err != nil {
		return fmt.Errorf("%w: send setup: %w", ErrTransport, err)
	}
	userCtx, uerr := c.cfg.Workspace.UserContext()
	if uerr != nil {
		log.Warn("session: user context unavailable", "err", uerr)
		userCtx = "{}"
	}
	initial := live.NewInitialContext(userCtx, c.now().In(c.cfg.Location), p.Name)
	if err := sess.conn.Send(dialCtx, initial); err != nil {
		return fmt.Errorf("%w: send initial context: %w", ErrTransport, err)
	}

	mic, err := c.cfg.Devices.OpenMicrophone(ctx)
	if err != nil {
		return deviceError("open microphone", err)
	}
	sess.mic = mic

	c.cur = sess
	c.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	sess.run(ctx)
	c.setState(StateReady, sess.id)
	c.cfg.Metrics.RecordConnect(ctx, p.Key, time.Since(start))
	log.Info("session started", "voice", p.Voice, "tools", len(decls), "tail_window", sess.arbiter.TailWindow())
	return nil
}

// fail releases whatever a failed connect acquired and reports the failure.
func (c *Controller) fail(ctx context.Context, sess *liveSession, err error) {
	sess.stop()
	c.failed(ctx, sess, err)
}

// failed moves to StateError and emits the failure event.
func (c *Controller) failed(ctx context.Context, sess *liveSession, err error) {
	kind := failureKind(err)
	c.cfg.Metrics.RecordSessionFailure(ctx, kind)
	observe.Logger(ctx).Error("session failed", "persona", sess.persona.Key, "session_id", sess.id, "kind", kind, "err", err)
	c.setState(StateError, sess.id)
	c.emit(Event{Type: EventSessionFailed, SessionID: sess.id, Persona: sess.persona.Key, State: StateError, Err: err})
}

// teardown stops the running session, if any, leaving the controller in
// StateClosing. The caller must hold c.lifecycle and set the next state.
func (c *Controller) teardown(ctx context.Context) {
	sess := c.cur
	if sess == nil {
		return
	}
	c.cur = nil
	c.setState(StateClosing, sess.id)
	sess.stop()
	c.cfg.Metrics.ActiveSessions.Add(ctx, -1)
	observe.Logger(ctx).Info("session stopped", "persona", sess.persona.Key, "session_id", sess.id)
}

// ended handles a session whose goroutines returned on their own.
func (c *Controller) ended(sess *liveSession, err error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.cur != sess {
		return
	}
	ctx := sess.baseCtx
	c.teardown(ctx)
	if err == nil || live.IsNormalClosure(err) {
		observe.Logger(ctx).Info("session closed by remote", "persona", sess.persona.Key, "session_id", sess.id)
		c.setState(StateClosed, sess.id)
		return
	}
	c.failed(ctx, sess, err)
}

// transfer hands the conversation to key once the session that asked for it
// has finished routing the current message.
func (c *Controller) transfer(sess *liveSession, key string) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.cur != sess {
		return
	}
	p, err := c.lookup(key)
	if err != nil {
		observe.Logger(sess.baseCtx).Warn("session: transfer target vanished", "target", key, "err", err)
		return
	}
	if err := c.connect(sess.baseCtx, p); err != nil {
		// connect has already emitted EventSessionFailed.
		observe.Logger(sess.baseCtx).Debug("session: transfer connect failed", "target", p.Key, "err", err)
	}
}

func (c *Controller) setPersona(p persona.Persona) {
	c.mu.Lock()
	changed := c.persona.Key != p.Key
	c.persona = p
	c.mu.Unlock()
	if changed {
		slog.Info("persona changed", "persona", p.Key, "name", p.Name)
		c.emit(Event{Type: EventPersonaChanged, Persona: p.Key, State: c.State()})
	}
}

func (c *Controller) setState(s State, sessionID string) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	key := c.persona.Key
	c.mu.Unlock()
	if prev == s {
		return
	}
	c.cfg.Metrics.RecordSessionTransition(context.Background(), s.String())
	slog.Info("session state changed", "from", prev.String(), "to", s.String(), "persona", key, "session_id", sessionID)
	c.emit(Event{Type: EventStateChanged, SessionID: sessionID, Persona: key, State: s})
}

// emit delivers ev without blocking.
func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		slog.Debug("session: event channel full, dropping event", "type", ev.Type.String())
	}
}

func deviceError(op string, err error) error {
	if errors.Is(err, audio.ErrDevice) {
		return fmt.Errorf("session: %s: %w", op, err)
	}
	return fmt.Errorf("session: %s: %w: %w", op, audio.ErrDevice, err)
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, audio.ErrDevice):
		return failureDevice
	case errors.Is(err, ErrTransport):
		return failureTransport
	default:
		return failureSetup
	}
}

func newSessionID() string { return uuid.NewString() }
