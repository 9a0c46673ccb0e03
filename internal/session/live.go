package session

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parivox/internal/bargein"
	"github.com/MrWong99/parivox/internal/capture"
	"github.com/MrWong99/parivox/internal/observe"
	"github.com/MrWong99/parivox/internal/persona"
	"github.com/MrWong99/parivox/internal/playback"
	"github.com/MrWong99/parivox/internal/tools"
	"github.com/MrWong99/parivox/pkg/audio"
	"github.com/MrWong99/parivox/pkg/live"
	"github.com/MrWong99/parivox/pkg/vad"
)

// reasonServerInterrupted is the barge-in reason for a server-side
// interruption.
const reasonServerInterrupted = "server_interrupted"

// liveSession is one connection and the devices and pipelines bound to it.
// It implements [capture.Uplink].
type liveSession struct {
	c       *Controller
	id      string
	persona persona.Persona
	baseCtx context.Context

	conn    live.Conn
	speaker audio.Speaker
	mic     audio.Microphone
	vad     vad.SessionHandle

	sched      *playback.Scheduler
	arbiter    *bargein.Arbiter
	dispatcher *tools.Dispatcher
	outbox     *capture.Outbox

	open   atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}
}

func newLiveSession(ctx context.Context, c *Controller, p persona.Persona) *liveSession {
	ws := c.cfg.Workspace
	return &liveSession{
		c:       c,
		id:      newSessionID(),
		persona: p,
		baseCtx: context.WithoutCancel(ctx),
		dispatcher: tools.NewDispatcher(tools.Sinks{
			Resume:  ws,
			Ledger:  ws,
			Planner: ws,
			Context: ws,
		}, tools.WithMetrics(c.cfg.Metrics)),
		outbox: capture.NewOutbox(c.cfg.OutboxDepth),
	}
}

// attachSpeaker builds the playback side on spk.
func (s *liveSession) attachSpeaker(spk audio.Speaker) {
	cfg := s.c.cfg
	s.speaker = spk
	s.sched = playback.New(spk,
		playback.WithSourceRate(cfg.PlaybackWireRate),
		playback.WithMetrics(cfg.Metrics),
	)
	opts := []bargein.Option{bargein.WithMetrics(cfg.Metrics)}
	if cfg.TailWindow > 0 {
		opts = append(opts, bargein.WithTailWindow(cfg.TailWindow))
	}
	s.arbiter = bargein.NewArbiter(s.sched, opts...)
}

// Open implements [capture.Uplink].
func (s *liveSession) Open() bool { return s.open.Load() }

// SendAudio implements [capture.Uplink].
func (s *liveSession) SendAudio(chunk string) bool { return !s.outbox.Push(chunk) }

// run starts the receive loop, the send loop and capture. The session ends
// when any of them returns an error.
func (s *liveSession) run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})

	pipeline := capture.New(s.mic, s.vad, s.arbiter, s,
		capture.WithWireRate(s.c.cfg.CaptureWireRate),
		capture.WithMetrics(s.c.cfg.Metrics),
		capture.WithClock(s.c.now),
	)

	s.open.Store(true)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return s.receive(gctx) })
	g.Go(func() error { return s.send(gctx) })
	g.Go(func() error { return pipeline.Run(gctx) })

	go func() {
		err := g.Wait()
		s.open.Store(false)
		close(s.done)
		s.c.ended(s, err)
	}()
}

// stop releases everything the session holds. It waits for the session's
// goroutines, so it must not be called from one of them.
func (s *liveSession) stop() {
	s.open.Store(false)
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.mic != nil {
		_ = s.mic.Close()
	}
	if s.done != nil {
		<-s.done
	}
	if s.sched != nil {
		_ = s.sched.Close()
	}
	if s.speaker != nil {
		_ = s.speaker.Close()
	}
	if s.vad != nil {
		_ = s.vad.Close()
	}
}

// send drains the outbox onto the transport in capture order.
func (s *liveSession) send(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk := <-s.outbox.C():
			if !s.open.Load() {
				continue
			}
			if err := s.conn.Send(ctx, live.NewRealtimeAudio(chunk)); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: send audio: %w", ErrTransport, err)
			}
		}
	}
}

// receive reads and routes inbound envelopes. A malformed envelope is
// dropped and the loop continues.
func (s *liveSession) receive(ctx context.Context) error {
	log := observe.Logger(ctx).With("session_id", s.id)
	for {
		data, err := s.conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if live.IsNormalClosure(err) {
				return err
			}
			return fmt.Errorf("%w: receive: %w", ErrTransport, err)
		}
		msg, err := live.Decode(data)
		if err != nil {
			s.c.cfg.Metrics.RecordDecodeError(ctx)
			log.Warn("session: dropping malformed message", "err", err)
			continue
		}
		s.route(ctx, msg)
	}
}

func (s *liveSession) route(ctx context.Context, msg *live.ServerMessage) {
	log := observe.Logger(ctx).With("session_id", s.id)
	if msg.SetupComplete != nil {
		log.Debug("session: setup complete")
	}
	if e := msg.Error; e != nil {
		log.Warn("session: server reported error", "code", e.Code, "status", e.Status, "message", e.Message)
	}
	if sc := msg.ServerContent; sc != nil {
		s.content(ctx, sc)
	}
	if tc := msg.ToolCall; tc != nil {
		s.toolCalls(ctx, tc.FunctionCalls)
	}
	if cc := msg.ToolCallCancellation; cc != nil {
		log.Debug("session: tool calls cancelled", "ids", cc.IDs)
	}
}

func (s *liveSession) content(ctx context.Context, sc *live.ServerContent) {
	if sc.Interrupted {
		n := s.sched.Flush()
		s.c.cfg.Metrics.RecordBargeIn(ctx, reasonServerInterrupted)
		observe.Logger(ctx).Debug("session: server interrupted playback", "session_id", s.id, "flushed", n)
	}
	if t := sc.InputTranscription; t != nil && t.Text != "" {
		s.transcript(RoleUser, t.Text)
	}
	if t := sc.OutputTranscription; t != nil && t.Text != "" {
		s.transcript(RoleModel, t.Text)
	}
	if sc.ModelTurn == nil {
		return
	}
	for _, part := range sc.ModelTurn.Parts {
		if part.Text != "" {
			s.transcript(RoleModel, part.Text)
		}
		if part.InlineData != nil && part.InlineData.Data != "" {
			s.play(ctx, part.InlineData.Data)
		}
	}
}

// play hands an inbound chunk to the scheduler unless the arbiter refuses it.
func (s *liveSession) play(ctx context.Context, data string) {
	if !s.arbiter.Admit(s.c.now()) {
		return
	}
	pcm, err := live.DecodeAudio(data)
	if err != nil {
		s.c.cfg.Metrics.RecordDecodeError(ctx)
		observe.Logger(ctx).Warn("session: dropping undecodable audio chunk", "session_id", s.id, "err", err)
		return
	}
	s.sched.Enqueue(audio.Int16ToFloat(pcm))
}

func (s *liveSession) transcript(role, text string) {
	s.c.emit(Event{Type: EventTranscript, SessionID: s.id, Persona: s.persona.Key, Role: role, Text: text})
}

// toolCalls dispatches calls in arrival order. Only the first transfer in a
// message is acted on.
func (s *liveSession) toolCalls(ctx context.Context, calls []live.FunctionCall) {
	transferred := false
	for _, fc := range calls {
		out := s.dispatcher.Dispatch(ctx, tools.Call{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		switch {
		case out.Transfer != nil:
			if transferred {
				observe.Logger(ctx).Warn("session: ignoring second transfer in one message", "tool", fc.Name)
				continue
			}
			transferred = true
			s.transfer(ctx, *out.Transfer)
		case out.Response != nil:
			s.respond(ctx, *out.Response)
		}
	}
}

// respond sends one tool response. Responses that cannot be delivered are
// dropped, not retried.
func (s *liveSession) respond(ctx context.Context, r tools.Result) {
	log := observe.Logger(ctx).With("session_id", s.id, "tool", r.Name, "call_id", r.ID)
	if !s.open.Load() {
		s.c.cfg.Metrics.RecordDroppedToolResponse(ctx, r.Name)
		log.Warn("dropping tool response", "err", "transport not open")
		return
	}
	if err := s.conn.Send(ctx, live.NewToolResponse(r.ID, r.Name, r.Payload())); err != nil {
		s.c.cfg.Metrics.RecordDroppedToolResponse(ctx, r.Name)
		log.Warn("dropping tool response", "err", err)
	}
}

// transfer records the hand-off in the workspace and asks the controller to
// reconnect with the target persona.
func (s *liveSession) transfer(ctx context.Context, t tools.Transfer) {
	reg, ws := s.c.cfg.Personas, s.c.cfg.Workspace
	var target persona.Persona
	if t.ToMaster {
		target = reg.Default()
		ws.RecordReturn(target.Name, t.Reason)
	} else {
		target = reg.Resolve(t.Target)
		ws.RecordTransfer(target.Key, t.Reason)
	}
	observe.Logger(ctx).Info("session: transferring", "session_id", s.id, "from", s.persona.Key, "to", target.Key)
	go s.c.transfer(s, target.Key)
}
