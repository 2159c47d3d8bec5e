// Package session drives one realtime voice conversation: it acquires the
// microphone, the speaker and the remote live session, streams capture
// windows out, schedules received speech for gapless playback, accumulates
// the transcript and tears everything down again.
//
// Every state change happens on a single dispatch goroutine that drains an
// inbox channel. The provider event pump and the audio sender only post to
// that inbox, and the capture callback feeds an unbounded queue the same
// goroutine drains, so handlers never interleave.
package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/superslash/slashvoice/internal/observe"
	"github.com/superslash/slashvoice/internal/transcript"
	"github.com/superslash/slashvoice/pkg/audio"
	"github.com/superslash/slashvoice/pkg/audio/playback"
	"github.com/superslash/slashvoice/pkg/provider/live"
)

// ErrAlreadyStarted is returned by [Controller.Start] on a controller that was
// started or closed before.
var ErrAlreadyStarted = errors.New("session: controller already started")

// errClosedBeforeOpen is the cause reported when the remote end hangs up
// before acknowledging the setup.
var errClosedBeforeOpen = errors.New("remote closed before setup completed")

const inboxSize = 256

// Config holds the per-session settings.
type Config struct {
	// Live is passed to [live.Provider.Connect]. Its Input and Output formats
	// are also used to open the capture and output devices.
	Live live.SessionConfig

	// CaptureWindow is the number of samples per outbound window. Zero
	// selects [audio.DefaultCaptureWindow].
	CaptureWindow int
}

// Hooks are optional observers invoked on the dispatch goroutine. They must
// not block and must not call back into the controller's blocking methods.
type Hooks struct {
	// OnState fires after every state transition.
	OnState func(State)

	// OnScheduled fires after a received chunk was placed on the playback
	// timeline.
	OnScheduled func(playback.Source)

	// OnIdle fires when scheduled playback runs out.
	OnIdle func()

	// OnDegraded fires when the output device fails while scheduling.
	OnDegraded func(error)
}

// Option configures a [Controller].
type Option func(*Controller)

// WithID sets the identifier attached to log lines.
func WithID(id string) Option {
	return func(c *Controller) {
		c.id = id
	}
}

// WithMetrics overrides the metrics sink. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithOnClose registers the closure callback. It fires exactly once, on the
// dispatch goroutine, before [Controller.Done] is closed.
func WithOnClose(fn func(Result)) Option {
	return func(c *Controller) {
		c.onClose = fn
	}
}

// WithHooks installs observers for scheduling and state changes.
func WithHooks(h Hooks) Option {
	return func(c *Controller) {
		c.hooks = h
	}
}

type inputKind int

const (
	inEvent inputKind = iota
	inEventsClosed
	inAcquired
	inSendFailed
	inClose
)

// input is one item in the dispatch inbox.
type input struct {
	kind    inputKind
	event   live.Event
	acq     acquisition
	err     error
}

// acquisition is the outcome of opening devices and the remote session.
type acquisition struct {
	capture audio.CaptureDevice
	output  audio.OutputDevice
	sess    live.Session
	err     error
	reason  string
}

// Controller runs a single voice session through Connecting, Active,
// Closing and Closed. A Controller cannot be restarted.
type Controller struct {
	id       string
	platform audio.Platform
	provider live.Provider
	cfg      Config
	metrics  *observe.Metrics
	onClose  func(Result)
	hooks    Hooks
	log      *slog.Logger

	acc      *transcript.Accumulator
	state    atomic.Int32
	degraded atomic.Bool
	sched    atomic.Pointer[playback.Scheduler]

	inbox    chan input
	captured *queue[[]float32]
	idle     chan struct{}
	stopping chan struct{}
	done     chan struct{}
	result   Result

	mu      sync.Mutex
	started bool
	closed  bool

	// Owned by the dispatch goroutine.
	ctx           context.Context
	startedAt     time.Time
	cancelAcquire context.CancelFunc
	acquiring     bool
	capture       audio.CaptureDevice
	sess          live.Session
	chunker       *audio.Chunker
	sendq         *queue[audio.Blob]
	cancelSend    context.CancelFunc
	senderDone    chan struct{}
	fatal         error
	reason        string
}

// New returns a Controller in [StateConnecting]. Nothing is acquired until
// [Controller.Start].
func New(platform audio.Platform, provider live.Provider, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		platform: platform,
		provider: provider,
		cfg:      cfg,
		acc:      transcript.NewAccumulator(),
		inbox:    make(chan input, inboxSize),
		captured: newQueue[[]float32](),
		idle:     make(chan struct{}, 1),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
		ctx:      context.Background(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.log = slog.Default()
	if c.id != "" {
		c.log = c.log.With("session_id", c.id)
	}
	return c
}

// Start begins acquisition and returns immediately. ctx bounds acquisition
// only: cancelling it while Connecting ends the session, cancelling it later
// has no effect. Use [Controller.Close] to end an active session.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return ErrAlreadyStarted
	}
	c.started = true

	c.ctx = context.WithoutCancel(ctx)
	c.startedAt = time.Now()
	c.metrics.RecordSessionStarted(c.ctx)
	c.log.Info("session: connecting",
		"input", c.cfg.Live.Input.String(),
		"output", c.cfg.Live.Output.String(),
		"voice", c.cfg.Live.Voice,
	)

	actx, cancel := context.WithCancel(ctx)
	c.cancelAcquire = cancel
	c.acquiring = true

	go c.run()
	go c.acquire(actx)
	return nil
}

// Close requests a local close and returns without waiting. Use
// [Controller.Wait] or [Controller.Done] to observe completion. Closing a
// controller that was never started moves it straight to Closed.
func (c *Controller) Close() {
	c.mu.Lock()
	if !c.started {
		if !c.closed {
			c.closed = true
			close(c.stopping)
			c.finish()
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	select {
	case c.inbox <- input{kind: inClose}:
	case <-c.stopping:
	case <-c.done:
	}
}

// Done returns a channel that is closed once the session reached Closed.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Wait blocks until the session is Closed or ctx is done.
func (c *Controller) Wait(ctx context.Context) (Result, error) {
	select {
	case <-c.done:
		return c.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Status returns a read-only view for display.
func (c *Controller) Status() Status {
	st := Status{
		State:      c.State(),
		Degraded:   c.degraded.Load(),
		Transcript: c.acc.Snapshot(),
	}
	if s := c.sched.Load(); s != nil && st.State == StateActive {
		st.Speaking = s.Playing()
	}
	return st
}

// ── Dispatch loop ───────────────────────────────────────────────────────────

func (c *Controller) run() {
	for c.State() != StateClosed {
		select {
		case in := <-c.inbox:
			c.handle(in)
		case <-c.captured.ready:
			for _, samples := range c.captured.take() {
				c.handleCapture(samples)
			}
		case <-c.idle:
			c.log.Debug("session: playback idle")
			if c.hooks.OnIdle != nil {
				c.hooks.OnIdle()
			}
		}
	}
}

func (c *Controller) handle(in input) {
	switch in.kind {
	case inAcquired:
		c.handleAcquired(in.acq)
	case inClose:
		c.beginClose("local", nil)
	case inSendFailed:
		c.beginClose("send", &ConnectionError{Op: "send", Err: in.err})
	case inEventsClosed:
		c.handleEventsClosed()
	case inEvent:
		c.handleEvent(in.event)
	}
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	c.log.Debug("session: state changed", "state", s.String())
	if c.hooks.OnState != nil {
		c.hooks.OnState(s)
	}
}

func (c *Controller) handleAcquired(acq acquisition) {
	c.acquiring = false
	c.cancelAcquire()

	if acq.err != nil {
		if c.State() == StateConnecting {
			c.fatal = acq.err
			c.reason = acq.reason
			c.log.Warn("session: acquisition failed", "err", acq.err)
			c.setState(StateClosing)
			close(c.stopping)
		}
		c.finish()
		return
	}

	c.capture = acq.capture
	c.sess = acq.sess
	c.sched.Store(playback.New(acq.output, playback.WithIdleHandler(c.signalIdle)))

	if c.State() == StateClosing {
		c.teardown()
		c.finish()
		return
	}

	sctx, cancel := context.WithCancel(c.ctx)
	c.cancelSend = cancel
	c.sendq = newQueue[audio.Blob]()
	c.senderDone = make(chan struct{})
	go c.send(sctx, acq.sess, c.sendq)
	go c.pump(acq.sess)
}

func (c *Controller) handleEventsClosed() {
	err := c.sess.Err()
	switch {
	case err != nil:
		c.beginClose("remote_error", &ConnectionError{Op: "receive", Err: err})
	case c.State() == StateConnecting:
		c.beginClose("remote_close", &ConnectionError{Op: "connect", Err: errClosedBeforeOpen})
	default:
		c.beginClose("remote_close", nil)
	}
}

func (c *Controller) handleEvent(ev live.Event) {
	switch ev.Type {
	case live.EventError:
		c.beginClose("remote_error", &ConnectionError{Op: "receive", Err: ev.Err})
		return
	case live.EventOpen:
		if c.State() == StateConnecting {
			c.activate()
		}
		return
	}

	if c.State() != StateActive {
		c.log.Debug("session: dropping event", "type", ev.Type.String(), "state", c.State().String())
		return
	}

	switch ev.Type {
	case live.EventAudio:
		c.handleAudio(ev.Audio)
	case live.EventInterrupted:
		c.sched.Load().Interrupt()
		c.metrics.Interruptions.Add(c.ctx, 1)
		c.log.Debug("session: playback interrupted")
	case live.EventInputTranscript:
		c.acc.AppendFragment(transcript.RoleUser, ev.Text)
		c.metrics.RecordTranscriptFragment(c.ctx, string(transcript.RoleUser))
	case live.EventOutputTranscript:
		c.acc.AppendFragment(transcript.RoleModel, ev.Text)
		c.metrics.RecordTranscriptFragment(c.ctx, string(transcript.RoleModel))
	case live.EventTurnComplete:
		c.acc.CommitTurn()
	}
}

func (c *Controller) activate() {
	c.setState(StateActive)
	c.chunker = audio.NewChunker(c.capture.Format(), c.cfg.CaptureWindow)
	if err := c.capture.Start(c.onCaptureSamples); err != nil {
		c.beginClose("permission", &PermissionError{Err: err})
		return
	}
	c.log.Info("session: active")
}

func (c *Controller) handleAudio(blob audio.Blob) {
	c.metrics.ChunksReceived.Add(c.ctx, 1)

	sched := c.sched.Load()
	frame, err := audio.Decode(blob, sched.Format())
	if err != nil {
		c.metrics.DecodeErrors.Add(c.ctx, 1)
		c.log.Warn("session: dropping undecodable chunk", "err", err)
		return
	}

	src, err := sched.Enqueue(frame)
	if err != nil {
		var devErr *audio.PlaybackDeviceError
		if errors.As(err, &devErr) {
			c.degraded.Store(true)
			c.metrics.PlaybackDegraded.Add(c.ctx, 1)
			if c.hooks.OnDegraded != nil {
				c.hooks.OnDegraded(err)
			}
		}
		c.log.Warn("session: playback degraded", "err", err)
		return
	}
	if c.hooks.OnScheduled != nil {
		c.hooks.OnScheduled(src)
	}
}

func (c *Controller) handleCapture(samples []float32) {
	if c.State() != StateActive {
		return
	}
	for _, frame := range c.chunker.Write(samples) {
		c.sendq.push(audio.Encode(frame))
	}
}

// ── Teardown ────────────────────────────────────────────────────────────────

// beginClose moves the session to Closing. The first fatal error wins. If
// acquisition is still running, teardown waits for its result.
func (c *Controller) beginClose(reason string, err error) {
	if c.State() >= StateClosing {
		return
	}
	c.reason = reason
	c.fatal = err
	if err != nil {
		c.log.Warn("session: closing", "reason", reason, "err", err)
	} else {
		c.log.Info("session: closing", "reason", reason)
	}
	c.setState(StateClosing)
	close(c.stopping)

	if c.acquiring {
		c.cancelAcquire()
		return
	}
	c.teardown()
	c.finish()
}

// teardown releases capture, the remote session and playback in that
// order. Failures are logged and never retried.
func (c *Controller) teardown() {
	var errs []error

	if c.capture != nil {
		if err := c.capture.Close(); err != nil {
			errs = append(errs, &TeardownError{Resource: "capture", Err: err})
		}
	}
	c.captured.close()

	if c.sendq != nil {
		c.sendq.close()
	}
	if c.sess != nil {
		if err := c.sess.Close(); err != nil {
			errs = append(errs, &TeardownError{Resource: "remote", Err: err})
		}
	}
	if c.cancelSend != nil {
		c.cancelSend()
		<-c.senderDone
	}

	if s := c.sched.Load(); s != nil {
		if err := s.Shutdown(); err != nil {
			errs = append(errs, &TeardownError{Resource: "playback", Err: err})
		}
	}

	for _, err := range errs {
		c.log.Warn("session: teardown", "err", err)
	}
}

// finish moves to Closed, fires the closure callback and releases waiters.
func (c *Controller) finish() {
	c.result = Result{
		Transcript: c.acc.Snapshot(),
		Err:        c.fatal,
	}
	c.setState(StateClosed)

	if !c.startedAt.IsZero() {
		reason := c.reason
		if reason == "" {
			reason = "local"
		}
		c.metrics.RecordSessionClosed(c.ctx, reason, time.Since(c.startedAt))
	}
	c.log.Info("session: closed", "reason", c.reason, "turns", len(c.result.Transcript))

	if c.onClose != nil {
		c.onClose(c.result)
	}
	close(c.done)
}

// ── Workers ─────────────────────────────────────────────────────────────────

// acquire opens capture, output and the remote session in order, releasing
// what was already opened on failure.
func (c *Controller) acquire(ctx context.Context) {
	ctx, span := observe.StartSpan(ctx, "session.acquire")
	acq := c.open(ctx)
	observe.EndSpan(span, acq.err)

	select {
	case c.inbox <- input{kind: inAcquired, acq: acq}:
	case <-c.done:
		c.release(acq)
	}
}

func (c *Controller) open(ctx context.Context) acquisition {
	capture, err := c.platform.OpenCapture(ctx, c.cfg.Live.Input)
	if err != nil {
		return acquisition{err: &PermissionError{Err: err}, reason: "permission"}
	}

	output, err := c.platform.OpenOutput(ctx, c.cfg.Live.Output)
	if err != nil {
		c.release(acquisition{capture: capture})
		return acquisition{
			err:    &audio.PlaybackDeviceError{Op: "open", Err: err},
			reason: "playback_device",
		}
	}

	sess, err := c.provider.Connect(ctx, c.cfg.Live)
	if err != nil {
		c.release(acquisition{capture: capture, output: output})
		return acquisition{err: &ConnectionError{Op: "connect", Err: err}, reason: "connect"}
	}

	return acquisition{capture: capture, output: output, sess: sess}
}

func (c *Controller) release(acq acquisition) {
	if acq.capture != nil {
		if err := acq.capture.Close(); err != nil {
			c.log.Warn("session: release", "err", &TeardownError{Resource: "capture", Err: err})
		}
	}
	if acq.sess != nil {
		if err := acq.sess.Close(); err != nil {
			c.log.Warn("session: release", "err", &TeardownError{Resource: "remote", Err: err})
		}
	}
	if acq.output != nil {
		if err := acq.output.Close(); err != nil {
			c.log.Warn("session: release", "err", &TeardownError{Resource: "playback", Err: err})
		}
	}
}

// post delivers in to the dispatch loop. It reports false once the session
// is closing and the input was dropped.
func (c *Controller) post(in input) bool {
	select {
	case c.inbox <- in:
		return true
	case <-c.stopping:
		return false
	}
}

// onCaptureSamples runs on the capture driver goroutine and never blocks.
func (c *Controller) onCaptureSamples(samples []float32) {
	c.captured.push(slices.Clone(samples))
}

// signalIdle may run on the render goroutine or inside Interrupt on the
// dispatch goroutine, so it never blocks.
func (c *Controller) signalIdle() {
	select {
	case c.idle <- struct{}{}:
	default:
	}
}

// pump forwards provider events in order until the event channel closes.
func (c *Controller) pump(sess live.Session) {
	events := sess.Events()
	for ev := range events {
		if !c.post(input{kind: inEvent, event: ev}) {
			audio.Drain(events)
			return
		}
	}
	c.post(input{kind: inEventsClosed})
}

// send streams encoded capture windows to the provider in capture order.
func (c *Controller) send(ctx context.Context, sess live.Session, q *queue[audio.Blob]) {
	defer close(c.senderDone)
	for {
		blobs, ok := q.next()
		if !ok {
			return
		}
		for _, blob := range blobs {
			if err := sess.SendAudio(ctx, blob); err != nil {
				if errors.Is(err, live.ErrSessionClosed) || ctx.Err() != nil {
					return
				}
				c.post(input{kind: inSendFailed, err: err})
				return
			}
			c.metrics.ChunksSent.Add(ctx, 1)
		}
	}
}
