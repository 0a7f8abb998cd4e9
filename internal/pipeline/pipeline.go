// Package pipeline sequences one voice query end to end: capture the
// utterance, transcribe it, ask the language model, synthesise the reply, and
// play it back. The [Pipeline] owns the state machine, the conversation
// history, per-stage timeouts and retries, and the event stream the
// presentation layer renders.
//
// One pipeline instance serves one process. A query runs to completion before
// the next begins; the only exception is barge-in, where a new capture request
// interrupts an active playback.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/cojovi/cmac-chat-module-win86/internal/fault"
	"github.com/cojovi/cmac-chat-module-win86/internal/ledger"
	"github.com/cojovi/cmac-chat-module-win86/internal/observe"
	"github.com/cojovi/cmac-chat-module-win86/internal/resilience"
	"github.com/cojovi/cmac-chat-module-win86/pkg/audio"
	"github.com/cojovi/cmac-chat-module-win86/pkg/audio/capture"
	"github.com/cojovi/cmac-chat-module-win86/pkg/audio/playback"
	"github.com/cojovi/cmac-chat-module-win86/pkg/provider/llm"
	"github.com/cojovi/cmac-chat-module-win86/pkg/provider/stt"
	"github.com/cojovi/cmac-chat-module-win86/pkg/provider/tts"
)

// Timeouts holds the per-attempt deadline of each remote stage.
type Timeouts struct {
	Transcribe time.Duration
	Complete   time.Duration
	Synthesize time.Duration
}

// DefaultTimeouts returns the stage deadlines used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Transcribe: 30 * time.Second,
		Complete:   60 * time.Second,
		Synthesize: 30 * time.Second,
	}
}

// withDefaults replaces zero-value fields with the defaults of
// [DefaultTimeouts].
func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Transcribe <= 0 {
		t.Transcribe = d.Transcribe
	}
	if t.Complete <= 0 {
		t.Complete = d.Complete
	}
	if t.Synthesize <= 0 {
		t.Synthesize = d.Synthesize
	}
	return t
}

// defaultEventBuffer is the capacity of the events channel. Events are
// dropped, not blocked on, when the consumer falls behind.
const defaultEventBuffer = 32

// Pipeline is the orchestrator for voice queries.
//
// All methods are safe for concurrent use. State transitions and their events
// are serialised under one mutex, so consumers observe them in exactly the
// order they occur.
type Pipeline struct {
	device      capture.Device
	output      playback.Output
	transcriber stt.Transcriber
	model       llm.Provider
	synth       tts.Synthesizer // nil disables the voice reply

	history  *ledger.Ledger
	metrics  *observe.Metrics
	log      *slog.Logger
	retry    resilience.Policy
	timeouts Timeouts

	captureFormat audio.Format
	maxCapture    time.Duration
	contextBudget int
	temperature   float64
	maxTokens     int

	mu           sync.Mutex
	state        State
	failCause    error
	systemPrompt string
	capSess      *capture.Session
	playSess     *playback.Session
	cancelQuery  context.CancelFunc
	queryID      uint64 // bumped on Cancel/Close so stale goroutines stand down
	closed       bool

	events chan Event
	wg     sync.WaitGroup
}

// Option is a functional option for [New].
type Option func(*Pipeline)

// WithSynthesizer enables voice replies through s. Without it the pipeline
// delivers text-only results.
func WithSynthesizer(s tts.Synthesizer) Option {
	return func(p *Pipeline) { p.synth = s }
}

// WithLedger replaces the conversation history. Defaults to a fresh ledger
// with [ledger.DefaultCapacity].
func WithLedger(l *ledger.Ledger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.history = l
		}
	}
}

// WithMetrics replaces the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithLogger replaces the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// WithRetryPolicy overrides the retry schedule shared by all remote stages.
func WithRetryPolicy(pol resilience.Policy) Option {
	return func(p *Pipeline) { p.retry = pol }
}

// WithTimeouts overrides the per-attempt stage deadlines. Zero fields keep
// their defaults.
func WithTimeouts(t Timeouts) Option {
	return func(p *Pipeline) { p.timeouts = t }
}

// WithSystemPrompt sets the standing instruction sent with every completion.
func WithSystemPrompt(s string) Option {
	return func(p *Pipeline) { p.systemPrompt = s }
}

// WithCaptureFormat overrides the format recordings are converted to.
// Defaults to [capture.DefaultTargetFormat].
func WithCaptureFormat(f audio.Format) Option {
	return func(p *Pipeline) { p.captureFormat = f }
}

// WithMaxCaptureDuration overrides the recording auto-stop ceiling.
func WithMaxCaptureDuration(d time.Duration) Option {
	return func(p *Pipeline) { p.maxCapture = d }
}

// WithContextBudget caps the character count of history sent to the model.
// Oldest turns are trimmed first. Zero disables the cap.
func WithContextBudget(chars int) Option {
	return func(p *Pipeline) { p.contextBudget = chars }
}

// WithTemperature sets the sampling temperature for completions.
func WithTemperature(t float64) Option {
	return func(p *Pipeline) { p.temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(p *Pipeline) { p.maxTokens = n }
}

// WithEventBuffer sets the events channel capacity.
func WithEventBuffer(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.events = make(chan Event, n)
		}
	}
}

// New creates an idle [Pipeline] over the given device, output and providers.
func New(dev capture.Device, out playback.Output, transcriber stt.Transcriber, model llm.Provider, opts ...Option) *Pipeline {
	p := &Pipeline{
		device:        dev,
		output:        out,
		transcriber:   transcriber,
		model:         model,
		history:       ledger.New(),
		log:           slog.Default(),
		retry:         resilience.DefaultPolicy(),
		timeouts:      DefaultTimeouts(),
		captureFormat: capture.DefaultTargetFormat,
		state:         StateIdle,
		events:        make(chan Event, defaultEventBuffer),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	p.timeouts = p.timeouts.withDefaults()
	return p
}

// ─── Public API ───────────────────────────────────────────────────────────────

// State returns the current pipeline state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Failure returns the error that moved the pipeline to [StateFailed], or nil.
func (p *Pipeline) Failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failCause
}

// Events returns the channel of pipeline notifications. The channel is
// buffered; events are dropped when the consumer falls behind. It is closed
// by [Pipeline.Close].
func (p *Pipeline) Events() <-chan Event {
	return p.events
}

// BeginCapture starts recording a new utterance. Legal from [StateIdle] and,
// as a barge-in, from [StatePlaying]: the active playback is stopped first
// and the pipeline moves straight to [StateCapturing]. Any other state yields
// a [fault.KindState] error.
func (p *Pipeline) BeginCapture(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fault.New(fault.KindState, "pipeline.begin_capture", "the pipeline is closed")
	}

	switch p.state {
	case StateIdle:
	case StatePlaying:
		// Barge-in: silence the reply and record over it.
		if p.playSess != nil {
			p.playSess.Stop()
			p.playSess = nil
		}
		p.metrics.BargeIns.Add(ctx, 1)
		p.log.Info("barge-in: playback interrupted by new capture")
	default:
		return fault.Newf(fault.KindState, "pipeline.begin_capture",
			"cannot start recording while %s", p.state)
	}

	sess, err := capture.Start(ctx, p.device,
		capture.WithTargetFormat(p.captureFormat),
		capture.WithMaxDuration(p.maxCapture),
	)
	if err != nil {
		return err
	}
	p.capSess = sess
	p.setStateLocked(StateCapturing)
	return nil
}

// EndCapture stops the recording and launches the query asynchronously:
// transcription, reasoning, synthesis and playback run on a background
// goroutine and report through [Pipeline.Events]. An empty recording returns
// a [fault.KindEmptyCapture] error and the pipeline goes back to idle.
func (p *Pipeline) EndCapture(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateCapturing {
		return fault.Newf(fault.KindState, "pipeline.end_capture",
			"cannot stop recording while %s", p.state)
	}

	sess := p.capSess
	p.capSess = nil

	buf, err := sess.Stop()
	if err != nil {
		kind := fault.KindOf(err)
		p.publishLocked(Event{
			Type:    EventError,
			Kind:    kind.String(),
			Message: fault.UserMessage(err, "the recording could not be used"),
		})
		if kind == fault.KindEmptyCapture {
			p.setStateLocked(StateIdle)
		} else {
			p.failCause = err
			p.setStateLocked(StateFailed)
			p.metrics.RecordQuery(ctx, "failed")
		}
		return err
	}

	p.metrics.CaptureDuration.Record(ctx, buf.Duration().Seconds())
	p.metrics.ActiveQueries.Add(ctx, 1)
	p.setStateLocked(StateTranscribing)

	p.queryID++
	id := p.queryID
	qctx, cancel := context.WithCancel(context.Background())
	p.cancelQuery = cancel

	p.wg.Add(1)
	go p.runQuery(qctx, cancel, id, buf)
	return nil
}

// Cancel aborts whatever the pipeline is doing and returns it to idle. The
// recording is discarded, in-flight provider calls are abandoned, playback
// stops. The conversation history is left untouched. Cancelling an idle
// pipeline is a no-op; a failed pipeline needs [Pipeline.Acknowledge].
func (p *Pipeline) Cancel() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateIdle:
		return nil
	case StateFailed:
		return fault.New(fault.KindState, "pipeline.cancel",
			"the failure must be acknowledged instead")
	case StateCapturing:
		if p.capSess != nil {
			p.capSess.Cancel()
			p.capSess = nil
		}
	default:
		p.queryID++
		if p.cancelQuery != nil {
			p.cancelQuery()
			p.cancelQuery = nil
		}
		if p.playSess != nil {
			p.playSess.Stop()
			p.playSess = nil
		}
	}

	p.setStateLocked(StateIdle)
	return nil
}

// Acknowledge dismisses a failure and returns the pipeline to idle. Legal
// only from [StateFailed].
func (p *Pipeline) Acknowledge() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateFailed {
		return fault.Newf(fault.KindState, "pipeline.acknowledge",
			"nothing to acknowledge while %s", p.state)
	}
	p.failCause = nil
	p.setStateLocked(StateIdle)
	return nil
}

// PauseCapture suspends the recording without releasing the microphone.
func (p *Pipeline) PauseCapture() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateCapturing || p.capSess == nil {
		return fault.Newf(fault.KindState, "pipeline.pause_capture",
			"no recording to pause while %s", p.state)
	}
	p.capSess.Pause()
	return nil
}

// ResumeCapture continues a paused recording.
func (p *Pipeline) ResumeCapture() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateCapturing || p.capSess == nil {
		return fault.Newf(fault.KindState, "pipeline.resume_capture",
			"no recording to resume while %s", p.state)
	}
	p.capSess.Resume()
	return nil
}

// PausePlayback suspends the voice reply without losing position.
func (p *Pipeline) PausePlayback() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePlaying || p.playSess == nil {
		return fault.Newf(fault.KindState, "pipeline.pause_playback",
			"no playback to pause while %s", p.state)
	}
	p.playSess.Pause()
	return nil
}

// ResumePlayback continues a paused voice reply.
func (p *Pipeline) ResumePlayback() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePlaying || p.playSess == nil {
		return fault.Newf(fault.KindState, "pipeline.resume_playback",
			"no playback to resume while %s", p.state)
	}
	p.playSess.Resume()
	return nil
}

// StopPlayback interrupts the voice reply. The reply text has already been
// delivered, so the query still counts as answered.
func (p *Pipeline) StopPlayback() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePlaying || p.playSess == nil {
		return fault.Newf(fault.KindState, "pipeline.stop_playback",
			"no playback to stop while %s", p.state)
	}
	p.playSess.Stop()
	return nil
}

// CaptureElapsed returns the duration of audio recorded so far, excluding
// pauses. Zero when no capture is active.
func (p *Pipeline) CaptureElapsed() time.Duration {
	p.mu.Lock()
	sess := p.capSess
	p.mu.Unlock()
	if sess == nil {
		return 0
	}
	return sess.Elapsed()
}

// ClearConversation drops the conversation history. The system prompt is
// unaffected.
func (p *Pipeline) ClearConversation() {
	n := p.history.Len()
	p.history.Clear()
	if n > 0 {
		p.metrics.ConversationLength.Add(context.Background(), -int64(n))
	}
}

// SetSystemPrompt replaces the standing instruction. Takes effect on the
// next query.
func (p *Pipeline) SetSystemPrompt(s string) {
	p.mu.Lock()
	p.systemPrompt = s
	p.mu.Unlock()
}

// SetRetryPolicy replaces the retry schedule. Takes effect on the next stage
// call.
func (p *Pipeline) SetRetryPolicy(pol resilience.Policy) {
	p.mu.Lock()
	p.retry = pol
	p.mu.Unlock()
}

// Close shuts the pipeline down: the active query is cancelled, sessions are
// released, and the events channel is closed once all background work has
// drained. Safe to call twice.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.queryID++
	if p.cancelQuery != nil {
		p.cancelQuery()
		p.cancelQuery = nil
	}
	if p.capSess != nil {
		p.capSess.Cancel()
		p.capSess = nil
	}
	if p.playSess != nil {
		p.playSess.Stop()
		p.playSess = nil
	}
	p.mu.Unlock()

	p.wg.Wait()
	close(p.events)
	return nil
}

// ─── Query execution ──────────────────────────────────────────────────────────

// runQuery drives one captured utterance through the remote stages. It is the
// only goroutine that advances the machine past StateTranscribing; every
// transition checks that the query is still current so a Cancel or barge-in
// makes the stale goroutine stand down silently.
func (p *Pipeline) runQuery(ctx context.Context, cancel context.CancelFunc, id uint64, buf audio.Buffer) {
	defer p.wg.Done()
	defer cancel()

	ctx, span := observe.StartSpan(ctx, "pipeline.query")
	defer span.End()

	start := time.Now()
	log := observe.Logger(ctx)

	finish := func(outcome string) {
		p.metrics.RecordQuery(ctx, outcome)
		p.metrics.ActiveQueries.Add(ctx, -1)
	}

	// Transcribing.
	wav := audio.WrapContainer(buf)
	text, err := stageCall(ctx, p, "stt", p.timeouts.Transcribe, p.metrics.STTDuration,
		func(ctx context.Context) (string, error) {
			return p.transcriber.Transcribe(ctx, wav, "query.wav")
		})
	if err != nil {
		p.failQuery(ctx, id, "stt", "could not understand the recording", err)
		finish(p.outcomeFor(id))
		return
	}

	if !p.advance(id, StateTranscribing, StateReasoning, Event{Type: EventTranscriptReady, Text: text}) {
		finish("cancelled")
		return
	}
	p.history.Append(ledger.Message{Role: ledger.RoleUser, Content: text})
	p.metrics.ConversationLength.Add(ctx, 1)
	log.Info("transcript ready", "chars", len(text))

	// Reasoning.
	req := p.buildCompletionRequest()
	resp, err := stageCall(ctx, p, "llm", p.timeouts.Complete, p.metrics.LLMDuration,
		func(ctx context.Context) (*llm.CompletionResponse, error) {
			return p.model.Complete(ctx, req)
		})
	if err != nil {
		p.failQuery(ctx, id, "llm", "the assistant could not reply", err)
		finish(p.outcomeFor(id))
		return
	}
	reply := resp.Content

	next := StateSynthesizing
	if p.synth == nil {
		next = StateIdle
	}
	if !p.advance(id, StateReasoning, next, Event{Type: EventResponseReady, Text: reply}) {
		finish("cancelled")
		return
	}
	p.history.Append(ledger.Message{Role: ledger.RoleAssistant, Content: reply})
	p.metrics.ConversationLength.Add(ctx, 1)
	log.Info("response ready", "model", resp.Model, "chars", len(reply))

	if p.synth == nil {
		p.metrics.QueryDuration.Record(ctx, time.Since(start).Seconds())
		finish("answered")
		return
	}

	// Synthesizing. A failure here is non-fatal: the text is already out.
	clip, err := stageCall(ctx, p, "tts", p.timeouts.Synthesize, p.metrics.TTSDuration,
		func(ctx context.Context) (tts.Clip, error) {
			return p.synth.Synthesize(ctx, reply)
		})
	if err != nil {
		p.degrade(ctx, id, "tts", err)
		finish(p.outcomeFor(id))
		return
	}

	clipDur := clip.Audio.Duration()
	if !p.advance(id, StateSynthesizing, StatePlaying, Event{
		Type:       EventAudioReady,
		DurationMs: clipDur.Milliseconds(),
	}) {
		finish("cancelled")
		return
	}
	p.metrics.QueryDuration.Record(ctx, time.Since(start).Seconds())

	// Playing.
	sess, err := playback.Play(ctx, p.output, clip.Audio,
		playback.WithProgress(func(played, total time.Duration) {
			p.publish(Event{
				Type:     EventPlaybackProgress,
				OffsetMs: played.Milliseconds(),
				TotalMs:  total.Milliseconds(),
			})
		}),
	)
	if err != nil {
		// The reply text is already delivered; skip the voice.
		log.Warn("playback unavailable, reply stays text-only", "err", err)
		p.degrade(ctx, id, "playback", err)
		finish(p.outcomeFor(id))
		return
	}

	p.mu.Lock()
	if p.queryID != id {
		p.mu.Unlock()
		sess.Stop()
		<-sess.Done()
		finish("cancelled")
		return
	}
	p.playSess = sess
	p.mu.Unlock()

	res := <-sess.Done()

	p.mu.Lock()
	if p.playSess == sess {
		p.playSess = nil
	}
	stale := p.queryID != id
	if !stale && p.state == StatePlaying {
		if res.Err != nil {
			p.publishLocked(Event{
				Type:    EventError,
				Kind:    fault.KindOf(res.Err).String(),
				Message: fault.UserMessage(res.Err, "playback stopped unexpectedly"),
			})
		}
		p.setStateLocked(StateIdle)
	}
	p.mu.Unlock()

	if stale {
		finish("cancelled")
	} else {
		finish("answered")
	}
}

// buildCompletionRequest assembles the model input from the trimmed history.
func (p *Pipeline) buildCompletionRequest() llm.CompletionRequest {
	p.mu.Lock()
	prompt := p.systemPrompt
	p.mu.Unlock()

	window := p.history.Window(p.contextBudget)
	msgs := make([]llm.Message, len(window))
	for i, m := range window {
		msgs[i] = llm.Message{Role: string(m.Role), Content: m.Content}
	}
	return llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: prompt,
		Temperature:  p.temperature,
		MaxTokens:    p.maxTokens,
	}
}

// advance moves the machine from one state to the next, publishing extra
// first and the transition second. It reports false, changing nothing, when
// the query is no longer current.
func (p *Pipeline) advance(id uint64, from, to State, extra Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.queryID != id || p.state != from {
		return false
	}
	if extra.Type != "" {
		p.publishLocked(extra)
	}
	if to != from {
		p.setStateLocked(to)
	}
	return true
}

// failQuery moves the pipeline to [StateFailed] with a typed reason, unless
// the query was cancelled in the meantime.
func (p *Pipeline) failQuery(ctx context.Context, id uint64, stage, fallback string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	kind := fault.KindOf(err)
	p.metrics.RecordProviderError(ctx, stage, kind.String())
	p.log.Error("stage failed", "stage", stage, "kind", kind.String(), "err", err)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.queryID != id {
		return
	}
	p.failCause = err
	p.publishLocked(Event{
		Type:    EventError,
		Kind:    kind.String(),
		Message: fault.UserMessage(err, fallback),
	})
	p.setStateLocked(StateFailed)
}

// degrade records a non-fatal synthesis or playback failure and returns the
// pipeline to idle: the reply text was already delivered, only the voice is
// missing.
func (p *Pipeline) degrade(ctx context.Context, id uint64, stage string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	kind := fault.KindOf(err)
	p.metrics.RecordProviderError(ctx, stage, kind.String())
	p.log.Warn("voice reply skipped", "kind", kind.String(), "err", err)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.queryID != id {
		return
	}
	p.publishLocked(Event{
		Type:    EventError,
		Kind:    kind.String(),
		Message: "the voice reply is unavailable; showing text only",
	})
	if p.state == StateSynthesizing || p.state == StatePlaying {
		p.setStateLocked(StateIdle)
	}
}

// outcomeFor resolves how a finished query is counted: queries that lost the
// race against Cancel count as cancelled, a degraded voice reply still counts
// as such, everything else failed.
func (p *Pipeline) outcomeFor(id uint64) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.queryID != id:
		return "cancelled"
	case p.state == StateFailed:
		return "failed"
	default:
		return "degraded"
	}
}

// setStateLocked records and publishes a transition. Caller holds p.mu.
func (p *Pipeline) setStateLocked(to State) {
	p.state = to
	p.publishLocked(Event{Type: EventStateChanged, State: to})
}

// publishLocked emits an event without blocking. Caller holds p.mu.
func (p *Pipeline) publishLocked(ev Event) {
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
		p.log.Warn("event dropped, consumer too slow", "type", ev.Type)
	}
}

// publish emits an event from outside the lock.
func (p *Pipeline) publish(ev Event) {
	p.mu.Lock()
	p.publishLocked(ev)
	p.mu.Unlock()
}

// stageCall wraps one remote stage with a span, the retry policy, a
// per-attempt deadline, and a latency histogram.
func stageCall[T any](ctx context.Context, p *Pipeline, stage string, timeout time.Duration, hist metric.Float64Histogram, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline."+stage)
	defer span.End()

	p.mu.Lock()
	pol := p.retry
	p.mu.Unlock()

	start := time.Now()
	attempts := 0
	v, err := resilience.Do(ctx, p.log, stage, pol, func(ctx context.Context) (T, error) {
		if attempts > 0 {
			p.metrics.RecordRetry(ctx, stage)
		}
		attempts++
		actx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(actx)
	})
	hist.Record(ctx, time.Since(start).Seconds())
	return v, err
}
