// Package conversation drives one training simulation from scenario
// selection to the feedback report.
//
// A [Conversation] owns the text session, the live voice session and the
// transcript. All transcript appends happen inside its methods or inside the
// live-session callbacks it installs, so the transcript always reflects the
// order in which replies and transcriptions arrived.
//
// The lifecycle is:
//
//	Idle ── Start ──▶ Greeting ── SendText ──▶ TextActive ── End ──▶ Feedback ── Reset ──▶ Idle
//	                      │                        │
//	                      └──── ToggleVoice ──▶ VoiceActive ◀──┘
//
// VoiceActive returns to TextActive on a second ToggleVoice or when the
// remote side closes the call.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/advisorsim/internal/feedback"
	"github.com/MrWong99/advisorsim/internal/live"
	"github.com/MrWong99/advisorsim/internal/observe"
	"github.com/MrWong99/advisorsim/internal/scenario"
	"github.com/MrWong99/advisorsim/pkg/types"
)

// GreetingInstruction is sent on Start so the persona opens the meeting.
const GreetingInstruction = "Le conseiller bancaire entre dans le bureau. Accueillez-le brièvement et attendez qu'il prenne la parole (maximum 1 phrase naturelle)."

// voiceNote is appended to the persona script for voice calls.
const voiceNote = "\n\n[NOTE TECHNIQUE: Conversation Audio Active]"

// ErrWrongMode is returned when an operation is not allowed in the current
// [Mode].
var ErrWrongMode = errors.New("conversation: operation not allowed in current mode")

// Mode is the state of a [Conversation].
type Mode int

const (
	ModeIdle Mode = iota
	ModeGreeting
	ModeTextActive
	ModeVoiceActive
	ModeFeedback
)

// String returns the lower-case name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeGreeting:
		return "greeting"
	case ModeTextActive:
		return "text"
	case ModeVoiceActive:
		return "voice"
	case ModeFeedback:
		return "feedback"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// TextChat is the multi-turn text channel to the persona.
type TextChat interface {
	Initialize(ctx context.Context, prompt string) error
	Send(ctx context.Context, text string) (string, error)
	Close() error
}

// LiveSession is a real-time voice call.
type LiveSession interface {
	Connect(ctx context.Context, systemInstruction string) error
	Disconnect()
}

// LiveFactory builds a [LiveSession] that reports to cb.
type LiveFactory func(cb live.Callbacks) LiveSession

// ReportGenerator produces the coaching report for a transcript.
type ReportGenerator interface {
	Generate(ctx context.Context, history []types.ChatTurn) string
}

// Speaker reads persona lines aloud.
type Speaker interface {
	Enabled() bool
	Say(ctx context.Context, text, voiceTag string)
}

// Deps are the collaborators of a [Conversation]. Text and Feedback are
// required. A nil NewLive disables voice mode; nil Store and Speaker disable
// report records and speech.
type Deps struct {
	Text     TextChat
	NewLive  LiveFactory
	Feedback ReportGenerator
	Store    feedback.Store
	Speaker  Speaker
}

// Option is a functional option for [Conversation].
type Option func(*Conversation)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Conversation) { c.log = l }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Conversation) { c.metrics = m }
}

// WithLevelObserver receives the audio level of the voice call, in [0,1].
func WithLevelObserver(fn func(level float64)) Option {
	return func(c *Conversation) { c.onLevel = fn }
}

// WithTranscriptObserver is notified of every turn appended to the
// transcript, including merged transcription fragments.
func WithTranscriptObserver(fn func(turn types.ChatTurn)) Option {
	return func(c *Conversation) { c.onTurn = fn }
}

// Conversation is one training simulation. It is safe for concurrent use;
// user operations are serialised.
type Conversation struct {
	text     TextChat
	live     LiveSession
	feedback ReportGenerator
	store    feedback.Store
	speaker  Speaker
	log      *slog.Logger
	metrics  *observe.Metrics
	onLevel  func(float64)
	onTurn   func(types.ChatTurn)

	// opMu serialises user operations. It is held across remote calls, so
	// the live callbacks must never take it.
	opMu sync.Mutex

	mu       sync.Mutex
	mode     Mode
	sc       scenario.Scenario
	turns    []types.ChatTurn
	fragment bool               // last turn is an unfinished transcription
	hush     context.CancelFunc // stops the greeting playback, nil when silent

	speech sync.WaitGroup
}

// New returns an idle Conversation.
func New(deps Deps, opts ...Option) *Conversation {
	c := &Conversation{
		text:     deps.Text,
		feedback: deps.Feedback,
		store:    deps.Store,
		speaker:  deps.Speaker,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.store == nil {
		c.store = feedback.NopStore{}
	}
	if deps.NewLive != nil {
		c.live = deps.NewLive(live.Callbacks{
			OnAudioLevel: c.handleLevel,
			OnTranscript: c.handleTranscript,
			OnClose:      c.handleClose,
		})
	}
	return c
}

// VoicePrompt returns the system instruction used for voice calls with sc.
func VoicePrompt(sc scenario.Scenario) string {
	return sc.SystemPrompt + voiceNote
}

// Mode returns the current mode.
func (c *Conversation) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Scenario returns the scenario of the current simulation.
func (c *Conversation) Scenario() scenario.Scenario {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sc
}

// Transcript returns a copy of the turns so far.
func (c *Conversation) Transcript() []types.ChatTurn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.turns)
}

// VoiceAvailable reports whether voice mode can be entered at all.
func (c *Conversation) VoiceAvailable() bool { return c.live != nil }

// Start begins a simulation with sc: it opens the text session with the
// persona script and asks the persona to greet the advisor. The greeting is
// the first turn and is played in the background when speech is enabled;
// Start does not wait for it.
//
// A failing session stays in [ModeGreeting] so the advisor can still end it.
func (c *Conversation) Start(ctx context.Context, sc scenario.Scenario) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.mode != ModeIdle {
		mode := c.mode
		c.mu.Unlock()
		return fmt.Errorf("%w: start while %s", ErrWrongMode, mode)
	}
	c.sc = sc
	c.turns = nil
	c.fragment = false
	c.mode = ModeGreeting
	c.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "conversation.start")
	defer span.End()

	c.log.Info("conversation started", "scenario", sc.ID)
	if err := c.text.Initialize(ctx, sc.SystemPrompt); err != nil {
		observe.RecordError(span, err)
		return fmt.Errorf("conversation: start %q: %w", sc.ID, err)
	}
	greeting, err := c.text.Send(ctx, GreetingInstruction)
	if err != nil {
		observe.RecordError(span, err)
		return fmt.Errorf("conversation: greeting: %w", err)
	}
	c.appendTurn(types.SenderBot, greeting)
	c.sayInBackground(ctx, greeting)
	return nil
}

// SendText sends one advisor message and returns the persona's reply. Both
// are appended to the transcript; the reply may be an inline apology.
func (c *Conversation) SendText(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("conversation: empty message")
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.mode != ModeGreeting && c.mode != ModeTextActive {
		mode := c.mode
		c.mu.Unlock()
		return "", fmt.Errorf("%w: send while %s", ErrWrongMode, mode)
	}
	c.mode = ModeTextActive
	c.mu.Unlock()

	c.appendTurn(types.SenderUser, text)
	reply, err := c.text.Send(ctx, text)
	if err != nil {
		return "", fmt.Errorf("conversation: send: %w", err)
	}
	c.appendTurn(types.SenderBot, reply)
	return reply, nil
}

// SpeakLast reads the latest persona turn aloud. It is a no-op when speech
// is disabled or the persona has not spoken yet.
func (c *Conversation) SpeakLast(ctx context.Context) {
	c.mu.Lock()
	var line string
	for i := len(c.turns) - 1; i >= 0; i-- {
		if c.turns[i].Sender == types.SenderBot {
			line = c.turns[i].Text
			break
		}
	}
	c.mu.Unlock()
	c.say(ctx, line)
}

// ToggleVoice enters voice mode from [ModeGreeting] or [ModeTextActive] and
// leaves it from [ModeVoiceActive]. It reports whether voice is active
// afterwards. A failed connect restores the previous mode and returns the
// error.
func (c *Conversation) ToggleVoice(ctx context.Context) (bool, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	prev := c.mode
	switch prev {
	case ModeVoiceActive:
		c.mu.Unlock()
		c.stopVoice()
		return false, nil
	case ModeGreeting, ModeTextActive:
	default:
		c.mu.Unlock()
		return false, fmt.Errorf("%w: voice toggle while %s", ErrWrongMode, prev)
	}
	if c.live == nil {
		c.mu.Unlock()
		return false, fmt.Errorf("%w: voice mode is not configured", types.ErrConfiguration)
	}
	c.mode = ModeVoiceActive
	c.fragment = false
	prompt := VoicePrompt(c.sc)
	c.mu.Unlock()
	c.stopSpeech()

	// Connect reports failures through OnClose in this goroutine, so mu
	// must not be held here.
	if err := c.live.Connect(ctx, prompt); err != nil {
		c.mu.Lock()
		c.mode = prev
		c.mu.Unlock()
		c.log.Warn("voice call failed to connect", "err", err)
		return false, fmt.Errorf("conversation: voice: %w", err)
	}
	c.log.Info("voice call connected")
	return true, nil
}

// stopVoice hangs up and returns to text mode. mu must not be held.
func (c *Conversation) stopVoice() {
	c.live.Disconnect()
	c.mu.Lock()
	if c.mode == ModeVoiceActive {
		c.mode = ModeTextActive
	}
	c.fragment = false
	c.mu.Unlock()
}

// End finishes the simulation: an active voice call is hung up first, then
// the ending path is chosen from the transcript and the report produced.
//
// On [PathExit] the conversation goes straight back to [ModeIdle]; otherwise
// it stays in [ModeFeedback] until [Conversation.Reset].
func (c *Conversation) End(ctx context.Context) (Outcome, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()
	if mode == ModeIdle || mode == ModeFeedback {
		return Outcome{}, fmt.Errorf("%w: end while %s", ErrWrongMode, mode)
	}

	ctx, span := observe.StartSpan(ctx, "conversation.end")
	defer span.End()

	c.stopSpeech()
	wasLive := mode == ModeVoiceActive
	if wasLive {
		c.stopVoice()
	}

	c.mu.Lock()
	history := slices.Clone(c.turns)
	sc := c.sc
	c.mu.Unlock()

	out := Outcome{Path: SelectPath(len(history), wasLive)}
	switch out.Path {
	case PathVoiceOnly:
		out.Report = feedback.VoiceOnlyReport(sc.Title)
	case PathTooShort:
		out.Report = feedback.TooShortReport()
	case PathGenerate:
		out.Report = c.feedback.Generate(ctx, history)
	}

	if err := c.text.Close(); err != nil {
		c.log.Debug("closing text session", "err", err)
	}

	c.mu.Lock()
	if out.Path == PathExit {
		c.mode = ModeIdle
		c.turns = nil
	} else {
		c.mode = ModeFeedback
	}
	c.fragment = false
	c.mu.Unlock()

	c.metrics.RecordConversationEnd(ctx, string(out.Path))
	c.log.Info("conversation ended", "scenario", sc.ID, "path", out.Path, "turns", len(history), "was_live", wasLive)
	if out.Path != PathExit {
		rec := feedback.NewRecord(sc.ID, string(out.Path), len(history), len(out.Report), wasLive)
		if err := c.store.Save(ctx, rec); err != nil {
			c.log.Warn("saving report record failed", "err", err)
		}
	}
	return out, nil
}

// Reset leaves [ModeFeedback] and discards the transcript.
func (c *Conversation) Reset() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeFeedback && c.mode != ModeIdle {
		return fmt.Errorf("%w: reset while %s", ErrWrongMode, c.mode)
	}
	c.mode = ModeIdle
	c.turns = nil
	c.sc = scenario.Scenario{}
	c.fragment = false
	return nil
}

// Close hangs up an active voice call and releases the text session. The
// conversation can be started again afterwards.
func (c *Conversation) Close() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	voice := c.mode == ModeVoiceActive
	c.mu.Unlock()
	if voice {
		c.stopVoice()
	}
	c.stopSpeech()
	c.speech.Wait()
	return c.text.Close()
}

func (c *Conversation) appendTurn(sender types.Sender, text string) {
	c.mu.Lock()
	turn := types.NewTurn(sender, text)
	c.turns = append(c.turns, turn)
	c.fragment = false
	c.mu.Unlock()
	c.notifyTurn(turn)
}

func (c *Conversation) notifyTurn(turn types.ChatTurn) {
	if c.onTurn != nil {
		c.onTurn(turn)
	}
}

// sayInBackground plays text without blocking the caller. Entering voice
// mode, ending or closing the conversation cuts it short.
func (c *Conversation) sayInBackground(ctx context.Context, text string) {
	if c.speaker == nil || !c.speaker.Enabled() || text == "" {
		return
	}
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	prev := c.hush
	c.hush = cancel
	c.mu.Unlock()
	if prev != nil {
		prev()
	}
	c.speech.Go(func() {
		defer cancel()
		c.say(sctx, text)
	})
}

func (c *Conversation) stopSpeech() {
	c.mu.Lock()
	hush := c.hush
	c.hush = nil
	c.mu.Unlock()
	if hush != nil {
		hush()
	}
}

func (c *Conversation) say(ctx context.Context, text string) {
	if c.speaker == nil || !c.speaker.Enabled() || text == "" {
		return
	}
	c.mu.Lock()
	tag := c.sc.VoiceTag
	c.mu.Unlock()
	c.speaker.Say(ctx, text, tag)
}

func (c *Conversation) handleLevel(level float64) {
	if c.onLevel != nil {
		c.onLevel(level)
	}
}

// handleTranscript appends a transcription while a voice call is active.
// Consecutive fragments from the same side are merged into one turn until
// the provider marks it final.
func (c *Conversation) handleTranscript(e types.TranscriptEntry) {
	if strings.TrimSpace(e.Text) == "" && !e.Final {
		return
	}
	c.mu.Lock()
	if c.mode != ModeVoiceActive {
		c.mu.Unlock()
		return
	}
	var turn types.ChatTurn
	if n := len(c.turns); c.fragment && n > 0 && c.turns[n-1].Sender == e.Sender {
		c.turns[n-1].Text += e.Text
		turn = c.turns[n-1]
	} else if strings.TrimSpace(e.Text) != "" {
		turn = types.NewTurn(e.Sender, e.Text)
		if !e.Timestamp.IsZero() {
			turn.Timestamp = e.Timestamp
		}
		c.turns = append(c.turns, turn)
	}
	c.fragment = !e.Final
	c.mu.Unlock()
	if turn.ID != "" {
		c.notifyTurn(turn)
	}
}

// handleClose runs when the voice call ends for any reason. A remote close
// while voice is active drops back to text mode.
func (c *Conversation) handleClose() {
	c.mu.Lock()
	c.fragment = false
	if c.mode == ModeVoiceActive {
		c.mode = ModeTextActive
		c.log.Info("voice call closed, back to text")
	}
	c.mu.Unlock()
	c.handleLevel(0)
}
