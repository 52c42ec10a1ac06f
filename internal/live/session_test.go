package live_test

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/advisorsim/internal/live"
	"github.com/MrWong99/advisorsim/internal/observe"
	"github.com/MrWong99/advisorsim/pkg/audio"
	audiomock "github.com/MrWong99/advisorsim/pkg/audio/mock"
	"github.com/MrWong99/advisorsim/pkg/provider/s2s"
	s2smock "github.com/MrWong99/advisorsim/pkg/provider/s2s/mock"
	"github.com/MrWong99/advisorsim/pkg/types"
)

// events collects callback invocations.
type events struct {
	mu          sync.Mutex
	levels      []float64
	transcripts []types.TranscriptEntry
	closes      int
	order       *audiomock.Recorder
}

func (e *events) callbacks() live.Callbacks {
	return live.Callbacks{
		OnAudioLevel: func(l float64) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.levels = append(e.levels, l)
		},
		OnTranscript: func(entry types.TranscriptEntry) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.transcripts = append(e.transcripts, entry)
		},
		OnClose: func() {
			e.mu.Lock()
			e.closes++
			e.mu.Unlock()
			e.order.Add("onclose")
		},
	}
}

func (e *events) closeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closes
}

func (e *events) levelSnapshot() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.levels)
}

type harness struct {
	devs     *audiomock.Devices
	speaker  *audiomock.Speaker
	remote   *s2smock.Session
	provider *s2smock.Provider
	ev       *events
	order    *audiomock.Recorder
	sess     *live.Session
}

func newHarness(t *testing.T, opts ...live.Option) *harness {
	t.Helper()
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	order := &audiomock.Recorder{}
	h := &harness{
		speaker: &audiomock.Speaker{},
		remote:  s2smock.NewSession(),
		order:   order,
		ev:      &events{order: order},
	}
	h.devs = &audiomock.Devices{Speaker: h.speaker, Order: order}
	h.provider = &s2smock.Provider{Session: h.remote}
	all := append([]live.Option{live.WithMetrics(metrics)}, opts...)
	h.sess = live.New(h.provider, h.devs, h.ev.callbacks(), all...)
	t.Cleanup(h.sess.Disconnect)
	return h
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	if err := h.sess.Connect(context.Background(), "Tu es Lucas."); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

// waitFor polls cond until it holds or a second has passed.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func constFrame(v float32, n int) []float32 {
	f := make([]float32, n)
	for i := range f {
		f[i] = v
	}
	return f
}

// speech returns an inbound chunk of n samples at 24 kHz.
func speech(n int) s2s.MediaChunk {
	return s2s.MediaChunk{
		MIMEType: "audio/pcm;rate=24000",
		Data:     audio.BytesToBase64(audio.FloatToPCM16(constFrame(0.2, n))),
	}
}

// ─── Connect ─────────────────────────────────────────────────────────────────

func TestConnect_AcquiresInOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect(t)

	if !h.sess.Connected() {
		t.Fatal("Connected() = false after Connect")
	}
	want := []audiomock.OpenMicrophoneCall{{SampleRate: 16000, FrameSize: 4096}}
	if !slices.Equal(h.devs.MicrophoneCalls, want) {
		t.Errorf("microphone calls = %v, want %v", h.devs.MicrophoneCalls, want)
	}
	if !slices.Equal(h.devs.SpeakerRates, []int{24000}) {
		t.Errorf("speaker rates = %v, want [24000]", h.devs.SpeakerRates)
	}
	calls := h.provider.Calls()
	if len(calls) != 1 || calls[0].Cfg.Instructions != "Tu es Lucas." {
		t.Errorf("connect calls = %+v", calls)
	}
}

func TestConnect_NoopWhenConnected(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect(t)
	h.connect(t)

	if n := len(h.provider.Calls()); n != 1 {
		t.Errorf("provider connected %d times, want 1", n)
	}
	if n := len(h.devs.MicrophoneCalls); n != 1 {
		t.Errorf("microphone opened %d times, want 1", n)
	}
}

func TestConnect_ConfigurationError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider s2s.Provider
	}{
		{"nil provider", nil},
		{"missing credential", &s2smock.Provider{ValidateErr: errors.New("api key missing")}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			devs := &audiomock.Devices{}
			ev := &events{}
			sess := live.New(tc.provider, devs, ev.callbacks())

			err := sess.Connect(context.Background(), "prompt")
			if !errors.Is(err, types.ErrConfiguration) {
				t.Fatalf("err = %v, want ErrConfiguration", err)
			}
			if len(devs.MicrophoneCalls) != 0 || len(devs.SpeakerRates) != 0 {
				t.Error("devices were acquired despite configuration error")
			}
			if sess.Connected() {
				t.Error("Connected() = true")
			}
		})
	}
}

func TestConnect_PermissionDenied(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.devs.MicrophoneError = errors.New("NotAllowedError")

	err := h.sess.Connect(context.Background(), "prompt")
	if !errors.Is(err, types.ErrPermission) {
		t.Fatalf("err = %v, want ErrPermission", err)
	}
	if n := len(h.provider.Calls()); n != 0 {
		t.Errorf("provider dialled %d times after permission failure", n)
	}
	if got := h.ev.closeCount(); got != 1 {
		t.Errorf("OnClose called %d times, want 1", got)
	}
	if h.sess.Connected() {
		t.Error("Connected() = true")
	}
}

func TestConnect_HandshakeFailureTearsDown(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.provider.ConnectErr = errors.New("websocket: bad handshake")

	err := h.sess.Connect(context.Background(), "prompt")
	if !errors.Is(err, types.ErrConnection) {
		t.Fatalf("err = %v, want ErrConnection", err)
	}
	stops, closes := h.devs.Mic().Counts()
	if stops != 1 || closes != 1 {
		t.Errorf("microphone stop/close = %d/%d, want 1/1", stops, closes)
	}
	if h.speaker.Closed() != 1 {
		t.Errorf("speaker closed %d times, want 1", h.speaker.Closed())
	}
	if got := h.ev.closeCount(); got != 1 {
		t.Errorf("OnClose called %d times, want 1", got)
	}
}

func TestConnect_CancelledContext(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.provider.OnConnect = cancel
	h.provider.ConnectErr = context.Canceled

	if err := h.sess.Connect(ctx, "prompt"); err == nil {
		t.Fatal("Connect succeeded with cancelled context")
	}
	if h.sess.Connected() {
		t.Error("Connected() = true")
	}
}

func TestConnect_DisconnectDuringHandshake(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	h := newHarness(t, live.WithMetrics(metrics))
	h.provider.OnConnect = h.sess.Disconnect

	err = h.sess.Connect(context.Background(), "prompt")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Connect err = %v, want context.Canceled", err)
	}
	if h.sess.Connected() {
		t.Error("Connected() = true after Disconnect")
	}
	if n := h.ev.closeCount(); n != 1 {
		t.Errorf("OnClose calls = %d, want 1", n)
	}
	if h.remote.Closed() != 1 {
		t.Errorf("remote closed %d times, want 1", h.remote.Closed())
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "advisorsim.live.active_sessions" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				if dp.Value != 0 {
					t.Errorf("active sessions = %d, want 0", dp.Value)
				}
			}
		}
	}
}

// ─── Outbound ────────────────────────────────────────────────────────────────

func TestCapture_SendsFramesInOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect(t)

	frames := [][]float32{constFrame(0.1, 4096), constFrame(-0.3, 4096), constFrame(0.5, 4096)}
	for _, f := range frames {
		h.devs.Mic().Emit(f)
	}
	waitFor(t, "three sent chunks", func() bool { return len(h.remote.SentChunks()) == 3 })

	for i, chunk := range h.remote.SentChunks() {
		if chunk.MIMEType != "audio/pcm;rate=16000" {
			t.Errorf("chunk %d mime = %q", i, chunk.MIMEType)
		}
		want := audio.BytesToBase64(audio.FloatToPCM16(frames[i]))
		if chunk.Data != want {
			t.Errorf("chunk %d out of order or corrupted", i)
		}
	}
}

func TestCapture_LevelReportedWhenSendFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.remote.SendErr = errors.New("broken pipe")
	h.connect(t)

	h.devs.Mic().Emit(constFrame(0.1, 4096))
	waitFor(t, "send attempt", func() bool { return len(h.remote.SentChunks()) == 1 })

	levels := h.ev.levelSnapshot()
	if len(levels) != 1 {
		t.Fatalf("levels = %v, want one entry", levels)
	}
	if math.Abs(levels[0]-0.5) > 1e-3 {
		t.Errorf("level = %v, want 0.5", levels[0])
	}
	if !h.sess.Connected() {
		t.Error("send failure must not end the session")
	}
}

func TestCapture_LevelIsClamped(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect(t)

	h.devs.Mic().Emit(constFrame(0.9, 4096))
	levels := h.ev.levelSnapshot()
	if len(levels) != 1 || levels[0] != 1 {
		t.Errorf("levels = %v, want [1]", levels)
	}
}

func TestCapture_DropsWhenQueueFull(t *testing.T) {
	t.Parallel()
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	h := newHarness(t, live.WithSendQueue(1))
	h.remote.SendFunc = func(ctx context.Context, _ s2s.MediaChunk) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}
	h.connect(t)

	h.devs.Mic().Emit(constFrame(0.1, 4096))
	<-entered
	for range 4 {
		h.devs.Mic().Emit(constFrame(0.2, 4096))
	}
	close(release)

	waitFor(t, "queued frame", func() bool { return len(h.remote.SentChunks()) == 2 })
	time.Sleep(20 * time.Millisecond)
	if n := len(h.remote.SentChunks()); n != 2 {
		t.Errorf("sent %d chunks, want 2 (rest dropped)", n)
	}
	if n := len(h.ev.levelSnapshot()); n != 5 {
		t.Errorf("levels reported = %d, want 5", n)
	}
}

// ─── Inbound ─────────────────────────────────────────────────────────────────

func TestPlayback_GaplessScheduling(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect(t)

	h.remote.EmitAudio(speech(2400)) // 100ms
	h.remote.EmitAudio(speech(2400))
	waitFor(t, "two scheduled buffers", func() bool { return len(h.speaker.Calls()) == 2 })

	calls := h.speaker.Calls()
	if calls[0].At != 0 || calls[1].At != 100*time.Millisecond {
		t.Errorf("start times = %v, %v; want 0, 100ms", calls[0].At, calls[1].At)
	}

	// Playback drained and the clock moved on: next buffer starts now.
	h.speaker.SetNow(500 * time.Millisecond)
	h.remote.EmitAudio(speech(1200))
	waitFor(t, "third buffer", func() bool { return len(h.speaker.Calls()) == 3 })
	if at := h.speaker.Calls()[2].At; at != 500*time.Millisecond {
		t.Errorf("third start = %v, want 500ms", at)
	}
	if got := h.sess.NextStart(); got != 550*time.Millisecond {
		t.Errorf("NextStart = %v, want 550ms", got)
	}
}

func TestPlayback_DecodeFailureLeavesCursor(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect(t)

	h.remote.EmitAudio(speech(2400))
	h.remote.EmitAudio(s2s.MediaChunk{MIMEType: "audio/pcm;rate=24000", Data: "AAEC"}) // 3 bytes
	h.remote.EmitAudio(s2s.MediaChunk{MIMEType: "audio/pcm;rate=24000", Data: "%%%"})
	h.remote.EmitAudio(speech(2400))
	waitFor(t, "two scheduled buffers", func() bool { return len(h.speaker.Calls()) == 2 })

	calls := h.speaker.Calls()
	if calls[1].At != 100*time.Millisecond {
		t.Errorf("second start = %v, want 100ms", calls[1].At)
	}
	if !h.sess.Connected() {
		t.Error("decode failure must not end the session")
	}
}

func TestTranscripts_Forwarded(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect(t)

	want := types.TranscriptEntry{Sender: types.SenderBot, Text: "Bonjour.", Final: true}
	h.remote.EmitTranscript(want)
	waitFor(t, "transcript", func() bool {
		h.ev.mu.Lock()
		defer h.ev.mu.Unlock()
		return len(h.ev.transcripts) == 1
	})
	if got := h.ev.transcripts[0]; got.Text != want.Text || got.Sender != want.Sender {
		t.Errorf("transcript = %+v, want %+v", got, want)
	}
}

// ─── Teardown ────────────────────────────────────────────────────────────────

func TestDisconnect_OrderAndSingleClose(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.speaker.OnClose = func() { h.order.Add("speaker.close") }
	h.remote.OnClose = func() { h.order.Add("remote.close") }
	h.connect(t)

	h.sess.Disconnect()
	h.sess.Disconnect()

	want := []string{"mic.stop", "mic.close", "speaker.close", "remote.close", "onclose"}
	if got := h.order.Events(); !slices.Equal(got, want) {
		t.Errorf("teardown order = %v, want %v", got, want)
	}
	if got := h.ev.closeCount(); got != 1 {
		t.Errorf("OnClose called %d times, want 1", got)
	}
	if h.sess.Connected() {
		t.Error("Connected() = true after Disconnect")
	}
	if h.devs.Mic().Emit(constFrame(0.1, 4096)) {
		t.Error("capture tap still attached after Disconnect")
	}
}

func TestDisconnect_NeverConnected(t *testing.T) {
	t.Parallel()
	ev := &events{}
	sess := live.New(&s2smock.Provider{}, &audiomock.Devices{}, ev.callbacks())

	sess.Disconnect()
	sess.Disconnect()

	if got := ev.closeCount(); got != 1 {
		t.Errorf("OnClose called %d times, want 1", got)
	}
}

func TestDisconnect_ContinuesAfterFailingStep(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.speaker.CloseError = errors.New("device busy")
	h.speaker.OnClose = func() { panic("driver crashed") }
	h.connect(t)

	h.sess.Disconnect()

	if h.remote.Closed() != 1 {
		t.Errorf("remote closed %d times, want 1", h.remote.Closed())
	}
	if got := h.ev.closeCount(); got != 1 {
		t.Errorf("OnClose called %d times, want 1", got)
	}
}

func TestRemoteClose_TearsDown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{"clean close", nil},
		{"stream error", errors.New("connection reset")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.connect(t)

			h.remote.Finish(tc.err)
			waitFor(t, "OnClose", func() bool { return h.ev.closeCount() == 1 })

			if h.sess.Connected() {
				t.Error("Connected() = true after remote close")
			}
			stops, closes := h.devs.Mic().Counts()
			if stops != 1 || closes != 1 {
				t.Errorf("microphone stop/close = %d/%d, want 1/1", stops, closes)
			}

			// A later explicit Disconnect does not notify again.
			h.sess.Disconnect()
			if got := h.ev.closeCount(); got != 1 {
				t.Errorf("OnClose called %d times, want 1", got)
			}
		})
	}
}

func TestReconnect_ResetsCursor(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connect(t)

	h.remote.EmitAudio(speech(2400))
	waitFor(t, "scheduled buffer", func() bool { return len(h.speaker.Calls()) == 1 })
	h.sess.Disconnect()

	h.provider.Session = s2smock.NewSession()
	h.connect(t)
	if got := h.sess.NextStart(); got != 0 {
		t.Errorf("NextStart after reconnect = %v, want 0", got)
	}
	h.sess.Disconnect()
	if got := h.ev.closeCount(); got != 2 {
		t.Errorf("OnClose called %d times over two attempts, want 2", got)
	}
}
