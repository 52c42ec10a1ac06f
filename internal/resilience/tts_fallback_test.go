package resilience

import (
	"context"
	"errors"
	"testing"

	ttsmock "github.com/MrWong99/advisorsim/pkg/provider/tts/mock"
	"github.com/MrWong99/advisorsim/pkg/types"
)

func TestTTSFallback_PrimarySuccess(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{PCM: []byte{1, 0}, Rate: 24000}
	secondary := &ttsmock.Provider{PCM: []byte{2, 0}, Rate: 16000}
	fb := NewTTSFallback(primary, "openai", FallbackConfig{})
	fb.AddFallback("elevenlabs", secondary)

	voice := types.VoiceProfile{ID: "nova"}
	pcm, rate, err := fb.SynthesizeRate(context.Background(), "Bonjour", voice)
	if err != nil {
		t.Fatalf("SynthesizeRate: %v", err)
	}
	if pcm[0] != 1 || rate != 24000 {
		t.Errorf("got pcm %v at %d Hz, want the primary's clip", pcm, rate)
	}
	calls := primary.SynthesizeCalls()
	if len(calls) != 1 || calls[0].Text != "Bonjour" || calls[0].Voice != voice {
		t.Errorf("primary calls = %+v", calls)
	}
	if len(secondary.SynthesizeCalls()) != 0 {
		t.Error("secondary should not be called")
	}
}

func TestTTSFallback_FailoverReportsRate(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{Err: errors.New("quota exceeded"), Rate: 24000}
	secondary := &ttsmock.Provider{PCM: []byte{2, 0}, Rate: 16000}
	fb := NewTTSFallback(primary, "openai", FallbackConfig{})
	fb.AddFallback("elevenlabs", secondary)

	if fb.SampleRate() != 24000 {
		t.Errorf("initial SampleRate = %d, want the primary's", fb.SampleRate())
	}
	pcm, err := fb.Synthesize(context.Background(), "Bonjour", types.VoiceProfile{ID: "onyx"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if pcm[0] != 2 {
		t.Errorf("pcm = %v, want the fallback's clip", pcm)
	}
	if fb.SampleRate() != 16000 {
		t.Errorf("SampleRate = %d after failover, want 16000", fb.SampleRate())
	}
}

func TestTTSFallback_AllFail(t *testing.T) {
	t.Parallel()

	fb := NewTTSFallback(&ttsmock.Provider{Err: errors.New("a")}, "openai", FallbackConfig{})
	fb.AddFallback("elevenlabs", &ttsmock.Provider{Err: errors.New("b")})

	if _, err := fb.Synthesize(context.Background(), "x", types.VoiceProfile{}); !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
}
