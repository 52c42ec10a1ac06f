package audio_test

import (
	"bytes"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/MrWong99/advisorsim/pkg/audio"
	"github.com/MrWong99/advisorsim/pkg/types"
)

func TestFloatToPCM16(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{name: "zero", in: 0, want: 0},
		{name: "full positive", in: 1, want: 32767},
		{name: "full negative", in: -1, want: -32768},
		{name: "half", in: 0.5, want: 16383},
		{name: "clamp high", in: 1.7, want: 32767},
		{name: "clamp low", in: -3, want: -32768},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := bytesToSamples(audio.FloatToPCM16([]float32{tt.in}))
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("FloatToPCM16(%v) = %v, want [%d]", tt.in, got, tt.want)
			}
		})
	}
}

func TestFloatToPCM16_LittleEndian(t *testing.T) {
	t.Parallel()

	got := audio.FloatToPCM16([]float32{-1})
	if !bytes.Equal(got, []byte{0x00, 0x80}) {
		t.Errorf("got % x, want 00 80", got)
	}
}

func TestPCMRoundTrip(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	in := make([]float32, 4096)
	for i := range in {
		in[i] = rng.Float32()*2 - 1
	}
	in[0], in[1], in[2] = -1, 1, 0

	buf, err := audio.PCMToBuffer(audio.FloatToPCM16(in), 16000)
	if err != nil {
		t.Fatalf("PCMToBuffer: %v", err)
	}
	if len(buf.Channels) != 1 {
		t.Fatalf("got %d channels, want 1", len(buf.Channels))
	}
	out := buf.Channels[0]
	if len(out) != len(in) {
		t.Fatalf("got %d samples, want %d", len(out), len(in))
	}
	const tolerance = 2.0 / 32768
	for i := range in {
		if d := math.Abs(float64(out[i] - in[i])); d > tolerance {
			t.Fatalf("sample %d: got %v, want %v (diff %v)", i, out[i], in[i], d)
		}
	}
}

func TestPCMToBuffer(t *testing.T) {
	t.Parallel()

	buf, err := audio.PCMToBuffer(samplesToBytes(make([]int16, 24000)), 24000)
	if err != nil {
		t.Fatalf("PCMToBuffer: %v", err)
	}
	if buf.SampleRate != 24000 {
		t.Errorf("SampleRate = %d, want 24000", buf.SampleRate)
	}
	if buf.Duration() != time.Second {
		t.Errorf("Duration = %v, want 1s", buf.Duration())
	}
}

func TestPCMToBuffer_DecodeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pcm  []byte
		rate int
	}{
		{name: "odd length", pcm: []byte{1, 2, 3}, rate: 24000},
		{name: "single byte", pcm: []byte{1}, rate: 24000},
		{name: "zero rate", pcm: []byte{1, 2}, rate: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := audio.PCMToBuffer(tt.pcm, tt.rate)
			if !errors.Is(err, types.ErrDecode) {
				t.Errorf("err = %v, want ErrDecode", err)
			}
		})
	}
}

func TestBase64RoundTrip(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(3, 4))
	for n := range 64 {
		in := make([]byte, n*7)
		for i := range in {
			in[i] = byte(rng.IntN(256))
		}
		out, err := audio.Base64ToBytes(audio.BytesToBase64(in))
		if err != nil {
			t.Fatalf("len %d: %v", len(in), err)
		}
		if !bytes.Equal(out, in) {
			t.Fatalf("len %d: round trip mismatch", len(in))
		}
	}
}

func TestBase64ToBytes_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := audio.Base64ToBytes("not base64!!"); !errors.Is(err, types.ErrDecode) {
		t.Errorf("err = %v, want ErrDecode", err)
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []float32
		want float64
	}{
		{name: "empty", in: nil, want: 0},
		{name: "silence", in: make([]float32, 16), want: 0},
		{name: "constant", in: []float32{0.5, -0.5, 0.5, -0.5}, want: 0.5},
		{name: "full scale", in: []float32{1, -1}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := audio.RMS(tt.in); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RMS = %v, want %v", got, tt.want)
			}
		})
	}
}
