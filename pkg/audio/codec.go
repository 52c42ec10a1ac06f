package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/MrWong99/advisorsim/pkg/types"
)

// FloatToPCM16 converts float samples to little-endian signed 16-bit PCM.
// Samples outside [-1, 1] are clamped. Negative values scale by 32768 and
// positive values by 32767 so that both ends of the range are reachable.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 32768)
		} else {
			v = int16(s * 32767)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// PCM16ToFloat converts little-endian signed 16-bit PCM to float samples in
// [-1, 1). A trailing odd byte is ignored; use [PCMToBuffer] for validation.
func PCM16ToFloat(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out
}

// PCMToBuffer decodes little-endian PCM16 bytes into a single-channel
// [PlaybackBuffer] at sampleRate. It fails with [types.ErrDecode] when the
// byte length is odd or the sample rate is not positive.
func PCMToBuffer(pcm []byte, sampleRate int) (PlaybackBuffer, error) {
	if sampleRate <= 0 {
		return PlaybackBuffer{}, fmt.Errorf("audio: invalid sample rate %d: %w", sampleRate, types.ErrDecode)
	}
	if len(pcm)%2 != 0 {
		return PlaybackBuffer{}, fmt.Errorf("audio: odd PCM16 byte count %d: %w", len(pcm), types.ErrDecode)
	}
	return PlaybackBuffer{
		Channels:   [][]float32{PCM16ToFloat(pcm)},
		SampleRate: sampleRate,
	}, nil
}

// BytesToBase64 encodes b with the standard base64 alphabet.
func BytesToBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Base64ToBytes decodes standard base64 text.
func Base64ToBytes(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("audio: base64: %w", types.ErrDecode)
	}
	return b, nil
}

// RMS returns the root-mean-square amplitude of samples, or 0 when empty.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
