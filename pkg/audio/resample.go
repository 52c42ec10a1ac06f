package audio

import "encoding/binary"

// ResampleMono16 resamples little-endian 16-bit mono PCM from srcRate to
// dstRate using linear interpolation. The input is returned unchanged when the
// rates match or either rate is not positive.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	n := len(pcm) / 2
	outN := int(int64(n) * int64(dstRate) / int64(srcRate))
	if outN == 0 {
		return nil
	}

	sample := func(i int) float64 {
		return float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	out := make([]byte, outN*2)
	step := float64(srcRate) / float64(dstRate)
	for i := range outN {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := sample(idx)
		s1 := s0
		if idx+1 < n {
			s1 = sample(idx + 1)
		}
		v := int16(s0*(1-frac) + s1*frac)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
