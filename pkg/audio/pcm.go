package audio

import (
	"encoding/binary"
	"math"
)

// Resample converts mono float samples from srcRate to dstRate using linear
// interpolation between neighbouring input samples. The output length is
// round(len(samples) * dstRate / srcRate). If srcRate == dstRate, the input is
// returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return samples
	}
	ratio := float64(srcRate) / float64(dstRate)
	n := int(math.Round(float64(len(samples)) / ratio))
	out := make([]float32, n)

	for i := range n {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		var a float32
		if idx < len(samples) {
			a = samples[idx]
		}
		b := a
		if idx+1 < len(samples) {
			b = samples[idx+1]
		}
		out[i] = a + (b-a)*frac
	}
	return out
}

// FloatToInt16 clamps each sample to [-1, 1] and scales it to signed 16-bit
// PCM. Negative values are scaled by 32768 and non-negative values by 32767,
// rounding to the nearest integer. NaN maps to silence.
func FloatToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = sampleToInt16(s)
	}
	return out
}

func sampleToInt16(s float32) int16 {
	v := float64(s)
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	if v < 0 {
		return int16(math.Round(v * 32768))
	}
	return int16(math.Round(v * 32767))
}

// Int16ToFloat scales signed 16-bit PCM back to float amplitudes by dividing
// by 32768.
func Int16ToFloat(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768
	}
	return out
}

// EncodePCM16LE serialises samples as little-endian 16-bit PCM.
func EncodePCM16LE(pcm []int16) []byte {
	buf := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// DecodePCM16LE parses little-endian 16-bit PCM. A trailing odd byte is
// ignored.
func DecodePCM16LE(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return pcm
}

// RMS returns the root-mean-square energy of samples, or 0 for an empty slice.
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
