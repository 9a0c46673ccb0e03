package audio

import "time"

// AudioFrame represents a single block of captured audio flowing through the
// capture pipeline. Samples are native float amplitudes in [-1, 1] at the
// device's native rate.
type AudioFrame struct {
	// Samples holds mono float PCM.
	Samples []float32

	// SampleRate in Hz (e.g., 48000 for a typical microphone, 16000 on the wire).
	SampleRate int

	// Level is the root-mean-square energy of Samples. Zero until computed by
	// the consumer (see [RMS]).
	Level float64

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	return SamplesDuration(len(f.Samples), f.SampleRate)
}

// SamplesDuration returns how long n mono samples last at rate Hz.
func SamplesDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// DurationSamples returns the sample index at offset d on a rate Hz clock,
// rounded to the nearest sample so it inverts [SamplesDuration].
func DurationSamples(d time.Duration, rate int) int64 {
	if rate <= 0 || d <= 0 {
		return 0
	}
	return (int64(d)*int64(rate) + int64(time.Second)/2) / int64(time.Second)
}
