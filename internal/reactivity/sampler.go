// Package reactivity turns the audio currently playing into a scalar level
// used to perturb the avatar.
package reactivity

import (
	"fmt"
	"math"
	"sync"

	"github.com/mjibson/go-dsp/fft"
	"go.uber.org/zap"
)

const (
	// FFTSize is the analysis window length.
	FFTSize = 256
	// Bins is the number of frequency bins reported per analysis.
	Bins = FFTSize / 2

	minDecibels = -100.0
	maxDecibels = -30.0
	smoothing   = 0.8
)

// Source exposes the most recently played mono samples.
type Source interface {
	// Window copies up to len(dst) of the latest samples, oldest first, and
	// returns how many were written. Zero means nothing is playing.
	Window(dst []float32) int
}

// AttachFunc resolves the audio source. It returns a nil Source while no audio
// exists yet and an error when the audio subsystem is unavailable.
type AttachFunc func() (Source, error)

// Sampler reads frequency-domain energy from the attached source.
type Sampler struct {
	attach AttachFunc
	logger *zap.Logger

	mu       sync.Mutex
	source   Source
	disabled bool
	warnOnce sync.Once

	samples  []float32
	real     []float64
	window   []float64
	smoothed []float64
	bytes    []uint8
}

// New creates a sampler. attach may be nil, in which case Sample always returns 0.
func New(attach AttachFunc, logger *zap.Logger) *Sampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sampler{
		attach:   attach,
		logger:   logger,
		samples:  make([]float32, FFTSize),
		real:     make([]float64, FFTSize),
		window:   blackman(FFTSize),
		smoothed: make([]float64, Bins),
		bytes:    make([]uint8, Bins),
	}
}

// Sample returns the current level in [0,1]. It never panics; a failing audio
// subsystem degrades the sampler to a constant 0.
func (s *Sampler) Sample() (level float64) {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			s.disable(fmt.Errorf("audio analysis panic: %v", r))
			level = 0
		}
	}()

	if s.disabled {
		return 0
	}
	if s.source == nil {
		if s.attach == nil {
			return 0
		}
		src, err := s.attach()
		if err != nil {
			s.disable(err)
			return 0
		}
		if src == nil {
			return 0
		}
		s.source = src
		s.logger.Debug("audio sampler attached")
	}

	n := s.source.Window(s.samples)
	if n <= 0 {
		s.reset()
		return 0
	}
	return s.analyse(n)
}

// Disabled reports whether the sampler gave up on the audio subsystem.
func (s *Sampler) Disabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled
}

func (s *Sampler) disable(err error) {
	s.disabled = true
	s.source = nil
	s.warnOnce.Do(func() {
		s.logger.Warn("audio reactivity unavailable; level fixed at 0", zap.Error(err))
	})
}

func (s *Sampler) reset() {
	for i := range s.smoothed {
		s.smoothed[i] = 0
		s.bytes[i] = 0
	}
}

// analyse mirrors a 256-point analyser node: Blackman window, magnitude
// smoothing over time, then a decibel range mapped onto bytes.
func (s *Sampler) analyse(n int) float64 {
	if n > FFTSize {
		n = FFTSize
	}
	pad := FFTSize - n
	for i := 0; i < pad; i++ {
		s.real[i] = 0
	}
	for i := 0; i < n; i++ {
		s.real[pad+i] = float64(s.samples[i]) * s.window[pad+i]
	}

	spectrum := fft.FFTReal(s.real)
	scale := 1.0 / float64(FFTSize)
	rangeScale := 255.0 / (maxDecibels - minDecibels)

	sum := 0.0
	for k := 0; k < Bins; k++ {
		c := spectrum[k]
		mag := math.Hypot(real(c), imag(c)) * scale
		s.smoothed[k] = smoothing*s.smoothed[k] + (1-smoothing)*mag

		v := 0.0
		if s.smoothed[k] > 0 {
			db := 20 * math.Log10(s.smoothed[k])
			v = math.Floor(rangeScale * (db - minDecibels))
		}
		if v < 0 {
			v = 0
		}
		if v > 255 {
			v = 255
		}
		s.bytes[k] = uint8(v)
		sum += v
	}
	return sum / float64(Bins*255)
}

func blackman(n int) []float64 {
	const a0, a1, a2 = 0.42, 0.5, 0.08
	w := make([]float64, n)
	for i := range w {
		x := 2 * math.Pi * float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(x) + a2*math.Cos(2*x)
	}
	return w
}
