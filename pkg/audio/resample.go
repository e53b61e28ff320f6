package audio

import (
	"errors"
	"sync"

	resampler "github.com/godeps/go-audio-soxr"
)

type soxrKey struct {
	inRate  int
	outRate int
}

var soxrPools sync.Map

func soxrPool(key soxrKey) *sync.Pool {
	if pool, ok := soxrPools.Load(key); ok {
		return pool.(*sync.Pool)
	}
	actual, _ := soxrPools.LoadOrStore(key, &sync.Pool{})
	return actual.(*sync.Pool)
}

func acquireSoxr(key soxrKey) (*resampler.SimpleResamplerFloat32, error) {
	if v := soxrPool(key).Get(); v != nil {
		if r, ok := v.(*resampler.SimpleResamplerFloat32); ok && r != nil {
			return r, nil
		}
	}
	return resampler.NewEngineFloat32(float64(key.inRate), float64(key.outRate), resampler.QualityHigh)
}

func releaseSoxr(key soxrKey, r *resampler.SimpleResamplerFloat32) {
	if r == nil {
		return
	}
	r.Reset()
	soxrPool(key).Put(r)
}

// Resampler converts a mono stream between sample rates, keeping state
// across calls.
type Resampler struct {
	key soxrKey
	r   *resampler.SimpleResamplerFloat32
}

// NewResampler creates a streaming resampler.
func NewResampler(inRate, outRate int) (*Resampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, errors.New("resample: invalid rate")
	}
	key := soxrKey{inRate: inRate, outRate: outRate}
	r, err := acquireSoxr(key)
	if err != nil {
		return nil, err
	}
	return &Resampler{key: key, r: r}, nil
}

// Process resamples pcm and returns the samples produced so far.
func (s *Resampler) Process(pcm []int16) ([]int16, error) {
	if s == nil || s.r == nil {
		return nil, errors.New("resample: closed")
	}
	if len(pcm) == 0 {
		return nil, nil
	}
	in := AcquireFloat32(len(pcm))
	in = Int16ToFloat32Into(in, pcm)
	out, err := s.r.Process(in)
	ReleaseFloat32(in)
	if err != nil {
		return nil, err
	}
	return Float32ToInt16Into(nil, out), nil
}

// Flush drains samples still buffered inside the resampler.
func (s *Resampler) Flush() ([]int16, error) {
	if s == nil || s.r == nil {
		return nil, errors.New("resample: closed")
	}
	out, err := s.r.Flush()
	if err != nil {
		return nil, err
	}
	return Float32ToInt16Into(nil, out), nil
}

// Close returns the engine to its pool.
func (s *Resampler) Close() {
	if s == nil || s.r == nil {
		return
	}
	releaseSoxr(s.key, s.r)
	s.r = nil
}

// Resample converts a whole mono buffer from inRate to outRate.
func Resample(pcm []int16, inRate, outRate int) ([]int16, error) {
	if inRate == outRate {
		return pcm, nil
	}
	r, err := NewResampler(inRate, outRate)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out, err := r.Process(pcm)
	if err != nil {
		return nil, err
	}
	tail, err := r.Flush()
	if err != nil {
		return nil, err
	}
	return append(out, tail...), nil
}
