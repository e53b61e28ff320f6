package playback

import (
	"sync"
	"time"

	"github.com/saker-ai/presence-engine/pkg/audio"
)

// Output opens playback streams in a fixed format.
type Output interface {
	Name() string
	Format() audio.Format
	Open(pcm []byte) (Stream, error)
}

// Stream is one buffer being played.
type Stream interface {
	// Done is closed once the stream ended or was stopped.
	Done() <-chan struct{}
	// Err is nil after a natural end.
	Err() error
	// Stop halts output synchronously.
	Stop()
	// Window copies the latest played mono samples into dst.
	Window(dst []float32) int
}

// PacedStream releases a buffer in real time, frame by frame.
type PacedStream struct {
	pcm      []byte
	format   audio.Format
	frame    int
	interval time.Duration
	onFrame  func([]byte)

	mu       sync.Mutex
	pos      int
	err      error
	once     sync.Once
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewPacedStream starts releasing pcm in frameMs chunks. onFrame may be nil.
func NewPacedStream(pcm []byte, format audio.Format, frameMs int, onFrame func([]byte)) *PacedStream {
	if frameMs <= 0 {
		frameMs = 20
	}
	frame := format.SampleRate * frameMs / 1000 * format.BytesPerFrame()
	if frame <= 0 {
		frame = len(pcm)
	}
	s := &PacedStream{
		pcm:      pcm,
		format:   format,
		frame:    frame,
		interval: time.Duration(frameMs) * time.Millisecond,
		onFrame:  onFrame,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *PacedStream) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		start := s.pos
		end := start + s.frame
		if end > len(s.pcm) {
			end = len(s.pcm)
		}
		chunk := s.pcm[start:end]
		s.mu.Unlock()

		if len(chunk) == 0 {
			s.finish(nil)
			return
		}
		if s.onFrame != nil {
			s.onFrame(chunk)
		}

		select {
		case <-s.stop:
			s.finish(ErrStopped)
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		s.pos = end
		s.mu.Unlock()
	}
}

func (s *PacedStream) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

// Done implements Stream.
func (s *PacedStream) Done() <-chan struct{} { return s.done }

// Err implements Stream.
func (s *PacedStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop implements Stream.
func (s *PacedStream) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Window implements Stream. The frame currently being released counts as played.
func (s *PacedStream) Window(dst []float32) int {
	s.mu.Lock()
	pos := s.pos + s.frame
	s.mu.Unlock()
	select {
	case <-s.done:
		return 0
	default:
	}
	return window(s.pcm, s.format, pos, dst)
}

// NullOutput plays nothing but keeps real-time pacing so completion and
// audio reactivity behave as with a device.
type NullOutput struct {
	format audio.Format
}

// NewNullOutput creates a silent output.
func NewNullOutput(format audio.Format) *NullOutput {
	return &NullOutput{format: format}
}

// Name implements Output.
func (o *NullOutput) Name() string { return "null" }

// Format implements Output.
func (o *NullOutput) Format() audio.Format { return o.format }

// Open implements Output.
func (o *NullOutput) Open(pcm []byte) (Stream, error) {
	return NewPacedStream(pcm, o.format, 20, nil), nil
}
