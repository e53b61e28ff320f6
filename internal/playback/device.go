package playback

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hajimehoshi/oto/v2"

	"github.com/saker-ai/presence-engine/pkg/audio"
)

// DeviceOutput plays through the default sound device.
type DeviceOutput struct {
	ctx    *oto.Context
	format audio.Format
}

// NewDeviceOutput opens the sound device. It blocks until the device is ready.
func NewDeviceOutput(format audio.Format) (*DeviceOutput, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("device output: invalid format %+v", format)
	}
	ctx, ready, err := oto.NewContext(format.SampleRate, format.Channels, oto.FormatSignedInt16LE)
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready
	return &DeviceOutput{ctx: ctx, format: format}, nil
}

// Name implements Output.
func (o *DeviceOutput) Name() string { return "device" }

// Format implements Output.
func (o *DeviceOutput) Format() audio.Format { return o.format }

// Open implements Output.
func (o *DeviceOutput) Open(pcm []byte) (Stream, error) {
	src := &countingReader{r: bytes.NewReader(pcm)}
	player := o.ctx.NewPlayer(src)
	s := &deviceStream{
		player: player,
		src:    src,
		pcm:    pcm,
		format: o.format,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	player.Play()
	go s.watch()
	return s, nil
}

type countingReader struct {
	r   io.Reader
	n   atomic.Int64
	eof atomic.Bool
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	if err == io.EOF {
		c.eof.Store(true)
	}
	return n, err
}

type deviceStream struct {
	player oto.Player
	src    *countingReader
	pcm    []byte
	format audio.Format

	mu       sync.Mutex
	err      error
	once     sync.Once
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func (s *deviceStream) watch() {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			s.player.Pause()
			s.finish(ErrStopped)
			return
		case <-ticker.C:
			if err := s.player.Err(); err != nil {
				s.finish(err)
				return
			}
			if s.src.eof.Load() && !s.player.IsPlaying() {
				s.finish(nil)
				return
			}
		}
	}
}

func (s *deviceStream) finish(err error) {
	s.once.Do(func() {
		_ = s.player.Close()
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *deviceStream) Done() <-chan struct{} { return s.done }

func (s *deviceStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *deviceStream) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *deviceStream) Window(dst []float32) int {
	select {
	case <-s.done:
		return 0
	default:
	}
	pos := int(s.src.n.Load()) - s.player.UnplayedBufferSize()
	if pos < 0 {
		pos = 0
	}
	return window(s.pcm, s.format, pos, dst)
}
