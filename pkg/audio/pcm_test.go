package audio

import (
	"testing"
	"time"
)

func TestInt16BytesRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768, 1234}
	raw := Int16ToBytesInto(nil, in)
	if len(raw) != len(in)*2 {
		t.Fatalf("len=%d, want %d", len(raw), len(in)*2)
	}
	out := BytesToInt16Into(nil, append(raw, 0x7f))
	if len(out) != len(in) {
		t.Fatalf("len=%d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("out[%d]=%d, want %d", i, out[i], in[i])
		}
	}
}

func TestFloat32ToInt16Clamps(t *testing.T) {
	got := Float32ToInt16Into(nil, []float32{2, -2, 0})
	if got[0] != 32767 || got[1] != -32768 || got[2] != 0 {
		t.Fatalf("got=%v", got)
	}
}

func TestFormatDuration(t *testing.T) {
	f := Format{SampleRate: 24000, Channels: 1}
	if got := f.Duration(48000); got != time.Second {
		t.Fatalf("duration=%v, want 1s", got)
	}
	if got := (Format{}).Duration(100); got != 0 {
		t.Fatalf("duration=%v, want 0 for invalid format", got)
	}
}

func TestMixToMono(t *testing.T) {
	got := MixToMono([]int16{100, 300, -50, -150}, 2)
	if len(got) != 2 || got[0] != 200 || got[1] != -100 {
		t.Fatalf("got=%v", got)
	}
}

func TestFloat64ToPCM16(t *testing.T) {
	pcm := Float64ToPCM16([]float64{1, -1, 0.5, 3})
	samples := BytesToInt16Into(nil, pcm)
	want := []int16{32767, -32767, 16384, 32767}
	for i := range want {
		if samples[i] != want[i] {
			t.Fatalf("samples=%v, want %v", samples, want)
		}
	}
}

func TestPoolReuse(t *testing.T) {
	buf := AcquireInt16(16)
	if len(buf) != 16 {
		t.Fatalf("len=%d, want 16", len(buf))
	}
	ReleaseInt16(buf)
	if got := AcquireInt16(0); got != nil {
		t.Fatalf("AcquireInt16(0)=%v, want nil", got)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	f := Format{SampleRate: 22050, Channels: 1}
	pcm := Int16ToBytesInto(nil, []int16{1, 2, 3, -4})
	got, gotFormat, err := DecodeWAV(EncodeWAV(pcm, f))
	if err != nil {
		t.Fatalf("DecodeWAV error: %v", err)
	}
	if gotFormat != f {
		t.Fatalf("format=%+v, want %+v", gotFormat, f)
	}
	if string(got) != string(pcm) {
		t.Fatalf("pcm=%v, want %v", got, pcm)
	}
}

func TestDecodeWAVStreamingSize(t *testing.T) {
	f := Format{SampleRate: 16000, Channels: 1}
	wav := EncodeWAV(Int16ToBytesInto(nil, []int16{5, 6, 7}), f)
	for i := 40; i < 44; i++ {
		wav[i] = 0xff
	}
	pcm, _, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV error: %v", err)
	}
	if len(pcm) != 6 {
		t.Fatalf("len=%d, want 6", len(pcm))
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("not audio at all")); err == nil {
		t.Fatal("DecodeWAV error=nil, want non-nil")
	}
}
