package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/saker-ai/presence-engine/internal/provider"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1/"}), &hits
}

func TestChatComplete(t *testing.T) {
	var body struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path=%s, want /v1/chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization=%q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":" Congratulations! [mood:excited] "}}]}`)
	})

	chat := NewChat(client, "", 0)
	reply, err := chat.Complete(context.Background(), provider.ChatRequest{Messages: []provider.Message{
		{Role: provider.RoleSystem, Content: "seed"},
		{Role: provider.RoleUser, Content: "I just won an award!"},
		{Role: provider.RoleAssistant, Content: "earlier"},
	}})
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if reply != "Congratulations! [mood:excited]" {
		t.Fatalf("reply=%q", reply)
	}
	if body.Model != DefaultChatModel || body.MaxTokens != DefaultMaxTokens {
		t.Fatalf("model=%s max_tokens=%d", body.Model, body.MaxTokens)
	}
	if len(body.Messages) != 3 || body.Messages[0].Role != "system" || body.Messages[2].Role != "assistant" {
		t.Fatalf("messages=%+v", body.Messages)
	}
}

func TestChatEmptyChoicesIsProtocolError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[]}`)
	})
	_, err := NewChat(client, "", 0).Complete(context.Background(), provider.ChatRequest{})
	if !errors.Is(err, provider.ErrProtocol) {
		t.Fatalf("err=%v, want ErrProtocol", err)
	}
}

func TestChatHTTPErrorIsTransport(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"bad model","type":"invalid_request_error"}}`)
	})
	_, err := NewChat(client, "", 0).Complete(context.Background(), provider.ChatRequest{})
	if !errors.Is(err, provider.ErrTransport) {
		t.Fatalf("err=%v, want ErrTransport", err)
	}
	if !strings.Contains(err.Error(), "bad model") {
		t.Fatalf("err=%v, want upstream message", err)
	}
}

func TestMissingCredentialSkipsNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()
	client := NewClient(Config{BaseURL: srv.URL + "/v1/"})

	ctx := context.Background()
	if _, err := NewChat(client, "", 0).Complete(ctx, provider.ChatRequest{}); !errors.Is(err, provider.ErrMissingCredential) {
		t.Fatalf("chat err=%v, want ErrMissingCredential", err)
	}
	if _, err := NewSpeech(client, "", "", 0).Synthesize(ctx, provider.SpeechRequest{Text: "hi"}); !errors.Is(err, provider.ErrMissingCredential) {
		t.Fatalf("speech err=%v, want ErrMissingCredential", err)
	}
	if _, err := NewTranscriber(client, "", "").Transcribe(ctx, []byte("RIFF")); !errors.Is(err, provider.ErrMissingCredential) {
		t.Fatalf("transcribe err=%v, want ErrMissingCredential", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("hits=%d, want 0", hits.Load())
	}
}

func TestSpeechSynthesize(t *testing.T) {
	var body map[string]any
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Errorf("path=%s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(make([]byte, 4801))
	})
	out, err := NewSpeech(client, "", "", 0).Synthesize(context.Background(), provider.SpeechRequest{Text: "Congratulations!"})
	if err != nil {
		t.Fatalf("Synthesize error: %v", err)
	}
	if len(out.PCM) != 4800 || out.Format.SampleRate != SpeechSampleRate || out.Format.Channels != 1 {
		t.Fatalf("pcm=%d format=%+v", len(out.PCM), out.Format)
	}
	if body["voice"] != DefaultVoice || body["response_format"] != "pcm" || body["input"] != "Congratulations!" {
		t.Fatalf("body=%v", body)
	}
}

func TestSpeechEmptyAudioIsProtocolError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	_, err := NewSpeech(client, "", "", 0).Synthesize(context.Background(), provider.SpeechRequest{Text: "hi"})
	if !errors.Is(err, provider.ErrProtocol) {
		t.Fatalf("err=%v, want ErrProtocol", err)
	}
}

func TestSpeechServerErrorIsTransport(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":{"message":"overloaded"}}`)
	})
	_, err := NewSpeech(client, "", "", 0).Synthesize(context.Background(), provider.SpeechRequest{Text: "hi"})
	if provider.Classify(err) != provider.KindTransport {
		t.Fatalf("kind=%s err=%v, want transport", provider.Classify(err), err)
	}
}

func TestTranscribe(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		} else if r.FormValue("model") != DefaultTranscribeModel {
			t.Errorf("model=%q", r.FormValue("model"))
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":" I just won an award! "}`)
	})
	text, err := NewTranscriber(client, "", "").Transcribe(context.Background(), []byte("RIFF....WAVE"))
	if err != nil {
		t.Fatalf("Transcribe error: %v", err)
	}
	if text != "I just won an award!" {
		t.Fatalf("text=%q", text)
	}
}

func TestCanceledContextIsNotTransport(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewChat(client, "", 0).Complete(ctx, provider.ChatRequest{})
	if provider.Classify(err) != provider.KindCanceled {
		t.Fatalf("kind=%s err=%v, want canceled", provider.Classify(err), err)
	}
}
