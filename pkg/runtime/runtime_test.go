package runtime

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	appconfig "github.com/saker-ai/presence-engine/internal/config"
	"github.com/saker-ai/presence-engine/internal/session/fsm"
	"github.com/saker-ai/presence-engine/internal/turn"
)

func fakeOpenAI(t *testing.T, speechCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/chat/completions":
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
				"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Congratulations! That is wonderful news. [mood:happy]"}}]}`)
		case "/v1/audio/speech":
			speechCalls.Add(1)
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write(make([]byte, 24000*2/10))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL string) appconfig.Config {
	return appconfig.Config{
		HTTPAddr:   "127.0.0.1:0",
		TLSDisable: true,
		OpenAI: appconfig.OpenAIConfig{
			APIKey:      "sk-test",
			BaseURL:     baseURL,
			Timeout:     5 * time.Second,
			ChatModel:   "gpt-4o-mini",
			MaxTokens:   200,
			SpeechModel: "tts-1",
			Voice:       "nova",
			SpeechSpeed: 1,
		},
		Frame: appconfig.FrameConfig{FPS: 30},
		Playback: appconfig.PlaybackConfig{
			Output:       appconfig.OutputNull,
			SampleRate:   24000,
			Channels:     1,
			Grace:        5 * time.Second,
			FrameMs:      20,
			VoiceCommand: "definitely-not-a-tts-binary",
		},
		Capture: appconfig.CaptureConfig{Mode: "browser"},
	}
}

func startEngine(t *testing.T, cfg appconfig.Config) (*Engine, string) {
	t.Helper()
	e, err := NewWithConfig(cfg, nil)
	if err != nil {
		t.Fatalf("NewWithConfig error: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- e.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errc:
			if err != nil {
				t.Errorf("Serve error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("engine did not stop")
		}
	})
	return e, "http://" + ln.Addr().String()
}

func getState(t *testing.T, base string) turn.Snapshot {
	t.Helper()
	resp, err := http.Get(base + "/api/state")
	if err != nil {
		t.Fatalf("GET /api/state: %v", err)
	}
	defer resp.Body.Close()
	var snap turn.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return snap
}

func TestEngineTurnOverHTTP(t *testing.T) {
	var speechCalls atomic.Int32
	upstream := fakeOpenAI(t, &speechCalls)
	_, base := startEngine(t, testConfig(upstream.URL+"/v1/"))

	resp, err := http.Get(base + "/health")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("health: resp=%v err=%v", resp, err)
	}
	resp.Body.Close()

	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/client-ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	resp, err = http.Post(base+"/api/turn", "application/json", strings.NewReader(`{"text":"I just won an award!"}`))
	if err != nil {
		t.Fatalf("POST /api/turn: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("turn code=%d", resp.StatusCode)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var reply map[string]any
	for reply == nil {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read ws: %v", err)
		}
		if msg["type"] == "full-text" {
			reply = msg
		}
	}
	if reply["text"] != "Congratulations! That is wonderful news." || reply["mood"] != "happy" {
		t.Fatalf("reply=%v", reply)
	}

	deadline := time.Now().Add(5 * time.Second)
	var snap turn.Snapshot
	for {
		snap = getState(t, base)
		if snap.State == fsm.StateIdle && snap.Status == turn.StatusReady {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("turn did not finish: %+v", snap)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if snap.Mood != "happy" || speechCalls.Load() != 1 {
		t.Fatalf("mood=%s speech calls=%d", snap.Mood, speechCalls.Load())
	}
	if n := len(snap.Transcript); n != 3 {
		t.Fatalf("transcript len=%d, want 3", n)
	}
}

func TestEngineWithoutCredential(t *testing.T) {
	cfg := testConfig("")
	cfg.OpenAI.APIKey = ""
	_, base := startEngine(t, cfg)

	resp, err := http.Post(base+"/api/turn", "application/json", strings.NewReader(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("POST /api/turn: %v", err)
	}
	resp.Body.Close()

	deadline := time.Now().Add(3 * time.Second)
	for {
		snap := getState(t, base)
		if snap.Status == "Error: OPENAI_API_KEY not set" {
			if snap.Mood != "sad" || snap.State != fsm.StateIdle {
				t.Fatalf("snapshot=%+v", snap)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("status=%q", snap.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestEngineListenWithoutCaptureClient(t *testing.T) {
	_, base := startEngine(t, testConfig(""))
	resp, err := http.Post(base+"/api/listen/start", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/listen/start: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("code=%d, want 409", resp.StatusCode)
	}
	if got := getState(t, base).Status; got != turn.StatusUnsupported {
		t.Fatalf("status=%q", got)
	}
}

func TestSelfSignedCert(t *testing.T) {
	cert, err := generateSelfSignedCert("presence.local")
	if err != nil {
		t.Fatalf("generateSelfSignedCert error: %v", err)
	}
	if len(cert.Certificate) == 0 {
		t.Fatal("no certificate")
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("ParseCertificate error: %v", err)
	}
	if err := leaf.VerifyHostname("presence.local"); err != nil {
		t.Fatalf("VerifyHostname(presence.local): %v", err)
	}
	if err := leaf.VerifyHostname("127.0.0.1"); err != nil {
		t.Fatalf("VerifyHostname(127.0.0.1): %v", err)
	}
}

func TestCertSubjects(t *testing.T) {
	tests := []struct {
		host    string
		wantDNS int
		wantIP  string
	}{
		{host: "", wantDNS: 1},
		{host: "0.0.0.0", wantDNS: 1},
		{host: "localhost", wantDNS: 1},
		{host: "presence.local", wantDNS: 2},
		{host: "10.1.2.3", wantDNS: 1, wantIP: "10.1.2.3"},
	}
	for _, tt := range tests {
		dns, ips := certSubjects(tt.host)
		if len(dns) != tt.wantDNS {
			t.Fatalf("host=%q dns=%v, want %d names", tt.host, dns, tt.wantDNS)
		}
		seen := map[string]int{}
		for _, ip := range ips {
			if ip.IsUnspecified() {
				t.Fatalf("host=%q unspecified ip in %v", tt.host, ips)
			}
			seen[ip.String()]++
		}
		for ip, n := range seen {
			if n > 1 {
				t.Fatalf("host=%q duplicate ip %s", tt.host, ip)
			}
		}
		if seen["127.0.0.1"] != 1 || seen["::1"] != 1 {
			t.Fatalf("host=%q ips=%v, want loopbacks", tt.host, ips)
		}
		if tt.wantIP != "" && seen[tt.wantIP] != 1 {
			t.Fatalf("host=%q ips=%v, want %s", tt.host, ips, tt.wantIP)
		}
	}
}
