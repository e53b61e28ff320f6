package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/saker-ai/presence-engine/internal/mood"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
}

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PRESENCE_ROOT_DIR", dir)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("PRESENCE_OPENAI_API_KEY", "")
	return dir
}

func TestLoadDefaults(t *testing.T) {
	dir := isolate(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.RootDir != dir {
		t.Fatalf("RootDir=%q, want %q", cfg.RootDir, dir)
	}
	if cfg.HTTPAddr != ":8101" {
		t.Fatalf("HTTPAddr=%q, want :8101", cfg.HTTPAddr)
	}
	if cfg.OpenAI.ChatModel != "gpt-4o-mini" || cfg.OpenAI.MaxTokens != 200 {
		t.Fatalf("openai=%+v", cfg.OpenAI)
	}
	if cfg.OpenAI.SpeechModel != "tts-1" || cfg.OpenAI.Voice != "nova" {
		t.Fatalf("openai=%+v", cfg.OpenAI)
	}
	if cfg.Turn.ChatTimeout != 30*time.Second || cfg.Turn.MaxHistory != 40 {
		t.Fatalf("turn=%+v", cfg.Turn)
	}
	if cfg.Frame.FPS != 60 || cfg.Playback.Output != OutputBrowser {
		t.Fatalf("frame=%+v playback=%+v", cfg.Frame, cfg.Playback)
	}
	if len(cfg.Playback.VoiceArgs) != 3 || cfg.Playback.VoiceArgs[0] != "--stdout" {
		t.Fatalf("voice args=%v", cfg.Playback.VoiceArgs)
	}
	if !cfg.TLSDisable {
		t.Fatal("TLSDisable=false, want true")
	}
	if cfg.Log.File.Name != "presence.log" {
		t.Fatalf("log file=%q", cfg.Log.File.Name)
	}
}

func TestLoadMergesRootConf(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "conf.yaml"), "port: 9000\nframe:\n  fps: 30\nplayback:\n  output: \"null\"\n")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.HTTPAddr != ":9000" || cfg.Frame.FPS != 30 || cfg.Playback.Output != OutputNull {
		t.Fatalf("addr=%q fps=%d output=%q", cfg.HTTPAddr, cfg.Frame.FPS, cfg.Playback.Output)
	}
	if cfg.OpenAI.Voice != "nova" {
		t.Fatalf("voice=%q, want default", cfg.OpenAI.Voice)
	}
}

func TestEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("PRESENCE_TURN_CHAT_TIMEOUT", "5s")
	t.Setenv("PRESENCE_CAPTURE_MODE", "whisper")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-test" {
		t.Fatalf("APIKey=%q, want sk-test", cfg.OpenAI.APIKey)
	}
	if cfg.Turn.ChatTimeout != 5*time.Second {
		t.Fatalf("ChatTimeout=%v, want 5s", cfg.Turn.ChatTimeout)
	}
	if cfg.Capture.Mode != "whisper" {
		t.Fatalf("capture mode=%q", cfg.Capture.Mode)
	}
}

func TestDotEnvLoaded(t *testing.T) {
	dir := isolate(t)
	os.Unsetenv("OPENAI_API_KEY")
	t.Cleanup(func() { os.Unsetenv("OPENAI_API_KEY") })
	writeFile(t, filepath.Join(dir, ".env"), "OPENAI_API_KEY=sk-from-dotenv\n")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-from-dotenv" {
		t.Fatalf("APIKey=%q, want sk-from-dotenv", cfg.OpenAI.APIKey)
	}
}

func TestLoadConfigExplicitPath(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	writeFile(t, path, "http_addr: 127.0.0.1:7000\nmoods_file: moods.yaml\n")
	t.Setenv("PRESENCE_ROOT_DIR", "")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:7000" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.MoodsFile != filepath.Join(dir, "moods.yaml") {
		t.Fatalf("MoodsFile=%q", cfg.MoodsFile)
	}
	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("missing file: err=nil")
	}
}

func TestValidateRejectsUnknownOutput(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "conf.yaml"), "playback:\n  output: speakers\n")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "playback.output") {
		t.Fatalf("err=%v, want playback.output error", err)
	}
}

func TestLoadMoodsPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "moods.yaml")
	writeFile(t, path, "moods:\n  happy:\n    glow: 0.4\n    color1: [0.1, 0.2, 0.3]\n")
	c, err := LoadMoods(path)
	if err != nil {
		t.Fatalf("LoadMoods error: %v", err)
	}
	got := c.ProfileFor("happy")
	def := mood.Default().ProfileFor("happy")
	if got.Glow != 0.4 || got.Color1 != (mood.Color{0.1, 0.2, 0.3}) {
		t.Fatalf("happy=%+v", got)
	}
	if got.Speed != def.Speed || got.Color2 != def.Color2 {
		t.Fatalf("unset fields changed: %+v", got)
	}
}

func TestLoadMoodsRejectsUnknownAndInvalid(t *testing.T) {
	dir := t.TempDir()
	unknown := filepath.Join(dir, "unknown.yaml")
	writeFile(t, unknown, "moods:\n  bored:\n    glow: 0.1\n")
	if _, err := LoadMoods(unknown); err == nil {
		t.Fatal("unknown mood: err=nil")
	}
	invalid := filepath.Join(dir, "invalid.yaml")
	writeFile(t, invalid, "moods:\n  sad:\n    color1: [2, 0, 0]\n")
	if _, err := LoadMoods(invalid); err == nil {
		t.Fatal("out of range color: err=nil")
	}
}

func TestMarshalMoodsRoundTrip(t *testing.T) {
	data, err := MarshalMoods(mood.Default())
	if err != nil {
		t.Fatalf("MarshalMoods error: %v", err)
	}
	if !strings.HasPrefix(string(data), "moods:\n    neutral:") {
		t.Fatalf("output=%s", data)
	}
	path := filepath.Join(t.TempDir(), "moods.yaml")
	writeFile(t, path, string(data))
	c, err := LoadMoods(path)
	if err != nil {
		t.Fatalf("LoadMoods error: %v", err)
	}
	for _, id := range mood.IDs {
		if c.ProfileFor(string(id)) != mood.Default().ProfileFor(string(id)) {
			t.Fatalf("%s changed after round trip", id)
		}
	}
}
