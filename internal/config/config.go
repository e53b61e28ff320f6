package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	appdefaults "github.com/saker-ai/presence-engine/config"
	"github.com/saker-ai/presence-engine/internal/logger"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "presence"

// OpenAIConfig configures the remote chat, speech and transcription endpoints.
type OpenAIConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	ChatModel       string        `mapstructure:"chat_model"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	SpeechModel     string        `mapstructure:"speech_model"`
	Voice           string        `mapstructure:"voice"`
	SpeechSpeed     float64       `mapstructure:"speech_speed"`
	TranscribeModel string        `mapstructure:"transcribe_model"`
	Language        string        `mapstructure:"language"`
}

// TurnConfig tunes the conversation controller.
type TurnConfig struct {
	SystemPrompt      string        `mapstructure:"system_prompt"`
	MaxHistory        int           `mapstructure:"max_history"`
	ChatTimeout       time.Duration `mapstructure:"chat_timeout"`
	SpeechTimeout     time.Duration `mapstructure:"speech_timeout"`
	LocalVoiceTimeout time.Duration `mapstructure:"local_voice_timeout"`
}

// FrameConfig tunes the frame loop.
type FrameConfig struct {
	FPS int `mapstructure:"fps"`
}

// Playback outputs.
const (
	OutputDevice  = "device"
	OutputBrowser = "browser"
	OutputNull    = "null"
)

// PlaybackConfig selects and tunes the audio output.
type PlaybackConfig struct {
	Output       string        `mapstructure:"output"`
	SampleRate   int           `mapstructure:"sample_rate"`
	Channels     int           `mapstructure:"channels"`
	Grace        time.Duration `mapstructure:"grace"`
	Encoding     string        `mapstructure:"encoding"`
	FrameMs      int           `mapstructure:"frame_ms"`
	VoiceCommand string        `mapstructure:"voice_command"`
	VoiceArgs    []string      `mapstructure:"voice_args"`
}

// CaptureConfig tunes speech capture.
type CaptureConfig struct {
	Mode              string        `mapstructure:"mode"`
	MaxRecording      time.Duration `mapstructure:"max_recording"`
	TranscribeTimeout time.Duration `mapstructure:"transcribe_timeout"`
}

// ResilienceConfig tunes the speech circuit breaker.
type ResilienceConfig struct {
	SpeechMaxFailures  int           `mapstructure:"speech_max_failures"`
	SpeechResetTimeout time.Duration `mapstructure:"speech_reset_timeout"`
	SpeechHalfOpenMax  int           `mapstructure:"speech_half_open_max"`
}

// MetricsConfig toggles the Prometheus exporter.
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Config is the resolved engine configuration.
type Config struct {
	RootDir     string           `mapstructure:"-"`
	Host        string           `mapstructure:"host"`
	Port        int              `mapstructure:"port"`
	HTTPAddr    string           `mapstructure:"http_addr"`
	FrontendDir string           `mapstructure:"frontend_dir"`
	MoodsFile   string           `mapstructure:"moods_file"`
	TLSCertPath string           `mapstructure:"tls_cert_path"`
	TLSKeyPath  string           `mapstructure:"tls_key_path"`
	TLSRequired bool             `mapstructure:"tls_required"`
	TLSDisable  bool             `mapstructure:"tls_disable"`
	OpenAI      OpenAIConfig     `mapstructure:"openai"`
	Turn        TurnConfig       `mapstructure:"turn"`
	Frame       FrameConfig      `mapstructure:"frame"`
	Playback    PlaybackConfig   `mapstructure:"playback"`
	Capture     CaptureConfig    `mapstructure:"capture"`
	Resilience  ResilienceConfig `mapstructure:"resilience"`
	Metrics     MetricsConfig    `mapstructure:"metrics"`
	Log         logger.Config    `mapstructure:"log"`
}

// Load reads the embedded defaults, conf.yaml from the root directory when
// present, .env, and PRESENCE_* environment overrides.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}

	v, err := newViper(rootDir)
	if err != nil {
		return Config{}, err
	}
	v.SetConfigName("conf")
	v.SetConfigType("yaml")
	v.AddConfigPath(rootDir)
	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
	}
	return decode(v, rootDir)
}

// LoadConfig loads an explicit config file. An empty path falls back to Load.
func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}

	rootDir := strings.TrimSpace(os.Getenv("PRESENCE_ROOT_DIR"))
	if rootDir == "" {
		rootDir = filepath.Dir(absPath)
		if filepath.Base(rootDir) == "config" {
			rootDir = filepath.Dir(rootDir)
		}
	}

	v, err := newViper(rootDir)
	if err != nil {
		return Config{}, err
	}
	v.SetConfigFile(absPath)
	if err := v.MergeInConfig(); err != nil {
		return Config{}, fmt.Errorf("load %s: %w", absPath, err)
	}
	return decode(v, rootDir)
}

func newViper(rootDir string) (*viper.Viper, error) {
	if err := loadDotEnv(rootDir); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(appdefaults.Default)); err != nil {
		return nil, fmt.Errorf("load embedded config: %w", err)
	}
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("openai.api_key", "PRESENCE_OPENAI_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("openai.base_url", "PRESENCE_OPENAI_BASE_URL", "OPENAI_BASE_URL"); err != nil {
		return nil, err
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", "")
	v.SetDefault("port", 8101)
	v.SetDefault("tls_required", false)
	v.SetDefault("tls_disable", true)
	v.SetDefault("tls_cert_path", "")
	v.SetDefault("tls_key_path", "")
	v.SetDefault("openai.timeout", 60*time.Second)
	v.SetDefault("openai.max_retries", 2)
	v.SetDefault("openai.chat_model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 200)
	v.SetDefault("openai.speech_model", "tts-1")
	v.SetDefault("openai.voice", "nova")
	v.SetDefault("openai.speech_speed", 1.0)
	v.SetDefault("openai.transcribe_model", "whisper-1")
	v.SetDefault("turn.max_history", 40)
	v.SetDefault("turn.chat_timeout", 30*time.Second)
	v.SetDefault("turn.speech_timeout", 20*time.Second)
	v.SetDefault("turn.local_voice_timeout", 15*time.Second)
	v.SetDefault("frame.fps", 60)
	v.SetDefault("playback.output", OutputBrowser)
	v.SetDefault("playback.sample_rate", 24000)
	v.SetDefault("playback.channels", 1)
	v.SetDefault("playback.grace", 5*time.Second)
	v.SetDefault("playback.encoding", "opus")
	v.SetDefault("playback.frame_ms", 20)
	v.SetDefault("playback.voice_command", "espeak-ng")
	v.SetDefault("capture.mode", "browser")
	v.SetDefault("capture.max_recording", 60*time.Second)
	v.SetDefault("capture.transcribe_timeout", 30*time.Second)
	v.SetDefault("resilience.speech_max_failures", 5)
	v.SetDefault("resilience.speech_reset_timeout", 30*time.Second)
	v.SetDefault("resilience.speech_half_open_max", 3)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.service_name", "presence-engine")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.stdout", true)
	v.SetDefault("log.file.enabled", true)
	v.SetDefault("log.file.path", "./data/logs")
	v.SetDefault("log.file.name", "presence.log")
	v.SetDefault("log.file.max_size_mb", 100)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.compress", true)
}

func decode(v *viper.Viper, rootDir string) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.RootDir = rootDir
	deriveHTTPAddr(&cfg)
	derivePaths(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	switch c.Playback.Output {
	case OutputDevice, OutputBrowser, OutputNull:
	default:
		return fmt.Errorf("playback.output: unknown output %q", c.Playback.Output)
	}
	switch c.Capture.Mode {
	case "browser", "whisper":
	default:
		return fmt.Errorf("capture.mode: unknown mode %q", c.Capture.Mode)
	}
	if c.Playback.SampleRate <= 0 || c.Playback.Channels <= 0 {
		return fmt.Errorf("playback: invalid format %d Hz x %d", c.Playback.SampleRate, c.Playback.Channels)
	}
	if c.Frame.FPS <= 0 || c.Frame.FPS > 240 {
		return fmt.Errorf("frame.fps: %d out of range", c.Frame.FPS)
	}
	return nil
}

func loadDotEnv(rootDir string) error {
	err := godotenv.Load(filepath.Join(rootDir, ".env"))
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load .env: %w", err)
}

func deriveHTTPAddr(cfg *Config) {
	if cfg.HTTPAddr != "" {
		return
	}
	port := cfg.Port
	if port == 0 {
		port = 8101
	}
	if cfg.Host == "" {
		cfg.HTTPAddr = fmt.Sprintf(":%d", port)
		return
	}
	cfg.HTTPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
}

func resolveRootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv("PRESENCE_ROOT_DIR")); root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, "conf.yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return wd, nil
}

func derivePaths(cfg *Config) {
	if cfg.FrontendDir != "" {
		cfg.FrontendDir = resolvePath(cfg.RootDir, cfg.FrontendDir, "")
	}
	if cfg.MoodsFile != "" {
		cfg.MoodsFile = resolvePath(cfg.RootDir, cfg.MoodsFile, "")
	}
	if cfg.Log.File.Path != "" {
		cfg.Log.File.Path = resolvePath(cfg.RootDir, cfg.Log.File.Path, "")
	}
	cfg.TLSCertPath = resolvePath(cfg.RootDir, cfg.TLSCertPath, filepath.Join("certs", "server.crt"))
	cfg.TLSKeyPath = resolvePath(cfg.RootDir, cfg.TLSKeyPath, filepath.Join("certs", "server.key"))
}

func resolvePath(rootDir string, configured string, fallback string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
