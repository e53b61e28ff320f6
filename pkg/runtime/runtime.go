// Package runtime assembles and runs the presence engine.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saker-ai/presence-engine/internal/capture"
	appconfig "github.com/saker-ai/presence-engine/internal/config"
	"github.com/saker-ai/presence-engine/internal/frame"
	apphttp "github.com/saker-ai/presence-engine/internal/http"
	applogger "github.com/saker-ai/presence-engine/internal/logger"
	"github.com/saker-ai/presence-engine/internal/mood"
	"github.com/saker-ai/presence-engine/internal/observe"
	"github.com/saker-ai/presence-engine/internal/playback"
	"github.com/saker-ai/presence-engine/internal/provider"
	"github.com/saker-ai/presence-engine/internal/provider/openai"
	"github.com/saker-ai/presence-engine/internal/reactivity"
	"github.com/saker-ai/presence-engine/internal/resilience"
	"github.com/saker-ai/presence-engine/internal/turn"
	"github.com/saker-ai/presence-engine/internal/ws"
	"github.com/saker-ai/presence-engine/pkg/audio"
)

// Version is stamped into exported telemetry.
var Version = "dev"

// Engine owns every component of a running presence.
type Engine struct {
	cfg    appconfig.Config
	logger *zap.Logger

	catalog    *mood.Catalog
	animator   *mood.Interpolator
	player     *playback.Manager
	sampler    *reactivity.Sampler
	publisher  *frame.Publisher
	hub        *ws.Hub
	relay      *capture.Relay
	controller *turn.Controller
	metrics    *observe.Metrics
	server     *http.Server

	shutdownMetrics func(context.Context) error
	shutdownOnce    sync.Once
	shutdownErr     error
}

// New loads configuration from configPath (empty for the default lookup)
// and builds an engine.
func New(configPath string) (*Engine, error) {
	cfg, err := appconfig.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load presence config: %w", err)
	}

	logger, err := applogger.New(cfg.Log)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	logger.Info("presence logger configured",
		zap.String("level", cfg.Log.Level),
		zap.Bool("stdout", cfg.Log.Stdout),
		zap.Bool("file_enabled", cfg.Log.File.Enabled),
		zap.String("file_path", cfg.Log.File.Path),
		zap.String("file_name", cfg.Log.File.Name),
	)
	logger.Info("presence config loaded",
		zap.String("config_path", configPath),
		zap.String("root_dir", cfg.RootDir),
		zap.String("http_addr", cfg.HTTPAddr),
	)
	return NewWithConfig(cfg, logger)
}

// NewWithConfig builds an engine from a resolved configuration.
func NewWithConfig(cfg appconfig.Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{cfg: cfg, logger: logger}

	catalog, err := appconfig.LoadMoods(cfg.MoodsFile)
	if err != nil {
		return nil, err
	}
	e.catalog = catalog
	e.animator = mood.NewInterpolator(catalog)

	if err := e.initMetrics(); err != nil {
		return nil, err
	}

	e.hub = ws.NewHub(logger.Named("ws"))
	format := audio.Format{SampleRate: cfg.Playback.SampleRate, Channels: cfg.Playback.Channels}
	opts := []playback.ManagerOption{
		playback.WithLogger(logger.Named("playback")),
		playback.WithGrace(cfg.Playback.Grace),
	}
	voice := playback.NewCommandVoice(cfg.Playback.VoiceCommand, cfg.Playback.VoiceArgs, cfg.Turn.LocalVoiceTimeout)
	if voice.Available() {
		opts = append(opts, playback.WithLocalVoice(voice))
	} else {
		logger.Warn("local voice program not found; speech fallback disabled",
			zap.String("command", cfg.Playback.VoiceCommand))
	}
	e.player = playback.NewManager(e.selectOutput(format), opts...)

	e.sampler = reactivity.New(func() (reactivity.Source, error) {
		if !e.player.Started() {
			return nil, nil
		}
		return e.player, nil
	}, logger.Named("reactivity"))
	e.publisher = frame.NewPublisher(e.animator, e.sampler,
		frame.WithLogger(logger.Named("frame")),
		frame.WithFrameHook(func(frame.Params) { e.metrics.RecordFrame(context.Background()) }),
	)
	e.publisher.AddSink(e.hub)

	client := openai.NewClient(openai.Config{
		APIKey:     cfg.OpenAI.APIKey,
		BaseURL:    cfg.OpenAI.BaseURL,
		Timeout:    cfg.OpenAI.Timeout,
		MaxRetries: cfg.OpenAI.MaxRetries,
	})
	if cfg.OpenAI.APIKey == "" {
		logger.Warn("OPENAI_API_KEY not set; turns will report a configuration error")
	}

	var transcriber provider.Transcriber
	if cfg.Capture.Mode == capture.ModeWhisper {
		transcriber = openai.NewTranscriber(client, cfg.OpenAI.TranscribeModel, cfg.OpenAI.Language)
	}
	e.relay = capture.NewRelay(capture.Config{
		Mode:              cfg.Capture.Mode,
		MaxRecording:      cfg.Capture.MaxRecording,
		TranscribeTimeout: cfg.Capture.TranscribeTimeout,
	}, e.hub, transcriber, logger.Named("capture"))

	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name:         "speech",
		MaxFailures:  cfg.Resilience.SpeechMaxFailures,
		ResetTimeout: cfg.Resilience.SpeechResetTimeout,
		HalfOpenMax:  cfg.Resilience.SpeechHalfOpenMax,
		Ignore:       func(err error) bool { return errors.Is(err, context.Canceled) },
	}, logger.Named("breaker"))

	e.controller = turn.New(turn.Config{
		SystemPrompt:      cfg.Turn.SystemPrompt,
		Model:             cfg.OpenAI.ChatModel,
		MaxTokens:         cfg.OpenAI.MaxTokens,
		Voice:             cfg.OpenAI.Voice,
		MaxHistory:        cfg.Turn.MaxHistory,
		ChatTimeout:       cfg.Turn.ChatTimeout,
		SpeechTimeout:     cfg.Turn.SpeechTimeout,
		LocalVoiceTimeout: cfg.Turn.LocalVoiceTimeout,
	}, turn.Deps{
		Chat:     openai.NewChat(client, cfg.OpenAI.ChatModel, cfg.OpenAI.MaxTokens),
		Speech:   openai.NewSpeech(client, cfg.OpenAI.SpeechModel, cfg.OpenAI.Voice, cfg.OpenAI.SpeechSpeed),
		Player:   e.player,
		Animator: e.animator,
		Capture:  e.relay,
		Breaker:  breaker,
		Metrics:  e.metrics,
		Logger:   logger.Named("turn"),
	})
	e.controller.SetCallbacks(e.hub.Callbacks())
	e.relay.SetSink(e.controller)
	e.hub.Bind(e.controller, e.relay)

	routerOpts := apphttp.Options{
		Conversation: e.controller,
		Catalog:      catalog,
		LastFrame:    e.publisher.Last,
		WebSocket:    e.hub.Handle,
		Metrics:      e.metrics,
		FrontendDir:  cfg.FrontendDir,
		Logger:       logger.Named("http"),
	}
	if cfg.Metrics.Enabled {
		routerOpts.MetricsHandler = promhttp.Handler()
	}
	e.server = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           apphttp.NewRouter(routerOpts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("presence engine assembled",
		zap.String("output", e.player.OutputName()),
		zap.String("capture_mode", e.relay.Mode()),
		zap.String("opus_backend", audio.Backend()),
		zap.Int("fps", cfg.Frame.FPS),
	)
	return e, nil
}

func (e *Engine) initMetrics() error {
	if !e.cfg.Metrics.Enabled {
		e.metrics = observe.Nop()
		return nil
	}
	mp, shutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    e.cfg.Metrics.ServiceName,
		ServiceVersion: Version,
	})
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		_ = shutdown(context.Background())
		return fmt.Errorf("init metrics: %w", err)
	}
	e.metrics = metrics
	e.shutdownMetrics = shutdown
	return nil
}

func (e *Engine) selectOutput(format audio.Format) playback.Output {
	switch e.cfg.Playback.Output {
	case appconfig.OutputDevice:
		out, err := playback.NewDeviceOutput(format)
		if err == nil {
			return out
		}
		e.logger.Warn("audio device unavailable; using silent output", zap.Error(err))
	case appconfig.OutputBrowser:
		return ws.NewBrowserOutput(e.hub, format, e.cfg.Playback.Encoding, e.cfg.Playback.FrameMs, e.logger.Named("browser-audio"))
	}
	return playback.NewNullOutput(format)
}

// Addr is the configured listen address.
func (e *Engine) Addr() string { return e.cfg.HTTPAddr }

// Logger returns the engine logger.
func (e *Engine) Logger() *zap.Logger { return e.logger }

// Run serves HTTP and drives the frame loop until ctx is cancelled or one
// of them fails.
func (e *Engine) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", e.cfg.HTTPAddr, err)
	}
	return e.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (e *Engine) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreServerClosed(serve(e.server, ln, e.cfg, e.logger))
	})
	g.Go(func() error {
		return e.publisher.Run(gctx, e.cfg.Frame.FPS)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown stops the turn in flight, closes client sessions, the HTTP
// server and the metrics provider. Later calls return the first result.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.shutdownOnce.Do(func() { e.shutdownErr = e.shutdown(ctx) })
	return e.shutdownErr
}

func (e *Engine) shutdown(ctx context.Context) error {
	e.controller.Close()
	e.relay.Stop()
	e.player.StopCurrent()
	e.hub.Close()
	var errs []error
	if err := ignoreServerClosed(e.server.Shutdown(ctx)); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if e.shutdownMetrics != nil {
		if err := e.shutdownMetrics(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
		}
	}
	_ = e.logger.Sync()
	return errors.Join(errs...)
}

func ignoreServerClosed(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
