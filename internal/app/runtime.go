package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/skobkin/avcomgo/internal/bus"
	"github.com/skobkin/avcomgo/internal/config"
	"github.com/skobkin/avcomgo/internal/connectors"
	"github.com/skobkin/avcomgo/internal/logging"
	"github.com/skobkin/avcomgo/internal/metrics"
	"github.com/skobkin/avcomgo/internal/session"
	"github.com/skobkin/avcomgo/internal/sink"
	"github.com/skobkin/avcomgo/internal/transport"
)

// Options adjust Initialize. Override runs after the config file is loaded
// and before it is validated.
type Options struct {
	ConfigPath string
	Override   func(*config.AppConfig)
}

type Runtime struct {
	Ctx    context.Context
	cancel context.CancelFunc

	Paths  Paths
	Config config.AppConfig

	LogManager *logging.Manager
	Bus        *bus.PubSubBus
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Transport  transport.Transport
	Session    *session.Controller
	Sink       *sink.RedisPublisher

	logger        *slog.Logger
	metricsServer *http.Server

	statusMu    sync.RWMutex
	status      connectors.SessionStatus
	statusKnown bool
}

func Initialize(parent context.Context, opts Options) (*Runtime, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return nil, err
	}
	paths = paths.WithConfigFile(opts.ConfigPath)

	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, err
	}
	if opts.Override != nil {
		opts.Override(&cfg)
	}
	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:    ctx,
		cancel: cancel,
		Paths:  paths,
		Config: cfg,
		status: SessionStatusFromConfig(cfg.Connection),
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = logMgr.Close()
		cancel()
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	rt.logger = logMgr.Logger("runtime")
	rt.logger.Info("starting avcomctl runtime", "build", CurrentBuild(), "config", paths.ConfigFile)

	b := bus.New(logMgr.Logger("bus"))
	rt.Bus = b
	statusSub := b.Subscribe(connectors.TopicSessionState)
	go rt.captureStatus(ctx, statusSub)

	rt.Registry = prometheus.NewRegistry()
	rt.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(rt.Registry)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Metrics = m

	tr, err := NewTransportForConnection(cfg.Connection)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("initialize transport: %w", err)
	}
	rt.Transport = tr
	rt.Session = session.New(logMgr.Logger("session"), b, tr, m, SessionOptions(cfg.Session))

	return rt, nil
}

// SessionOptions maps the session config section onto controller options.
func SessionOptions(cfg config.SessionConfig) session.Options {
	return session.Options{
		Timeouts: session.Timeouts{
			Settings:            cfg.SettingsTimeout.Std(),
			Waveform:            cfg.WaveformTimeout.Std(),
			HardwareDescription: cfg.HardwareTimeout.Std(),
		},
		SettleDelay:   cfg.SettleDelay.Std(),
		InitAttempts:  cfg.InitAttempts,
		InitInterval:  cfg.InitInterval.Std(),
		MinFirmware:   cfg.MinFirmware,
		ListenerGrace: cfg.ListenerGrace.Std(),
		ListenerQueue: cfg.ListenerQueue,
	}
}

// Start connects, identifies the analyzer, applies the configured sweep
// and begins scanning.
func (r *Runtime) Start(ctx context.Context) error {
	if r.Config.Metrics.Enabled {
		r.startMetricsServer()
	}

	if err := r.Transport.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", ConnectionTarget(r.Config.Connection), err)
	}

	hd, err := r.Session.Initialize(ctx)
	if err != nil {
		return err
	}

	if r.Config.Redis.Enabled {
		rc := r.Config.Redis
		pub, err := sink.NewRedisPublisher(ctx, sink.RedisOptions{
			Addr:       rc.Addr,
			Password:   rc.Password,
			DB:         rc.DB,
			Channel:    rc.Channel,
			HistoryKey: rc.HistoryKey,
			HistoryLen: rc.HistoryLen,
		}, hd.SerialNumber, r.LogManager.Logger("sink"))
		if err != nil {
			return err
		}
		r.Sink = pub
		r.Session.AddListener("redis", pub)
	}

	req, err := r.Config.Sweep.SettingsRequest()
	if err != nil {
		return err
	}
	if err := r.Session.SetSettings(req); err != nil {
		return err
	}

	return r.Session.Start()
}

func (r *Runtime) startMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(r.Registry))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		status, _ := r.CurrentStatus()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(status.State))
	})

	r.metricsServer = &http.Server{
		Addr:              r.Config.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger := r.LogManager.Logger("metrics")
	logger.Info("metrics server listening", "addr", r.Config.Metrics.Listen)
	go func() {
		if err := r.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
}

func (r *Runtime) captureStatus(ctx context.Context, sub bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub:
			if !ok {
				return
			}
			status, ok := raw.(connectors.SessionStatus)
			if !ok {
				continue
			}
			r.setStatus(status)
		}
	}
}

func (r *Runtime) setStatus(status connectors.SessionStatus) {
	r.statusMu.Lock()
	r.status = status
	r.statusKnown = true
	r.statusMu.Unlock()
}

// CurrentStatus returns the last session status seen on the bus. The bool is
// false while only the config-derived placeholder is known.
func (r *Runtime) CurrentStatus() (connectors.SessionStatus, bool) {
	r.statusMu.RLock()
	defer r.statusMu.RUnlock()

	return r.status, r.statusKnown
}

// Close tears everything down in dependency order. The bus goes last among
// the session collaborators because the scan loop publishes to it.
func (r *Runtime) Close() error {
	if r.Session != nil {
		_ = r.Session.Close()
	}
	if r.Transport != nil {
		_ = r.Transport.Close()
	}
	if r.Sink != nil {
		_ = r.Sink.Close()
	}
	if r.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = r.metricsServer.Shutdown(shutdownCtx)
		cancel()
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.LogManager != nil {
		_ = r.LogManager.Close()
	}

	return nil
}
