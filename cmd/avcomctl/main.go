package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/skobkin/avcomgo/internal/app"
	"github.com/skobkin/avcomgo/internal/bus"
	"github.com/skobkin/avcomgo/internal/config"
	"github.com/skobkin/avcomgo/internal/connectors"
	"github.com/skobkin/avcomgo/internal/protocol"
	"github.com/skobkin/avcomgo/internal/session"
	"github.com/skobkin/avcomgo/internal/trace"
)

const (
	startTimeout     = 30 * time.Second
	maxHexPreviewLen = 64
)

type cliFlags struct {
	configPath string
	connector  string
	host       string
	port       int
	serialPort string
	baud       int
	centerMHz  float64
	spanMHz    float64
	rbwMHz     float64
	refDBm     int
	input      int
	lnb        bool
	logLevel   string
	logFormat  string
	metrics    string
	redisAddr  string
	once       bool
	listenFor  time.Duration
	watch      bool
	version    bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("run avcomctl", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	f, set, err := parseFlags(args)
	if err != nil {
		return err
	}
	if f.version {
		fmt.Println(app.CurrentBuild())
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Initialize(ctx, app.Options{
		ConfigPath: f.configPath,
		Override:   func(cfg *config.AppConfig) { applyFlags(cfg, f, set) },
	})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	logger := rt.LogManager.Logger("cli")
	if f.watch {
		watch(rt.Ctx, rt.Bus, logger)
	}

	firstTrace := make(chan struct{})
	var once sync.Once
	rt.Session.AddListener("cli", session.ListenerFuncs{
		Trace: func(t *trace.Trace) {
			logTrace(logger, t)
			once.Do(func() { close(firstTrace) })
		},
		Error: func(e protocol.ErrorResponse) {
			logger.Warn("device error", "text", e.Text)
		},
	})

	logger.Info("connecting", "transport", app.TransportNameFromConnector(rt.Config.Connection.Connector), "target", app.ConnectionTarget(rt.Config.Connection))
	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	err = rt.Start(startCtx)
	cancel()
	if err != nil {
		return err
	}
	if hd, ok := rt.Session.HardwareDescription(); ok {
		logHardware(logger, hd)
	}
	logger.Info("sweeping", "settings", rt.Config.Sweep, "sub_requests", len(rt.Session.Plan()))

	var deadline <-chan time.Time
	if f.listenFor > 0 {
		logger.Info("listen mode", "duration", f.listenFor)
		deadline = time.After(f.listenFor)
	}
	var onceCh <-chan struct{}
	if f.once {
		onceCh = firstTrace
	}

	select {
	case <-ctx.Done():
		logger.Info("interrupted")
	case <-deadline:
		logger.Info("listen duration elapsed")
	case <-onceCh:
		logger.Info("first trace received, exiting")
	}

	stats := rt.Session.Stats()
	logger.Info("session summary",
		"traces", stats.Traces,
		"written", stats.Written,
		"read", stats.Read,
		"errored", stats.Errored,
		"skipped", stats.Skipped,
		"discarded", stats.Discarded,
		"avg_elapsed", stats.AvgElapsed,
		"frame_desyncs", stats.FrameDesyncs,
	)

	return nil
}

func parseFlags(args []string) (cliFlags, map[string]bool, error) {
	var f cliFlags
	fs := flag.NewFlagSet(app.Name, flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "config file (.json, .yaml or .yml); default is the user config dir")
	fs.StringVar(&f.connector, "connector", "", "connector type: serial or ip")
	fs.StringVar(&f.host, "host", "", "ip/hostname of a serial-over-IP bridge")
	fs.IntVar(&f.port, "port", 0, "tcp port of the bridge")
	fs.StringVar(&f.serialPort, "serial", "", "serial port, e.g. /dev/ttyUSB0 or COM3")
	fs.IntVar(&f.baud, "baud", 0, "serial baud rate")
	fs.Float64Var(&f.centerMHz, "center", 0, "sweep center frequency, MHz")
	fs.Float64Var(&f.spanMHz, "span", 0, "sweep span, MHz")
	fs.Float64Var(&f.rbwMHz, "rbw", 0, "resolution bandwidth, MHz (3, 1, 0.3, 0.1, 0.01, 0.003)")
	fs.IntVar(&f.refDBm, "ref", 0, "reference level, dBm (-10 to -50 in steps of 10)")
	fs.IntVar(&f.input, "input", 0, "rf input number, 1-6")
	fs.BoolVar(&f.lnb, "lnb", false, "enable LNB power")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&f.logFormat, "log-format", "", "log format: text or json")
	fs.StringVar(&f.metrics, "metrics", "", "serve prometheus metrics on this address, e.g. :9109")
	fs.StringVar(&f.redisAddr, "redis", "", "publish traces to this redis address")
	fs.BoolVar(&f.once, "once", false, "exit after the first complete trace")
	fs.DurationVar(&f.listenFor, "listen-for", 0, "sweep for this long, e.g. 30s")
	fs.BoolVar(&f.watch, "watch", false, "log raw frames and session events")
	fs.BoolVar(&f.version, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return cliFlags{}, nil, err
	}

	set := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })

	return f, set, nil
}

// applyFlags copies explicitly set flags over the loaded config.
func applyFlags(cfg *config.AppConfig, f cliFlags, set map[string]bool) {
	if set["connector"] {
		cfg.Connection.Connector = config.ConnectorType(strings.ToLower(strings.TrimSpace(f.connector)))
	}
	if set["host"] {
		cfg.Connection.Host = strings.TrimSpace(f.host)
		if !set["connector"] {
			cfg.Connection.Connector = config.ConnectorIP
		}
	}
	if set["port"] {
		cfg.Connection.Port = f.port
	}
	if set["serial"] {
		cfg.Connection.SerialPort = strings.TrimSpace(f.serialPort)
		if !set["connector"] {
			cfg.Connection.Connector = config.ConnectorSerial
		}
	}
	if set["baud"] {
		cfg.Connection.SerialBaud = f.baud
	}
	if set["center"] {
		cfg.Sweep.CenterMHz = f.centerMHz
	}
	if set["span"] {
		cfg.Sweep.SpanMHz = f.spanMHz
	}
	if set["rbw"] {
		cfg.Sweep.RBWMHz = f.rbwMHz
	}
	if set["ref"] {
		cfg.Sweep.ReferenceDBm = f.refDBm
	}
	if set["input"] {
		cfg.Sweep.Input = f.input
	}
	if set["lnb"] {
		cfg.Sweep.LNBPower = f.lnb
	}
	if set["log-level"] {
		cfg.Logging.Level = f.logLevel
	}
	if set["log-format"] {
		cfg.Logging.Format = f.logFormat
	}
	if set["metrics"] {
		cfg.Metrics.Enabled = f.metrics != ""
		cfg.Metrics.Listen = f.metrics
	}
	if set["redis"] {
		cfg.Redis.Enabled = f.redisAddr != ""
		cfg.Redis.Addr = f.redisAddr
	}
}

func logHardware(logger *slog.Logger, hd protocol.HardwareDescriptionResponse) {
	args := make([]any, 0, 2*len(hd.Snapshot()))
	for k, v := range hd.Snapshot() {
		args = append(args, k, v)
	}
	logger.Info("analyzer", args...)
}

func logTrace(logger *slog.Logger, t *trace.Trace) {
	peakMHz, peakDBm := 0.0, 0.0
	for i, p := range t.Points() {
		if i == 0 || p.PowerDBm > peakDBm {
			peakMHz, peakDBm = p.FrequencyMHz, p.PowerDBm
		}
	}
	logger.Info("trace",
		"center_mhz", t.CenterMHz(),
		"span_mhz", t.SpanMHz(),
		"points", t.Len(),
		"peak_mhz", peakMHz,
		"peak_dbm", peakDBm,
		"saturated", t.Saturated,
		"elapsed", t.Elapsed,
	)
}

func watch(ctx context.Context, b bus.MessageBus, logger *slog.Logger) {
	sub := b.Subscribe(
		connectors.TopicSessionState,
		connectors.TopicHardware,
		connectors.TopicDeviceError,
		connectors.TopicTransportErr,
		connectors.TopicRawFrameIn,
		connectors.TopicRawFrameOut,
	)

	go func() {
		for {
			var raw any
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub:
				if !ok {
					return
				}
				raw = msg
			}

			switch ev := raw.(type) {
			case connectors.SessionStatus:
				logger.Info("session", "state", ev.State, "transport", ev.TransportName, "target", ev.Target, "error", ev.Err)
			case connectors.HardwareInfo:
				logger.Info("hardware", "product", ev.Product, "firmware", ev.Firmware, "serial", ev.Serial)
			case connectors.DeviceError:
				logger.Info("device-error", "text", ev.Text)
			case connectors.TransportError:
				logger.Info("transport-error", "op", ev.Op, "error", ev.Err)
			case connectors.RawFrame:
				msg := "raw-in"
				if ev.Outgoing {
					msg = "raw-out"
				}
				logger.Info(msg, "len", ev.Len, "hex", previewHex(ev.Hex))
			}
		}
	}()
}

func previewHex(hex string) string {
	hex = strings.TrimSpace(hex)
	if len(hex) <= maxHexPreviewLen {
		return hex
	}
	return hex[:maxHexPreviewLen] + "..."
}
