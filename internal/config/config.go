package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skobkin/avcomgo/internal/protocol"
)

// ConnectorType identifies which transport backend should be used.
type ConnectorType string

const (
	ConnectorIP     ConnectorType = "ip"
	ConnectorSerial ConnectorType = "serial"

	DefaultSerialBaud = 115200
	DefaultIPPort     = 4001
)

// Duration is a time.Duration written as "250ms" in config files.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("parse duration: %w", err)
	}
	*d = Duration(parsed)

	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level" yaml:"level"`
	Format    string `json:"format" yaml:"format"`
	LogToFile bool   `json:"log_to_file" yaml:"log_to_file"`
}

// ConnectionConfig contains connector-specific connection parameters.
type ConnectionConfig struct {
	Connector  ConnectorType `json:"connector" yaml:"connector"`
	Host       string        `json:"host" yaml:"host"`
	Port       int           `json:"port" yaml:"port"`
	SerialPort string        `json:"serial_port" yaml:"serial_port"`
	SerialBaud int           `json:"serial_baud" yaml:"serial_baud"`
}

// SweepConfig is the sweep applied right after the analyzer is identified.
type SweepConfig struct {
	CenterMHz    float64 `json:"center_mhz" yaml:"center_mhz"`
	SpanMHz      float64 `json:"span_mhz" yaml:"span_mhz"`
	ReferenceDBm int     `json:"reference_dbm" yaml:"reference_dbm"`
	RBWMHz       float64 `json:"rbw_mhz" yaml:"rbw_mhz"`
	Input        int     `json:"input" yaml:"input"`
	LNBPower     bool    `json:"lnb_power" yaml:"lnb_power"`
}

// SessionConfig tunes the scan loop.
type SessionConfig struct {
	SettingsTimeout Duration `json:"settings_timeout" yaml:"settings_timeout"`
	WaveformTimeout Duration `json:"waveform_timeout" yaml:"waveform_timeout"`
	HardwareTimeout Duration `json:"hardware_timeout" yaml:"hardware_timeout"`
	SettleDelay     Duration `json:"settle_delay" yaml:"settle_delay"`
	InitAttempts    int      `json:"init_attempts" yaml:"init_attempts"`
	InitInterval    Duration `json:"init_interval" yaml:"init_interval"`
	MinFirmware     string   `json:"min_firmware" yaml:"min_firmware"`
	ListenerGrace   Duration `json:"listener_grace" yaml:"listener_grace"`
	ListenerQueue   int      `json:"listener_queue" yaml:"listener_queue"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Listen  string `json:"listen" yaml:"listen"`
}

// RedisConfig configures the trace publisher.
type RedisConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Addr       string `json:"addr" yaml:"addr"`
	Password   string `json:"password" yaml:"password"`
	DB         int    `json:"db" yaml:"db"`
	Channel    string `json:"channel" yaml:"channel"`
	HistoryKey string `json:"history_key" yaml:"history_key"`
	HistoryLen int64  `json:"history_len" yaml:"history_len"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Connection ConnectionConfig `json:"connection" yaml:"connection"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Sweep      SweepConfig      `json:"sweep" yaml:"sweep"`
	Session    SessionConfig    `json:"session" yaml:"session"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Redis      RedisConfig      `json:"redis" yaml:"redis"`
}

func Default() AppConfig {
	return AppConfig{
		Connection: ConnectionConfig{
			Connector:  ConnectorSerial,
			Port:       DefaultIPPort,
			SerialBaud: DefaultSerialBaud,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Sweep: SweepConfig{
			CenterMHz:    1250,
			SpanMHz:      2500,
			ReferenceDBm: -30,
			RBWMHz:       1,
			Input:        1,
		},
		Session: SessionConfig{
			WaveformTimeout: Duration(time.Second),
			HardwareTimeout: Duration(time.Second),
			SettleDelay:     Duration(50 * time.Millisecond),
			InitAttempts:    5,
			InitInterval:    Duration(time.Second),
			MinFirmware:     "v2.0.0",
			ListenerGrace:   Duration(500 * time.Millisecond),
			ListenerQueue:   4,
		},
		Metrics: MetricsConfig{
			Listen: ":9109",
		},
		Redis: RedisConfig{
			Addr:       "127.0.0.1:6379",
			Channel:    "avcom.traces",
			HistoryLen: 100,
		},
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// Load reads path as YAML or JSON depending on its extension. A missing
// file yields the defaults.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path comes from the command line or the user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if isYAML(cleanPath) {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("decode config yaml: %w", err)
		}
	} else if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	def := Default()
	if c.Connection.Connector == "" {
		c.Connection.Connector = def.Connection.Connector
	}
	if c.Connection.Port <= 0 {
		c.Connection.Port = DefaultIPPort
	}
	if c.Connection.SerialBaud <= 0 {
		c.Connection.SerialBaud = DefaultSerialBaud
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	if c.Sweep.RBWMHz == 0 {
		c.Sweep.RBWMHz = def.Sweep.RBWMHz
	}
	if c.Sweep.ReferenceDBm == 0 {
		c.Sweep.ReferenceDBm = def.Sweep.ReferenceDBm
	}
	if c.Sweep.Input == 0 {
		c.Sweep.Input = def.Sweep.Input
	}
	if c.Session.WaveformTimeout <= 0 {
		c.Session.WaveformTimeout = def.Session.WaveformTimeout
	}
	if c.Session.HardwareTimeout <= 0 {
		c.Session.HardwareTimeout = def.Session.HardwareTimeout
	}
	if c.Session.InitAttempts <= 0 {
		c.Session.InitAttempts = def.Session.InitAttempts
	}
	if c.Session.ListenerGrace <= 0 {
		c.Session.ListenerGrace = def.Session.ListenerGrace
	}
	if c.Session.ListenerQueue <= 0 {
		c.Session.ListenerQueue = def.Session.ListenerQueue
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = def.Metrics.Listen
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = def.Redis.Channel
	}
}

// SettingsRequest converts the sweep section into a device request.
func (c SweepConfig) SettingsRequest() (protocol.SettingsRequest, error) {
	rl, err := protocol.ReferenceLevelFromDBm(c.ReferenceDBm)
	if err != nil {
		return protocol.SettingsRequest{}, fmt.Errorf("sweep reference level: %w", err)
	}
	rbw, err := protocol.ResolutionBandwidthFromMHz(c.RBWMHz)
	if err != nil {
		return protocol.SettingsRequest{}, fmt.Errorf("sweep rbw: %w", err)
	}
	input, err := protocol.InputConnectorFromNumber(c.Input)
	if err != nil {
		return protocol.SettingsRequest{}, fmt.Errorf("sweep input: %w", err)
	}

	req := protocol.SettingsRequest{
		CenterMHz:      c.CenterMHz,
		SpanMHz:        c.SpanMHz,
		ReferenceLevel: rl,
		RBW:            rbw,
		Input:          input,
		LNBPower:       c.LNBPower,
	}
	if err := req.Validate(); err != nil {
		return protocol.SettingsRequest{}, fmt.Errorf("sweep: %w", err)
	}

	return req, nil
}

func (c AppConfig) Validate() error {
	switch c.Connection.Connector {
	case ConnectorIP:
		if strings.TrimSpace(c.Connection.Host) == "" {
			return errors.New("ip host is required")
		}
		if c.Connection.Port <= 0 || c.Connection.Port > 65535 {
			return fmt.Errorf("ip port out of range: %d", c.Connection.Port)
		}
	case ConnectorSerial:
		if strings.TrimSpace(c.Connection.SerialPort) == "" {
			return errors.New("serial port is required")
		}
		if c.Connection.SerialBaud <= 0 {
			return errors.New("serial baud must be positive")
		}
	default:
		return fmt.Errorf("unknown connector: %s", c.Connection.Connector)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json", "":
	default:
		return fmt.Errorf("unknown log format: %s", c.Logging.Format)
	}

	if _, err := c.Sweep.SettingsRequest(); err != nil {
		return err
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Listen) == "" {
		return errors.New("metrics listen address is required")
	}
	if c.Redis.Enabled {
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return errors.New("redis address is required")
		}
		if strings.TrimSpace(c.Redis.Channel) == "" {
			return errors.New("redis channel is required")
		}
	}

	return nil
}

// Save writes cfg atomically, as YAML or JSON depending on the extension.
func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		raw []byte
		err error
	)
	if isYAML(path) {
		raw, err = yaml.Marshal(cfg)
	} else {
		raw, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
