// Package config loads daemon configuration from defaults, an optional
// YAML file and command-line flags, in that order of precedence.
package config

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/iot-module/internal/gpio"
)

// Config is the daemon configuration.
type Config struct {
	Hostname string `yaml:"hostname"`

	HTTPAddr     string        `yaml:"http_addr"`
	QueueTimeout time.Duration `yaml:"queue_timeout"`
	MetricsAddr  string        `yaml:"metrics_addr"`

	UploadAddr     string `yaml:"upload_addr"`
	UploadMD5      string `yaml:"upload_password_md5"`
	FirmwarePath   string `yaml:"firmware_path"`
	FilesystemPath string `yaml:"filesystem_path"`

	Broker      string        `yaml:"broker"`
	TopicPrefix string        `yaml:"topic_prefix"`
	Heartbeat   time.Duration `yaml:"heartbeat"`

	GPIOChip     string        `yaml:"gpio_chip"`
	Pin          int           `yaml:"pin"`
	ActiveLow    bool          `yaml:"active_low"`
	Poll         time.Duration `yaml:"poll"`
	MotionHoldMs int           `yaml:"motion_hold_ms"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr:       ":80",
		QueueTimeout:   5 * time.Second,
		UploadAddr:     ":8266",
		FirmwarePath:   "/var/lib/iot-module/firmware.bin",
		FilesystemPath: "/var/lib/iot-module/filesystem.img",
		Heartbeat:      15 * time.Minute,
		GPIOChip:       gpio.DefaultChip,
		Pin:            gpio.DefaultPin,
		Poll:           100 * time.Millisecond,
		MotionHoldMs:   1000,
	}
}

// GPIO returns the input line configuration.
func (c Config) GPIO() gpio.Config {
	return gpio.Config{Chip: c.GPIOChip, Pin: c.Pin, ActiveLow: c.ActiveLow}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Poll <= 0 {
		return errors.New("poll must be positive")
	}
	if c.Heartbeat < 0 {
		return errors.New("heartbeat must not be negative")
	}
	if c.MotionHoldMs < 0 {
		return errors.New("motion_hold_ms must not be negative")
	}
	if c.UploadMD5 != "" {
		if b, err := hex.DecodeString(c.UploadMD5); err != nil || len(b) != 16 {
			return fmt.Errorf("upload_password_md5 %q is not an MD5 hex digest", c.UploadMD5)
		}
	}
	if c.Pin < 0 {
		return errors.New("pin must not be negative")
	}
	return nil
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Options are command-line switches that are not configuration.
type Options struct {
	ConfigPath string
	PrintState bool
}

// Parse builds the configuration from args (without the program name).
// Flags given explicitly override values from the -config file.
func Parse(args []string, output io.Writer) (Config, Options, error) {
	cfg := Default()
	var opts Options

	fs := flag.NewFlagSet("iot-module", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.ConfigPath, "config", "", "YAML configuration file")
	fs.BoolVar(&opts.PrintState, "print-state", false, "Print current input state and exit")
	bind(fs, &cfg)

	if err := fs.Parse(args); err != nil {
		return Config{}, Options{}, err
	}

	if opts.ConfigPath != "" {
		fileCfg := Default()
		if err := LoadFile(opts.ConfigPath, &fileCfg); err != nil {
			return Config{}, Options{}, err
		}
		// Re-apply only the flags the user actually set
		explicit := flag.NewFlagSet("explicit", flag.ContinueOnError)
		explicit.SetOutput(io.Discard)
		bind(explicit, &fileCfg)
		var replay []string
		fs.Visit(func(f *flag.Flag) {
			if explicit.Lookup(f.Name) != nil {
				replay = append(replay, "-"+f.Name+"="+f.Value.String())
			}
		})
		if err := explicit.Parse(replay); err != nil {
			return Config{}, Options{}, err
		}
		cfg = fileCfg
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, Options{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, opts, nil
}

func bind(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.Hostname, "hostname", cfg.Hostname, "Module host name (default: OS host name)")
	fs.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "HTTP address")
	fs.DurationVar(&cfg.QueueTimeout, "queue-timeout", cfg.QueueTimeout, "How long a request waits for the loop")
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address (empty to disable)")
	fs.StringVar(&cfg.UploadAddr, "upload", cfg.UploadAddr, "Firmware upload address (empty to disable)")
	fs.StringVar(&cfg.UploadMD5, "upload-password-md5", cfg.UploadMD5, "MD5 hex digest of the upload secret (empty: no authentication)")
	fs.StringVar(&cfg.FirmwarePath, "firmware-path", cfg.FirmwarePath, "Where uploaded flash images are written")
	fs.StringVar(&cfg.FilesystemPath, "filesystem-path", cfg.FilesystemPath, "Where uploaded filesystem images are written")
	fs.StringVar(&cfg.Broker, "broker", cfg.Broker, "MQTT broker address (empty to disable)")
	fs.StringVar(&cfg.TopicPrefix, "topic-prefix", cfg.TopicPrefix, "MQTT topic prefix (default: iot/<hostname>)")
	fs.DurationVar(&cfg.Heartbeat, "heartbeat", cfg.Heartbeat, "Heartbeat interval (0 to disable)")
	fs.StringVar(&cfg.GPIOChip, "gpio-chip", cfg.GPIOChip, "GPIO chip")
	fs.IntVar(&cfg.Pin, "pin", cfg.Pin, "Line offset of the motion sensor")
	fs.BoolVar(&cfg.ActiveLow, "active-low", cfg.ActiveLow, "Sensor line is active low")
	fs.DurationVar(&cfg.Poll, "poll", cfg.Poll, "Loop period")
	fs.IntVar(&cfg.MotionHoldMs, "motion-hold-ms", cfg.MotionHoldMs, "Initial debounce hold for the motion sensor")
}
