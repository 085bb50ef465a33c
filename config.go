package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/dotside-studios/nfc-presence-agent/mqtt"
	"github.com/dotside-studios/nfc-presence-agent/nfc"
)

// Config is the agent configuration file.
type Config struct {
	// ClientID names this agent on the MQTT broker. Defaults to one derived
	// from the hostname.
	ClientID string `yaml:"client_id"`

	Server  ServerConfig  `yaml:"server"`
	Polling PollingConfig `yaml:"polling"`
	MQTT    mqtt.Config   `yaml:"mqtt"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds the WebSocket/HTTP server settings.
type ServerConfig struct {
	Port      int    `yaml:"port"`
	APISecret string `yaml:"api_secret"`
	MDNS      bool   `yaml:"mdns"`
}

// PollingConfig selects readers and tunes their poll loops.
type PollingConfig struct {
	// Devices pins the readers to these libnfc connection strings.
	Devices         []string      `yaml:"devices"`
	Autostart       bool          `yaml:"autostart"`
	HotplugInterval time.Duration `yaml:"hotplug_interval"`

	nfc.PollerConfig `yaml:",inline"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

const defaultPort = 18080

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port: defaultPort,
			MDNS: true,
		},
		Polling: PollingConfig{
			Autostart:       true,
			HotplugInterval: nfc.DefaultHotplugScanInterval,
			PollerConfig:    nfc.DefaultPollerConfig(),
		},
		MQTT: mqtt.Config{TopicPrefix: mqtt.DefaultTopicPrefix},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads path over the defaults. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the values a config file can get wrong.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if len(c.Polling.Devices) > nfc.MaxReaderCount {
		errs = append(errs, fmt.Errorf("polling.devices lists %d readers, at most %d are supported", len(c.Polling.Devices), nfc.MaxReaderCount))
	}
	if p := c.Polling.PollPeriod; p < 1 || p > nfc.MaxPollPeriod {
		errs = append(errs, fmt.Errorf("polling.period %d out of range 1..%d", p, nfc.MaxPollPeriod))
	}
	if c.Polling.HotplugInterval < 0 {
		errs = append(errs, errors.New("polling.hotplug_interval must not be negative"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos %d is not 0, 1 or 2", c.MQTT.QoS))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// ApplyLogging configures the standard logrus logger.
func (c LogConfig) ApplyLogging() error {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	if c.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// LifecycleConfig converts the polling section for nfc.NewLifecycle.
func (c PollingConfig) LifecycleConfig() nfc.LifecycleConfig {
	return nfc.LifecycleConfig{
		Devices:   c.Devices,
		Autostart: c.Autostart,
		Poller:    c.PollerConfig,
	}
}
