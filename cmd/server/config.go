package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/MegaGrindStone/jarvis-web/internal/relay"
	"gopkg.in/yaml.v3"
)

type config struct {
	Port           string       `yaml:"port"`
	LogLevel       string       `yaml:"logLevel"`
	LogFormat      string       `yaml:"logFormat"`
	MemoryBankPath string       `yaml:"memoryBankPath"`
	Relay          relayConfig  `yaml:"relay"`
	Client         clientConfig `yaml:"client"`
}

// relayConfig configures the relay endpoint that forwards chats to the upstream gateway.
type relayConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"systemPrompt"`
	APIKey       string `yaml:"apiKey"`
}

// clientConfig configures how sessions reach the relay.
type clientConfig struct {
	RelayURL  string `yaml:"relayURL"`
	PublicKey string `yaml:"publicKey"`
}

const (
	defaultPort      = "8080"
	defaultLogLevel  = "info"
	defaultLogFormat = "text"
	relayPath        = "/functions/v1/jarvis-chat"
)

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port           string       `yaml:"port"`
		LogLevel       string       `yaml:"logLevel"`
		LogFormat      string       `yaml:"logFormat"`
		MemoryBankPath string       `yaml:"memoryBankPath"`
		Relay          relayConfig  `yaml:"relay"`
		Client         clientConfig `yaml:"client"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	switch rawConfig.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format: %s", rawConfig.LogFormat)
	}
	if _, err := parseLevel(rawConfig.LogLevel); err != nil {
		return err
	}

	*c = config(rawConfig)
	c.applyDefaults()

	return nil
}

// loadConfig decodes the YAML file at path. A missing file yields the defaults.
func loadConfig(path string) (config, error) {
	cfg := config{}

	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return config{}, fmt.Errorf("error opening config file: %w", err)
		}
		cfg.applyDefaults()
		return cfg, nil
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

// applyDefaults fills unset fields, first from the environment and then from the built-in defaults.
func (c *config) applyDefaults() {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = defaultLogFormat
	}
	if c.Relay.APIKey == "" {
		c.Relay.APIKey = os.Getenv("LOVABLE_API_KEY")
	}
	if c.Client.RelayURL == "" {
		c.Client.RelayURL = os.Getenv("JARVIS_RELAY_URL")
	}
	if c.Client.PublicKey == "" {
		c.Client.PublicKey = os.Getenv("JARVIS_PUBLIC_KEY")
	}
}

// relayURL is where sessions send their chats. Without an explicit URL they use the relay mounted on
// this server.
func (c config) relayURL() string {
	if c.Client.RelayURL != "" {
		return c.Client.RelayURL
	}
	return "http://localhost:" + c.Port + relayPath
}

func (r relayConfig) relay() relay.Config {
	return relay.Config{
		Endpoint:     r.Endpoint,
		Model:        r.Model,
		SystemPrompt: r.SystemPrompt,
		APIKey:       r.APIKey,
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("unknown log level: %s", s)
	}
	return level, nil
}

func (c config) logger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
