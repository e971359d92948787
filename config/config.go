package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// DefaultFile is read when present and no explicit config path is given.
const DefaultFile = "jarvis.yaml"

type Config struct {
	Port         string        `yaml:"port"`
	Baud         int           `yaml:"baud"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	SettleDelay  time.Duration `yaml:"settle_delay"`
	PollInterval time.Duration `yaml:"poll_interval"`
	StartupDelay time.Duration `yaml:"startup_delay"`
	LogLevel     string        `yaml:"log_level"`

	Voice  Voice  `yaml:"voice"`
	Speech Speech `yaml:"speech"`
	Delays Delays `yaml:"delays"`
}

type Voice struct {
	Enabled            bool          `yaml:"enabled"`
	Model              string        `yaml:"model"`
	Language           string        `yaml:"language"`
	WakeWord           string        `yaml:"wake_word"`
	WakeTimeout        time.Duration `yaml:"wake_timeout"`
	WakePhraseLimit    time.Duration `yaml:"wake_phrase_limit"`
	CommandTimeout     time.Duration `yaml:"command_timeout"`
	CommandPhraseLimit time.Duration `yaml:"command_phrase_limit"`
	RecordDir          string        `yaml:"record_dir"`
}

type Speech struct {
	Enabled bool   `yaml:"enabled"`
	Command string `yaml:"command"`
	Voice   string `yaml:"voice"`
	Rate    int    `yaml:"rate"`
}

// Delays are the settle pauses of the scripted interactions.
type Delays struct {
	Clock       time.Duration `yaml:"clock"`
	LightsOn    time.Duration `yaml:"lights_on"`
	StatusQuery time.Duration `yaml:"status_query"`
	Status      time.Duration `yaml:"status"`
	Emotion     time.Duration `yaml:"emotion"`
	Scan        time.Duration `yaml:"scan"`
	VoiceIdle   time.Duration `yaml:"voice_idle"`
	TestStep    time.Duration `yaml:"test_step"`
	TestLED     time.Duration `yaml:"test_led"`
}

// DefaultPort returns the usual USB-serial device name for the platform.
func DefaultPort() string {
	switch runtime.GOOS {
	case "darwin":
		return "/dev/cu.usbserial-0001"
	case "windows":
		return "COM3"
	default:
		return "/dev/ttyUSB0"
	}
}

func Default() *Config {
	return &Config{
		Port:         DefaultPort(),
		Baud:         115200,
		ReadTimeout:  time.Second,
		SettleDelay:  2 * time.Second,
		PollInterval: 100 * time.Millisecond,
		StartupDelay: time.Second,
		LogLevel:     "info",
		Voice: Voice{
			Enabled:            true,
			Language:           "en",
			WakeWord:           "jarvis",
			WakeTimeout:        time.Second,
			WakePhraseLimit:    3 * time.Second,
			CommandTimeout:     5 * time.Second,
			CommandPhraseLimit: 5 * time.Second,
		},
		Speech: Speech{
			Enabled: true,
			Rate:    150,
		},
		Delays: Delays{
			Clock:       2 * time.Second,
			LightsOn:    time.Second,
			StatusQuery: 500 * time.Millisecond,
			Status:      time.Second,
			Emotion:     2 * time.Second,
			Scan:        3 * time.Second,
			VoiceIdle:   time.Second,
			TestStep:    3 * time.Second,
			TestLED:     time.Second,
		},
	}
}

// Load reads path from fs on top of the defaults. A missing file is only an
// error when required is set.
func Load(fs afero.Fs, path string, required bool) (*Config, error) {
	if fs == nil {
		return nil, fmt.Errorf("fs is nil")
	}

	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return cfg, nil
		}

		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

// Overrides are the command line settings. Zero values leave the loaded
// configuration alone.
type Overrides struct {
	Port     string
	Baud     int
	NoVoice  bool
	NoSpeech bool
	Model    string
	LogLevel string
}

// Apply puts o on top of c and validates the result.
func (c *Config) Apply(o Overrides) error {
	if o.Port != "" {
		c.Port = o.Port
	}

	if o.Baud != 0 {
		c.Baud = o.Baud
	}

	if o.NoVoice {
		c.Voice.Enabled = false
	}

	if o.NoSpeech {
		c.Speech.Enabled = false
	}

	if o.Model != "" {
		c.Voice.Model = o.Model
	}

	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}

	return c.Validate()
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is empty")
	}

	if c.Baud <= 0 {
		return fmt.Errorf("baud must be positive, got %d", c.Baud)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}

	if c.Voice.Enabled && c.Voice.WakeWord == "" {
		return fmt.Errorf("voice.wake_word is empty")
	}

	return nil
}
