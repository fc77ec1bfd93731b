// Package config loads and validates the daemon configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeongseonghan/radiolink/internal/channel"
	"github.com/jeongseonghan/radiolink/internal/fec"
	"github.com/jeongseonghan/radiolink/internal/link"
)

// Config is the root of the YAML configuration file.
type Config struct {
	Server  ServerConfig            `yaml:"server"`
	Logging LoggingConfig           `yaml:"logging"`
	Modules map[string]ModuleConfig `yaml:"modules"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig selects the log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// ModuleConfig tunes one radio module.
type ModuleConfig struct {
	Band string `yaml:"band"` // "sub-ghz" or "2.4ghz"

	QueueLimit   int           `yaml:"queue_limit"`
	RetryBudget  int           `yaml:"retry_budget"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	CCAThresholdDB float64 `yaml:"cca_threshold_db"`
	CCAWindow      int     `yaml:"cca_window"`

	BasePowerDBm          float64 `yaml:"base_power_dbm"`
	MaxPowerDBm           float64 `yaml:"max_power_dbm"`
	PowerStepDB           float64 `yaml:"power_step_db"`
	HighWaterCorrections  int     `yaml:"high_water_corrections"`
	RecoveryConfirmations int     `yaml:"recovery_confirmations"`

	ReassemblyTimeout time.Duration `yaml:"reassembly_timeout"`

	// Ladder optionally overrides the built-in robustness ladder.
	Ladder []ProfileConfig `yaml:"ladder"`
}

// ProfileConfig is one ladder rung in the configuration file. It doubles
// as the requested-profile shape on the transmit API, hence the json tags.
type ProfileConfig struct {
	Scheme string `yaml:"scheme" json:"scheme"` // "ofdm", "qpsk" or "fsk"
	Rate   string `yaml:"rate" json:"rate"`     // "1/2", "2/3", "3/4", "5/6"

	MCS    uint8 `yaml:"mcs" json:"mcs"`
	Option uint8 `yaml:"option" json:"option"`

	ChipRate uint16 `yaml:"chip_rate" json:"chip_rate"`
	RateMode uint8  `yaml:"rate_mode" json:"rate_mode"`

	SymbolRateKHz uint16  `yaml:"symbol_rate_khz" json:"symbol_rate_khz"`
	ModIndex      float64 `yaml:"mod_index" json:"mod_index"`
	PreambleLen   uint8   `yaml:"preamble_len" json:"preamble_len"`
}

// Default returns the shipped configuration: both modules enabled, module
// a on sub-GHz and module b on 2.4 GHz.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8087",
			ShutdownTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Modules: map[string]ModuleConfig{
			"a": {Band: "sub-ghz"},
			"b": {Band: "2.4ghz"},
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults untouched.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server.addr must not be empty")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown logging.format %q", c.Logging.Format)
	}
	if len(c.Modules) == 0 {
		return fmt.Errorf("config: at least one module must be configured")
	}
	for name, m := range c.Modules {
		if _, err := m.band(); err != nil {
			return fmt.Errorf("config: module %s: %w", name, err)
		}
		if m.QueueLimit < 0 || m.RetryBudget < 0 {
			return fmt.Errorf("config: module %s: negative limits", name)
		}
		for i, p := range m.Ladder {
			if _, err := p.Profile(); err != nil {
				return fmt.Errorf("config: module %s: ladder[%d]: %w", name, i, err)
			}
		}
	}
	return nil
}

func (m ModuleConfig) band() (link.Band, error) {
	switch m.Band {
	case "", "sub-ghz":
		return link.BandSubGHz, nil
	case "2.4ghz":
		return link.Band24GHz, nil
	}
	return 0, fmt.Errorf("unknown band %q", m.Band)
}

// BandOrDefault returns the parsed band, defaulting to sub-GHz. Call
// Validate first; unknown values have been rejected there.
func (m ModuleConfig) BandOrDefault() link.Band {
	b, _ := m.band()
	return b
}

// Channel returns the assessor configuration for the module.
func (m ModuleConfig) Channel() channel.Config {
	cfg := channel.DefaultConfig()
	if m.CCAThresholdDB > 0 {
		cfg.ThresholdDB = m.CCAThresholdDB
	}
	if m.CCAWindow > 0 {
		cfg.WindowSize = m.CCAWindow
	}
	return cfg
}

// Link returns the controller configuration for the module.
func (m ModuleConfig) Link() link.Config {
	cfg := link.DefaultConfig()
	if m.BasePowerDBm != 0 {
		cfg.BasePowerDBm = m.BasePowerDBm
	}
	if m.MaxPowerDBm > 0 {
		cfg.MaxPowerDBm = m.MaxPowerDBm
	}
	if m.PowerStepDB > 0 {
		cfg.PowerStepDB = m.PowerStepDB
	}
	if m.HighWaterCorrections > 0 {
		cfg.HighWaterCorrections = m.HighWaterCorrections
	}
	if m.RecoveryConfirmations > 0 {
		cfg.RecoveryConfirmations = m.RecoveryConfirmations
	}
	return cfg
}

// LadderProfiles converts the configured ladder. A nil result means the
// built-in DefaultLadder applies.
func (m ModuleConfig) LadderProfiles() ([]link.Profile, error) {
	if len(m.Ladder) == 0 {
		return nil, nil
	}
	out := make([]link.Profile, 0, len(m.Ladder))
	for i, pc := range m.Ladder {
		p, err := pc.Profile()
		if err != nil {
			return nil, fmt.Errorf("ladder[%d]: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Profile converts one rung to the runtime representation.
func (pc ProfileConfig) Profile() (link.Profile, error) {
	rate, err := fec.ParseCodingRate(pc.Rate)
	if err != nil {
		return link.Profile{}, err
	}
	p := link.Profile{Rate: rate}
	switch pc.Scheme {
	case "ofdm":
		p.Scheme = link.SchemeOFDM
		p.Ofdm = link.OfdmParams{MCS: pc.MCS, Option: pc.Option}
	case "qpsk":
		p.Scheme = link.SchemeQPSK
		p.Qpsk = link.QpskParams{ChipRate: pc.ChipRate, RateMode: pc.RateMode}
	case "fsk":
		p.Scheme = link.SchemeFSK
		p.Fsk = link.FskParams{
			SymbolRateKHz: pc.SymbolRateKHz,
			ModIndex:      pc.ModIndex,
			PreambleLen:   pc.PreambleLen,
		}
	default:
		return link.Profile{}, fmt.Errorf("unknown scheme %q", pc.Scheme)
	}
	if !p.Valid() {
		return link.Profile{}, fmt.Errorf("invalid %s parameters", pc.Scheme)
	}
	return p, nil
}
