// Package config decodes and validates the external configuration surface
// described in spec §6: per-axis settings, bus settings, tracking-loop
// settings and telemetry settings. Configuration is plain YAML, decoded
// with gopkg.in/yaml.v3, validated eagerly at load time the same way the
// teacher's AttrConfig.ValidateSerial fails fast on a missing required
// field rather than failing lazily deep inside a constructor.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aetherlink/groundstation/internal/model"
)

// supportedBauds is the bus baud-rate catalog from spec §6.
var supportedBauds = map[int]bool{
	9600: true, 19200: true, 25000: true, 38400: true,
	57600: true, 115200: true, 256000: true,
}

// BusConfig describes the shared RS485 transport.
type BusConfig struct {
	Device            string `yaml:"device"`
	BaudRate          int    `yaml:"baud_rate"`
	InterFrameGapMS   int    `yaml:"inter_frame_gap_ms"`
	DefaultTimeoutMS  int    `yaml:"default_timeout_ms"`
}

// Validate checks the bus configuration is usable. Failures here are
// Configuration errors (spec §7) and are fatal at startup.
func (c BusConfig) Validate() error {
	if c.Device == "" {
		return fmt.Errorf("bus.device is required")
	}
	if !supportedBauds[c.BaudRate] {
		return fmt.Errorf("bus.baud_rate %d not in supported catalog: %w", c.BaudRate, model.ErrInvalidBaud)
	}
	if c.DefaultTimeoutMS <= 0 {
		return fmt.Errorf("bus.default_timeout_ms must be positive")
	}
	return nil
}

// AxisConfig describes one axis's physical and safety configuration.
type AxisConfig struct {
	Tag               model.AxisTag   `yaml:"tag"`
	Address           byte            `yaml:"address"`
	Model             string          `yaml:"model"` // e.g. "42D", "57D"
	HasLimitSwitches  bool            `yaml:"has_limit_switches"`
	HomeMethod        model.HomeMethod `yaml:"-"`
	HomeMethodName    string          `yaml:"home_method"` // "limit" | "stall"
	WorkingCurrentMA  int             `yaml:"working_current_ma"`
	HomeCurrentMA     int             `yaml:"home_current_ma"`
	MinAngleDeg       float64         `yaml:"min_angle_deg"`
	MaxAngleDeg       float64         `yaml:"max_angle_deg"`
	WarningMarginDeg  float64         `yaml:"warning_margin_deg"`
	WarningSafeRPM    int             `yaml:"warning_safe_rpm"`
	FollowingTolDeg   float64         `yaml:"following_error_tolerance_deg"`
	Microstep         int             `yaml:"microstep"`
	BackoffDeg        float64         `yaml:"backoff_deg"`
	HomeTimeoutS      int             `yaml:"home_timeout_s"`
}

var validMicrosteps = map[int]bool{
	1: true, 2: true, 4: true, 8: true, 16: true, 32: true,
	64: true, 128: true, 256: true, 0: true, // 0 encodes 256
}

// Validate checks the axis configuration.
func (c *AxisConfig) Validate() error {
	switch c.Tag {
	case model.AxisAZ, model.AxisEL, model.AxisCL:
	default:
		return fmt.Errorf("axis tag %q: %w", c.Tag, model.ErrUnknownAxis)
	}
	if c.Address == 0 {
		return fmt.Errorf("axis %s: bus address must be non-zero", c.Tag)
	}
	switch c.HomeMethodName {
	case "limit":
		c.HomeMethod = model.HomeLimitSwitch
	case "stall":
		c.HomeMethod = model.HomeStall
	default:
		return fmt.Errorf("axis %s home_method %q: %w", c.Tag, c.HomeMethodName, model.ErrInvalidHomeMethod)
	}
	if c.MinAngleDeg >= c.MaxAngleDeg {
		return fmt.Errorf("axis %s: min_angle_deg must be < max_angle_deg", c.Tag)
	}
	if !validMicrosteps[c.Microstep] {
		return fmt.Errorf("axis %s: microstep %d not in {1,2,4,8,16,32,64,128,256,0}", c.Tag, c.Microstep)
	}
	if c.HomeTimeoutS <= 0 {
		c.HomeTimeoutS = 120 // spec default
	}
	if c.WarningSafeRPM <= 0 {
		c.WarningSafeRPM = 5 // conservative crawl speed once inside the warning margin
	}
	return nil
}

// StepsPerRev returns the effective pulses-per-revolution for this axis's
// microstep setting, applying the spec's 0-means-256 encoding.
func (c AxisConfig) StepsPerRev() int {
	ms := c.Microstep
	if ms == 0 {
		ms = 256
	}
	return ms * 200
}

// TrackingConfig describes the hybrid tracking loop shared by all axes.
type TrackingConfig struct {
	ControlRateHz   float64 `yaml:"control_rate_hz"`
	Kp              float64 `yaml:"kp"`
	TrackThreshold  float64 `yaml:"track_threshold_deg"`
	HoldThreshold   float64 `yaml:"hold_threshold_deg"`
	Hysteresis      float64 `yaml:"hysteresis_deg"`
	MaxRPM          int     `yaml:"max_rpm"`
}

// Validate checks tracking-loop parameters, filling defaults and rejecting
// a control rate outside the spec's documented 20-100 Hz configurable
// range.
func (c *TrackingConfig) Validate() error {
	if c.ControlRateHz <= 0 {
		c.ControlRateHz = 50
	}
	if c.ControlRateHz < 20 || c.ControlRateHz > 100 {
		return fmt.Errorf("tracking.control_rate_hz %.1f outside configurable range [20,100]", c.ControlRateHz)
	}
	if c.TrackThreshold <= 0 {
		c.TrackThreshold = 2.0
	}
	if c.HoldThreshold <= 0 {
		c.HoldThreshold = 0.5
	}
	if c.Hysteresis <= 0 {
		c.Hysteresis = 0.1
	}
	if c.MaxRPM <= 0 || c.MaxRPM > 3000 {
		return fmt.Errorf("tracking.max_rpm must be in (0,3000]")
	}
	return nil
}

// TelemetryConfig describes the broadcaster cadence and subscriber model.
type TelemetryConfig struct {
	RateHz              float64 `yaml:"rate_hz"`
	SubscriberBufferLen int     `yaml:"subscriber_buffer_depth"`
	IMUStaleS           float64 `yaml:"imu_stale_s"`
	AxisStaleS          float64 `yaml:"axis_stale_s"`
	GNSSStaleS          float64 `yaml:"gnss_stale_s"`
}

// Validate fills in spec defaults for telemetry configuration.
func (c *TelemetryConfig) Validate() error {
	if c.RateHz <= 0 {
		c.RateHz = 10
	}
	if c.SubscriberBufferLen <= 0 {
		c.SubscriberBufferLen = 16
	}
	if c.IMUStaleS <= 0 {
		c.IMUStaleS = 1.0
	}
	if c.AxisStaleS <= 0 {
		c.AxisStaleS = 2.0
	}
	if c.GNSSStaleS <= 0 {
		c.GNSSStaleS = 5.0
	}
	return nil
}

// Config is the complete host-supplied configuration for the core.
type Config struct {
	Bus       BusConfig        `yaml:"bus"`
	Axes      []AxisConfig     `yaml:"axes"`
	Tracking  TrackingConfig   `yaml:"tracking"`
	Telemetry TelemetryConfig  `yaml:"telemetry"`
}

// Load reads and validates a YAML configuration file. Any validation
// failure is a Configuration error (spec §7): the core must refuse to
// start.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every sub-section and enforces the tag<->address
// uniqueness invariant across axes.
func (c *Config) Validate() error {
	if err := c.Bus.Validate(); err != nil {
		return err
	}
	if err := c.Tracking.Validate(); err != nil {
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}

	seenTag := map[model.AxisTag]bool{}
	seenAddr := map[byte]bool{}
	for i := range c.Axes {
		if err := c.Axes[i].Validate(); err != nil {
			return err
		}
		if seenTag[c.Axes[i].Tag] {
			return fmt.Errorf("duplicate axis tag %s", c.Axes[i].Tag)
		}
		seenTag[c.Axes[i].Tag] = true
		if seenAddr[c.Axes[i].Address] {
			return fmt.Errorf("duplicate bus address %d", c.Axes[i].Address)
		}
		seenAddr[c.Axes[i].Address] = true
	}
	return nil
}

// AxisByTag returns the configuration for the named axis, if present.
func (c *Config) AxisByTag(tag model.AxisTag) (AxisConfig, bool) {
	for _, a := range c.Axes {
		if a.Tag == tag {
			return a, true
		}
	}
	return AxisConfig{}, false
}
