package wlwin

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"deedles.dev/ximage/geom"
	"gopkg.in/yaml.v3"
)

// WindowConfig is the YAML form of a WindowInfo. Missing fields keep the
// values of DefaultConfig.
type WindowConfig struct {
	Title           string    `yaml:"title"`
	AppID           string    `yaml:"app_id"`
	Width           int       `yaml:"width"`
	Height          int       `yaml:"height"`
	X               int       `yaml:"x"`
	Y               int       `yaml:"y"`
	Opacity         float64   `yaml:"opacity"`
	Style           string    `yaml:"style"`
	Buffers         int       `yaml:"buffers"`
	PoolFromScreens bool      `yaml:"pool_from_screens"`
	Shm             ShmConfig `yaml:"shm"`
}

// ShmConfig selects the backing store of the window pool.
type ShmConfig struct {
	Hint        string `yaml:"hint"`
	FallbackDir string `yaml:"fallback_dir"`
}

// DefaultConfig returns the configuration matching DefaultWindowInfo.
func DefaultConfig() WindowConfig {
	info := DefaultWindowInfo()
	return WindowConfig{
		Title:   info.Title,
		Width:   info.Size.X,
		Height:  info.Size.Y,
		Opacity: info.Opacity,
		Style:   StyleDefault.String(),
		Buffers: info.Buffers,
		Shm:     ShmConfig{Hint: HintMemfd.String()},
	}
}

// LoadConfig reads a window configuration file.
func LoadConfig(path string) (WindowConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return WindowConfig{}, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return WindowConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes a window configuration on top of DefaultConfig.
// Unknown keys are rejected.
func ParseConfig(data []byte) (WindowConfig, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return WindowConfig{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return WindowConfig{}, err
	}
	return cfg, nil
}

// Validate checks the fields that have a closed set of values.
func (c WindowConfig) Validate() error {
	if _, err := parseStyle(c.Style); err != nil {
		return err
	}
	if _, err := parseAnonHint(c.Shm.Hint); err != nil {
		return err
	}
	if c.Width < 0 || c.Height < 0 {
		return fmt.Errorf("invalid size %dx%d", c.Width, c.Height)
	}
	if c.Buffers < 0 {
		return fmt.Errorf("invalid buffer count %d", c.Buffers)
	}
	if (PoolInfo{Width: c.Width, Height: c.Height, Layers: c.Buffers}).SizeBytes() < 0 {
		return fmt.Errorf("%dx%d window with %d buffers exceeds the shared memory limit", c.Width, c.Height, c.Buffers)
	}
	return nil
}

// WindowInfo converts the configuration. It assumes Validate passed;
// unknown enumerations fall back to their defaults.
func (c WindowConfig) WindowInfo() WindowInfo {
	style, _ := parseStyle(c.Style)
	hint, _ := parseAnonHint(c.Shm.Hint)
	return WindowInfo{
		Title:           c.Title,
		AppID:           c.AppID,
		Size:            geom.Pt(c.Width, c.Height),
		Coordinates:     geom.Pt(c.X, c.Y),
		Opacity:         c.Opacity,
		Style:           style,
		Buffers:         c.Buffers,
		PoolFromScreens: c.PoolFromScreens,
		AnonHint:        hint,
		FallbackDir:     c.Shm.FallbackDir,
	}.normalize()
}

func parseStyle(s string) (WindowStyle, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default", "os_default":
		return StyleDefault, nil
	case "windowed":
		return StyleWindowed, nil
	case "borderless":
		return StyleBorderless, nil
	default:
		return StyleDefault, fmt.Errorf("unknown window style %q", s)
	}
}

func parseAnonHint(s string) (AnonHint, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "memfd":
		return HintMemfd, nil
	case "file":
		return HintFile, nil
	default:
		return HintMemfd, fmt.Errorf("unknown shm hint %q", s)
	}
}
