package engine

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

const (
	DefaultStartWidth  uint32 = 1280
	DefaultStartHeight uint32 = 720
	DefaultWorkers            = 4
	DefaultAssetsDir          = "assets"
)

type ApplicationConfig struct {
	// The application name used in windowing, if applicable.
	Name string `toml:"name"`
	// Window starting position x axis, if applicable.
	StartPosX uint32 `toml:"start_pos_x"`
	// Window starting position y axis, if applicable.
	StartPosY uint32 `toml:"start_pos_y"`
	// Window starting width, if applicable.
	StartWidth uint32 `toml:"start_width"`
	// Window starting height, if applicable.
	StartHeight uint32        `toml:"start_height"`
	LogLevel    core.LogLevel `toml:"log_level"`
	// Renderer backend: headless, opengl or vulkan.
	Backend string `toml:"backend"`
	// Worker goroutines for asynchronous resource creation. 0 builds everything in place.
	Workers     int    `toml:"workers"`
	AssetsDir   string `toml:"assets_dir"`
	WatchAssets bool   `toml:"watch_assets"`
	AutoClear   bool   `toml:"auto_clear"`
	// RGBA in [0, 1].
	ClearColor [4]float32 `toml:"clear_color"`
	// Frames to run before quitting. 0 runs until the window closes.
	Frames             uint64 `toml:"frames"`
	MaxBufferSlots     int    `toml:"max_buffer_slots"`
	ResizeSettleFrames uint8  `toml:"resize_settle_frames"`
}

// DefaultApplicationConfig returns the configuration used for every key a
// config file leaves out.
func DefaultApplicationConfig() ApplicationConfig {
	return ApplicationConfig{
		Name:        "Kiln",
		StartPosX:   100,
		StartPosY:   100,
		StartWidth:  DefaultStartWidth,
		StartHeight: DefaultStartHeight,
		LogLevel:    core.LogLevelInfo,
		Backend:     renderer.Headless.String(),
		Workers:     DefaultWorkers,
		AssetsDir:   DefaultAssetsDir,
		AutoClear:   true,
		ClearColor:  [4]float32{0, 0, 0.2, 1},
	}
}

// LoadApplicationConfig reads a TOML file on top of DefaultApplicationConfig.
func LoadApplicationConfig(path string) (*ApplicationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		core.LogError("failed to read config %s: %s", path, err)
		return nil, err
	}
	config, err := ParseApplicationConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// ParseApplicationConfig decodes TOML on top of DefaultApplicationConfig.
// Unknown keys are rejected.
func ParseApplicationConfig(data []byte) (*ApplicationConfig, error) {
	config := DefaultApplicationConfig()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&config); err != nil {
		var derr *toml.DecodeError
		var serr *toml.StrictMissingError
		switch {
		case errors.As(err, &derr):
			row, col := derr.Position()
			err = fmt.Errorf("%w: config line %d column %d: %s", core.ErrInvalidUsage, row, col, derr.Error())
		case errors.As(err, &serr):
			err = fmt.Errorf("%w: config: %s", core.ErrInvalidUsage, serr.String())
		default:
			err = fmt.Errorf("%w: config: %v", core.ErrInvalidUsage, err)
		}
		core.LogError(err.Error())
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the values a file can get wrong.
func (c *ApplicationConfig) Validate() error {
	if _, err := renderer.ParseRendererType(c.Backend); err != nil {
		return err
	}
	if c.Workers < 0 {
		return invalidConfig("workers must be >= 0, got %d", c.Workers)
	}
	if c.MaxBufferSlots < 0 {
		return invalidConfig("max_buffer_slots must be >= 0, got %d", c.MaxBufferSlots)
	}
	for _, v := range c.ClearColor {
		if v < 0 || v > 1 {
			return invalidConfig("clear_color components must be within [0, 1], got %v", c.ClearColor)
		}
	}
	return nil
}

func (c *ApplicationConfig) ClearColorValue() metadata.Color {
	return metadata.Color{R: c.ClearColor[0], G: c.ClearColor[1], B: c.ClearColor[2], A: c.ClearColor[3]}
}

func invalidConfig(format string, args ...interface{}) error {
	err := fmt.Errorf("%w: config: %s", core.ErrInvalidUsage, fmt.Sprintf(format, args...))
	core.LogError(err.Error())
	return err
}
