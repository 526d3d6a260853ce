// Package config loads the parameters of a simulated SSD from a config file,
// the environment and an optional .env file.
package config

import (
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/sarchlab/ssdsim/internal/logging"
	"github.com/sarchlab/ssdsim/ssd/geometry"
	"github.com/sarchlab/ssdsim/ssd/nand"
)

// EnvPrefix prefixes the environment variables that override the config,
// e.g. SSDSIM_GEOMETRY_FLASHES.
const EnvPrefix = "SSDSIM"

// LogConfig selects the log level and format.
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	NoColor bool   `mapstructure:"no_color"`
}

// Logger creates a logger with the config that writes to stderr.
func (c LogConfig) Logger() *logging.Logger {
	return c.LoggerTo(os.Stderr)
}

// LoggerTo creates a logger with the config that writes to w.
func (c LogConfig) LoggerTo(w io.Writer) *logging.Logger {
	return logging.NewLogger(&logging.Config{
		Level:   logging.ParseLevel(c.Level),
		Format:  c.Format,
		Output:  w,
		NoColor: c.NoColor,
	})
}

// Config is everything needed to build an engine.
type Config struct {
	Geometry             geometry.Params `mapstructure:"geometry"`
	Delays               nand.Delays     `mapstructure:"delays"`
	Log                  LogConfig       `mapstructure:"log"`
	LatencyWindow        int             `mapstructure:"latency_window"`
	ExperimentalPolicies bool            `mapstructure:"experimental_policies"`
	StateDir             string          `mapstructure:"state_dir"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Geometry:      geometry.DefaultParams(),
		Delays:        nand.DefaultDelays(),
		Log:           LogConfig{Level: "info", Format: "text"},
		LatencyWindow: nand.DefaultLatencyWindow,
	}
}

// Validate checks the geometry and the delays.
func (c Config) Validate() error {
	if err := c.Geometry.Validate(); err != nil {
		return errors.Wrap(err, "invalid geometry")
	}

	if err := c.Delays.Validate(); err != nil {
		return errors.Wrap(err, "invalid delays")
	}

	if c.LatencyWindow <= 0 {
		return errors.Errorf("latency window must be positive, got %d",
			c.LatencyWindow)
	}

	return nil
}

// GeometryOf derives the geometry of the config.
func (c Config) GeometryOf() (geometry.Geometry, error) {
	g, err := geometry.New(c.Geometry)
	return g, errors.Wrap(err, "invalid geometry")
}

// LoadEnv loads .env files into the environment. Files that do not exist are
// skipped. Variables already set are kept.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, f := range files {
		err := godotenv.Load(f)
		if err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "loading %s", f)
		}
	}

	return nil
}

// Load reads the config file at path. With an empty path it looks for
// ssdsim.yaml (or .toml, .json) in the working directory and in
// $HOME/.ssdsim, and uses the defaults if there is none. Environment
// variables override the file.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ssdsim")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.ssdsim")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, errors.Wrap(err, "reading config")
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, errors.Wrap(err, "decoding config")
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}

func setDefaults(v *viper.Viper, c Config) {
	g := c.Geometry
	v.SetDefault("geometry.page_size", g.PageSize)
	v.SetDefault("geometry.sector_size", g.SectorSize)
	v.SetDefault("geometry.pages_per_block", g.PagesPerBlock)
	v.SetDefault("geometry.blocks_per_flash", g.BlocksPerFlash)
	v.SetDefault("geometry.flashes", g.Flashes)
	v.SetDefault("geometry.planes_per_flash", g.PlanesPerFlash)
	v.SetDefault("geometry.channels", g.Channels)
	v.SetDefault("geometry.over_provision_percent", g.OverProvisionPercent)
	v.SetDefault("geometry.gc_threshold", g.GCThreshold)
	v.SetDefault("geometry.gc_l2_threshold", g.GCL2Threshold)
	v.SetDefault("geometry.gc_victims_per_check", g.GCVictimsPerCheck)
	v.SetDefault("geometry.seq_write_threshold_pages", g.SeqWriteThresholdPages)

	d := c.Delays
	v.SetDefault("delays.register_write", int64(d.RegisterWrite))
	v.SetDefault("delays.register_read", int64(d.RegisterRead))
	v.SetDefault("delays.cell_program", int64(d.CellProgram))
	v.SetDefault("delays.cell_read", int64(d.CellRead))
	v.SetDefault("delays.block_erase", int64(d.BlockErase))
	v.SetDefault("delays.channel_switch_read", int64(d.ChannelSwitchRead))
	v.SetDefault("delays.channel_switch_write", int64(d.ChannelSwitchWrite))

	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.format", c.Log.Format)
	v.SetDefault("log.no_color", c.Log.NoColor)

	v.SetDefault("latency_window", c.LatencyWindow)
	v.SetDefault("experimental_policies", c.ExperimentalPolicies)
	v.SetDefault("state_dir", c.StateDir)
}
