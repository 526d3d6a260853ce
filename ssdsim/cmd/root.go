// Package cmd provides the command-line interface of the SSD simulator.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/ssdsim/internal/logging"
	"github.com/sarchlab/ssdsim/ssd/config"
)

// app is the state shared by the commands of one invocation.
type app struct {
	configPath string
	envFile    string
	logLevel   string
	logFormat  string

	cfg config.Config
	log *logging.Logger
}

// NewRootCommand creates the ssdsim command with every subcommand attached.
func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "ssdsim",
		Short: "ssdsim simulates the flash translation layer of an SSD.",
		Long: `ssdsim simulates the flash translation layer of an SSD. ` +
			`It maps logical sectors onto NAND pages, collects garbage and ` +
			`times every page access against a model of the channels and ` +
			`planes of the device.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "",
		"config file (default: ssdsim.yaml in . or $HOME/.ssdsim)")
	flags.StringVar(&a.envFile, "env-file", ".env",
		"file of SSDSIM_* variables to load before the config")
	flags.StringVar(&a.logLevel, "log-level", "",
		"log level: debug, info, warn or error")
	flags.StringVar(&a.logFormat, "log-format", "",
		"log format: text or json")

	rootCmd.AddCommand(
		newRunCommand(a),
		newGeometryCommand(a),
		newInspectCommand(a),
	)

	return rootCmd
}

// Execute runs the command line and exits. Exit handlers, such as the ones
// that flush recorders, run before the process ends.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if err := config.LoadEnv(a.envFile); err != nil {
		return err
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}

	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}

	a.cfg = cfg
	a.log = cfg.Log.LoggerTo(cmd.ErrOrStderr())
	logging.SetDefault(a.log)

	return nil
}
