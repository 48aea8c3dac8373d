package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jt05610/drawbot/env"
)

var (
	envFile     string
	logLevel    string
	profilePath string
	serialPort  string
	baud        int
	link        string
	persistence string
	dryRun      bool
	accessible  bool

	logger  *zap.Logger
	environ *env.Environment
)

var rootCmd = &cobra.Command{
	Use:   "drawbot",
	Short: "Drive a plotting machine built from networked stepper nodes",
	Long: `drawbot controls a plotting machine whose axes are driven by stepper
nodes on a shared serial bus. Nodes are bound to names once, by pressing the
button on each board when asked, and the bindings are kept between runs.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = newLogger(logLevel)
		if err != nil {
			return err
		}
		var files []string
		if envFile != "" {
			files = append(files, envFile)
		}
		environ, err = env.Load(logger, files...)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("profile") {
			environ.Profile = profilePath
		}
		if flags.Changed("port") {
			environ.SerialPort = serialPort
		}
		if flags.Changed("baud") {
			environ.Baud = baud
		}
		if flags.Changed("link") {
			environ.Link = link
		}
		if flags.Changed("persistence") {
			environ.Persistence = persistence
		}
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&envFile, "env", "", "environment file (default .env when present)")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringVarP(&profilePath, "profile", "f", "", "machine profile (default built-in drawing machine)")
	flags.StringVarP(&serialPort, "port", "p", "", "serial port")
	flags.IntVarP(&baud, "baud", "b", 0, "serial baud rate")
	flags.StringVar(&link, "link", "", "link type: ftdi or serial")
	flags.StringVar(&persistence, "persistence", "", "node binding file")
	flags.BoolVar(&dryRun, "dry-run", false, "use simulated nodes instead of the serial bus")
	flags.BoolVar(&accessible, "accessible", false, "plain line prompts for screen readers")
}
