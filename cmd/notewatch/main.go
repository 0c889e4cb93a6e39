// Command notewatch collects Xiaohongshu notes for a keyword list and writes
// daily reports.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/FranksOps/notewatch/internal/config"
	"github.com/FranksOps/notewatch/internal/pipeline"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// usageError marks configuration and input problems.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ue usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ue), errors.Is(err, pipeline.ErrNoKeywords):
		return exitUsage
	default:
		return exitFailure
	}
}

type rootOptions struct {
	v          *viper.Viper
	configFile string
	envFile    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
	}
	os.Exit(exitCode(err))
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: config.New()}

	root := &cobra.Command{
		Use:           "notewatch",
		Short:         "Collect Xiaohongshu notes for a keyword list and write daily reports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "config file (yaml, json or toml)")
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before configuration")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text or json")
	pf.String("data-root", "./data", "output data directory")
	pf.String("bridge", config.BridgeCommand, "bridge kind: command or http")
	pf.String("bridge-url", "", "tool gateway base url for the http bridge")
	bindFlags(opts.v, pf, map[string]string{
		"log.level":   "log-level",
		"log.format":  "log-format",
		"data_root":   "data-root",
		"bridge.kind": "bridge",
		"bridge.url":  "bridge-url",
	})

	runCmd := newRunCmd(opts)
	root.AddCommand(runCmd, newScheduleCmd(opts), newDoctorCmd(opts))

	// A bare invocation runs once.
	root.Flags().AddFlagSet(runCmd.Flags())
	root.RunE = runCmd.RunE
	return root
}

// bindFlags maps config keys onto flags so an explicitly set flag wins over
// file and environment values.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if f := fs.Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

// load reads .env and the configuration.
func (o *rootOptions) load() (*config.Config, error) {
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return nil, usageError{err}
	}
	cfg, err := config.Load(o.v, o.configFile)
	if err != nil {
		return nil, usageError{err}
	}
	return cfg, nil
}
