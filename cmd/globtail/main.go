// Copyright (c) 2013 ActiveState Software Inc. All rights reserved.

// globtail follows every file matching a glob, printing lines as they are
// appended.
//
//	globtail [flags] 'logs/app-*.log'
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hpcloud/globtail"
	"github.com/hpcloud/globtail/output"
	"github.com/hpcloud/globtail/watch"
)

func main() {
	if err := newCommand(viper.New()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "globtail:", err)
		os.Exit(1)
	}
}

func newCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "globtail [flags] PATTERN",
		Short:         "Follow every file matching a glob pattern",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v, args[0])
		},
	}

	f := cmd.Flags()
	f.Bool("poll", false, "poll the directory instead of using OS notifications")
	f.Duration("poll-interval", watch.DefaultPollInterval, "how often to poll the directory")
	f.Duration("wake-timeout", globtail.DefaultWakeTimeout, "longest a follower waits before re-reading its file")
	f.Duration("idle-timeout", globtail.DefaultIdleTimeout, "longest between two wake-ups of all followers")
	f.Int("max-line-size", 0, "split lines longer than this many bytes (0 = no limit)")
	f.Bool("existing", true, "follow matching files that exist at startup without waiting for a change")
	f.Bool("label", false, "prefix every line with its file name")
	f.String("color", "auto", "highlight lines: auto, always or never")
	f.String("language", "log", "syntax used for highlighting")
	f.String("style", "monokai", "highlighting style")
	f.String("formatter", "terminal256", "highlighting formatter")
	f.String("log-level", "warn", "diagnostic log level, written to stderr")

	v.SetEnvPrefix("GLOBTAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(f); err != nil {
		panic(err)
	}
	return cmd
}

func run(ctx context.Context, v *viper.Viper, pattern string) error {
	logger, err := newLogger(v.GetString("log-level"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	sinks, sink, err := newSinks(v)
	if err != nil {
		return err
	}

	tail, err := globtail.New(globtail.Config{
		Pattern:        pattern,
		Poll:           v.GetBool("poll"),
		PollInterval:   v.GetDuration("poll-interval"),
		WakeTimeout:    v.GetDuration("wake-timeout"),
		IdleTimeout:    v.GetDuration("idle-timeout"),
		MaxLineSize:    v.GetInt("max-line-size"),
		FollowExisting: v.GetBool("existing"),
		Logger:         logger,
	}, sinks)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := tail.Run(ctx); err != nil {
		return err
	}
	return output.Err(sink)
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrap(err, "--log-level")
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.DisableStacktrace = true
	return config.Build()
}

// newSinks returns the per-file sink factory and the sink that finally
// writes to stdout.
func newSinks(v *viper.Viper) (output.Factory, output.Sink, error) {
	var highlight bool
	switch mode := v.GetString("color"); mode {
	case "auto":
		highlight = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	case "always":
		highlight = true
	case "never":
	default:
		return nil, nil, errors.Errorf("--color: unknown mode %q", mode)
	}
	color.NoColor = !highlight

	var sink output.Sink = output.NewWriter(os.Stdout)
	if highlight {
		sink = output.NewHighlighter(os.Stdout, output.HighlightOptions{
			Language:  v.GetString("language"),
			Style:     v.GetString("style"),
			Formatter: v.GetString("formatter"),
		})
	}

	if !v.GetBool("label") {
		return output.Shared(sink), sink, nil
	}
	return func(name string) output.Sink {
		return output.Labeled(name, sink)
	}, sink, nil
}
