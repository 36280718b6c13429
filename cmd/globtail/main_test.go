package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcloud/globtail/output"
	"github.com/hpcloud/globtail/pattern"
)

func TestFlagsAndEnvironment(t *testing.T) {
	t.Setenv("GLOBTAIL_WAKE_TIMEOUT", "250ms")
	t.Setenv("GLOBTAIL_MAX_LINE_SIZE", "4096")

	v := viper.New()
	cmd := newCommand(v)
	require.NoError(t, cmd.ParseFlags([]string{"--poll", "--label", "--poll-interval", "2s"}))

	assert.True(t, v.GetBool("poll"))
	assert.True(t, v.GetBool("label"))
	assert.True(t, v.GetBool("existing"))
	assert.Equal(t, 2*time.Second, v.GetDuration("poll-interval"))
	assert.Equal(t, 250*time.Millisecond, v.GetDuration("wake-timeout"))
	assert.Equal(t, time.Second, v.GetDuration("idle-timeout"))
	assert.Equal(t, 4096, v.GetInt("max-line-size"))
	assert.Equal(t, "log", v.GetString("language"))
}

func TestNewSinks(t *testing.T) {
	saved := color.NoColor
	defer func() { color.NoColor = saved }()

	v := viper.New()
	newCommand(v)

	v.Set("color", "never")
	sinks, sink, err := newSinks(v)
	require.NoError(t, err)
	assert.IsType(t, &output.Writer{}, sinks("a.log"))
	assert.Same(t, sink, sinks("b.log"))
	assert.True(t, color.NoColor)

	v.Set("color", "always")
	sinks, sink, err = newSinks(v)
	require.NoError(t, err)
	assert.IsType(t, &output.Highlighter{}, sinks("a.log"))
	assert.IsType(t, &output.Highlighter{}, sink)
	assert.False(t, color.NoColor)

	v.Set("label", true)
	sinks, sink, err = newSinks(v)
	require.NoError(t, err)
	assert.IsType(t, output.SinkFunc(nil), sinks("a.log"))
	assert.IsType(t, &output.Highlighter{}, sink)

	v.Set("color", "rainbow")
	_, _, err = newSinks(v)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		logger, err := newLogger(level)
		require.NoError(t, err, level)
		assert.NotNil(t, logger)
	}

	_, err := newLogger("loud")
	assert.Error(t, err)
}

func TestStartupErrors(t *testing.T) {
	for _, args := range [][]string{
		{},
		{"[abc"},
		{"/no/such/dir/*.log"},
		{"--color", "rainbow", "*.log"},
		{"--log-level", "loud", "*.log"},
	} {
		cmd := newCommand(viper.New())
		cmd.SetArgs(args)
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		assert.Error(t, cmd.Execute(), "%v", args)
	}

	cmd := newCommand(viper.New())
	cmd.SetArgs([]string{"[abc"})
	assert.ErrorIs(t, cmd.Execute(), pattern.ErrBadPattern)
}

func TestRunUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.log"), []byte("old\n"), 0600))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	cmd := newCommand(viper.New())
	cmd.SetArgs([]string{"--color", "never", "--log-level", "error", filepath.Join(dir, "*.log")})
	assert.NoError(t, cmd.ExecuteContext(ctx))
}
