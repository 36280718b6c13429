//go:build unix

package globtail

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamedPipeIsNotFollowed(t *testing.T) {
	for mode, poll := range watcherModes {
		t.Run(mode, func(t *testing.T) {
			fix := NewFixture("fifo", t)
			out := NewCollector()
			tail := fix.NewTail(Config{Pattern: fix.Path("app-*.log"), Poll: poll}, out)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			done := make(chan error, 1)
			go func() { done <- tail.Run(ctx) }()

			require.NoError(t, syscall.Mkfifo(fix.Path("app-0.log"), 0600))
			fix.CreateFile("app-1.log", "hello\n")
			out.WaitFor(t, "app-1.log", "hello")

			fix.AppendFile("app-1.log", "world\n")
			out.WaitFor(t, "app-1.log", "hello", "world")

			cancel()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(eventually):
				t.Fatal("Run did not return after cancel")
			}
			assert.Empty(t, out.Lines("app-0.log"))
		})
	}
}

func TestExistingNamedPipeIsNotFollowed(t *testing.T) {
	fix := NewFixture("fifo-existing", t)
	require.NoError(t, syscall.Mkfifo(fix.Path("app-0.log"), 0600))
	fix.CreateFile("app-1.log", "")
	out := fix.StartTail(Config{Pattern: fix.Path("app-*.log"), Poll: true, FollowExisting: true})

	fix.AppendFile("app-1.log", "one\n")
	out.WaitFor(t, "app-1.log", "one")
}
