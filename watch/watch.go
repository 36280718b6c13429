// Copyright (c) 2013 ActiveState Software Inc. All rights reserved.

package watch

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrDirectoryGone is reported on the event stream when the watched
	// directory disappears or can no longer be read.
	ErrDirectoryGone = errors.New("watched directory is gone")

	// ErrClosed is returned by operations on a closed watcher.
	ErrClosed = errors.New("watcher closed")
)

// Kind classifies a change in the watched directory.
type Kind int

const (
	Other Kind = iota
	Created
	Modified
	Removed
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "other"
	}
}

// Event is one normalized notification. When Err is set the event carries
// no paths and Kind is Other.
type Event struct {
	Kind  Kind
	Paths []string
	Err   error
}

func (e Event) String() string {
	if e.Err != nil {
		return fmt.Sprintf("error(%v)", e.Err)
	}
	return fmt.Sprintf("%s%v", e.Kind, e.Paths)
}

// DirWatcher monitors a single directory, non-recursively.
type DirWatcher interface {
	// Events returns the live event stream. It is closed only after
	// Close, and must be consumed by exactly one reader.
	Events() <-chan Event

	// Close stops the watcher and waits for its goroutine to exit.
	Close() error
}

// Options selects and tunes the watcher implementation.
type Options struct {
	Poll         bool          // stat the directory instead of using OS notifications
	PollInterval time.Duration // defaults to DefaultPollInterval
	Logger       *zap.Logger
}

// DefaultPollInterval is how often a PollingWatcher re-lists its directory.
const DefaultPollInterval = time.Second

// New watches dir using OS notifications, or by polling when requested or
// when no notification watcher can be created.
func New(dir string, opts Options) (DirWatcher, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrap(err, "watch")
	}
	if !fi.IsDir() {
		return nil, errors.Errorf("watch: %s is not a directory", dir)
	}

	if !opts.Poll {
		w, err := NewInotifyWatcher(dir, opts.Logger)
		if err == nil {
			return w, nil
		}
		if !errors.Is(err, errNotifyUnavailable) {
			return nil, err
		}
		opts.Logger.Warn("OS notifications unavailable; falling back to polling",
			zap.String("dir", dir), zap.Error(err))
	}
	w, err := NewPollingWatcher(dir, opts.PollInterval, opts.Logger)
	if err != nil {
		return nil, err
	}
	return w, nil
}
