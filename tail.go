// Copyright (c) 2013 ActiveState Software Inc. All rights reserved.

// Package globtail follows every file in a directory whose name matches a
// glob, emitting lines as they are appended, like tail -f over a changing
// set of files.
package globtail

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hpcloud/globtail/output"
	"github.com/hpcloud/globtail/pattern"
	"github.com/hpcloud/globtail/watch"
)

// DefaultIdleTimeout is how often followers are woken when the directory
// is quiet.
const DefaultIdleTimeout = time.Second

var ErrNoPattern = errors.New("no pattern given")

type Config struct {
	Pattern string

	Poll         bool          // poll the directory instead of using OS notifications
	PollInterval time.Duration // used when polling

	WakeTimeout time.Duration // longest a follower sleeps without a wake
	IdleTimeout time.Duration // longest between two wake fan-outs
	MaxLineSize int           // see CursorOptions

	// FollowExisting adopts files that already match at startup instead of
	// waiting for the first change event naming them. Either way only
	// content appended after startup is emitted.
	FollowExisting bool

	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = watch.DefaultPollInterval
	}
	if c.WakeTimeout <= 0 {
		c.WakeTimeout = DefaultWakeTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Tail keeps one Cursor per matching file in the watched directory.
type Tail struct {
	Target pattern.Target

	config  Config
	matcher *pattern.Matcher
	watcher watch.DirWatcher
	sinks   output.Factory
	log     *zap.Logger

	// Only touched by the goroutine running Run.
	followed map[string]*Cursor
	offsets  map[string]int64
}

// New resolves the pattern and starts watching its directory. Errors are
// fatal configuration problems. A nil sinks writes every line to stdout.
func New(config Config, sinks output.Factory) (*Tail, error) {
	config = config.withDefaults()
	if config.Pattern == "" {
		return nil, ErrNoPattern
	}
	if sinks == nil {
		sinks = output.Shared(output.NewWriter(os.Stdout))
	}

	target, err := pattern.Resolve(config.Pattern)
	if err != nil {
		return nil, err
	}
	matcher, err := target.Matcher()
	if err != nil {
		return nil, err
	}

	t := &Tail{
		Target:   target,
		config:   config,
		matcher:  matcher,
		sinks:    sinks,
		log:      config.Logger.Named("registry"),
		followed: make(map[string]*Cursor),
		offsets:  make(map[string]int64),
	}
	if err := t.scan(); err != nil {
		return nil, err
	}

	t.watcher, err = newWatcher(target.Dir, watch.Options{
		Poll:         config.Poll,
		PollInterval: config.PollInterval,
		Logger:       config.Logger,
	})
	if err != nil {
		return nil, err
	}
	t.log.Info("watching directory",
		zap.String("dir", target.Dir), zap.String("pattern", target.Name), zap.Bool("poll", config.Poll))
	return t, nil
}

var newWatcher = watch.New

// scan records the current size of every matching file so that content
// written before startup is never emitted. It runs before the watcher
// starts: a file created in between is unknown here and is read from the
// start once an event names it.
func (t *Tail) scan() error {
	entries, err := os.ReadDir(t.Target.Dir)
	if err != nil {
		return errors.Wrapf(err, "listing %s", t.Target.Dir)
	}
	for _, entry := range entries {
		if entry.IsDir() || !t.matcher.Match(entry.Name()) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		t.offsets[entry.Name()] = fi.Size()
	}
	return nil
}

// Run follows matching files until ctx is done, then stops every follower
// and waits for them. It returns nil after cancellation.
func (t *Tail) Run(ctx context.Context) error {
	defer t.shutdown()

	if t.config.FollowExisting {
		names := make([]string, 0, len(t.offsets))
		for name := range t.offsets {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			t.adopt(name)
		}
	}

	idle := time.NewTimer(t.config.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-t.watcher.Events():
			if !ok {
				return watch.ErrClosed
			}
			t.handle(e)
		case <-idle.C:
		}

		// Events cannot be trusted to name the file that changed, so
		// every follower is woken on every iteration.
		t.wakeAll()
		idle.Reset(t.config.IdleTimeout)
	}
}

func (t *Tail) handle(e watch.Event) {
	if e.Err != nil {
		t.log.Warn("watcher error", zap.Error(e.Err))
		return
	}
	t.log.Debug("event", zap.Stringer("event", e))

	for _, path := range e.Paths {
		if !t.matcher.MatchPath(path) {
			continue
		}
		name := pattern.Identity(path)
		switch e.Kind {
		case watch.Created, watch.Modified:
			if _, ok := t.followed[name]; !ok {
				t.adopt(name)
			}
		case watch.Removed:
			t.release(name)
		}
	}
}

// adopt opens name and starts a follower for it. A file that cannot be
// opened is skipped until an event names it again. Only regular files are
// followed; opening a FIFO would block until a writer shows up.
func (t *Tail) adopt(name string) {
	path := filepath.Join(t.Target.Dir, name)
	if fi, err := os.Stat(path); err != nil || !fi.Mode().IsRegular() {
		if err != nil {
			t.log.Warn("cannot stat matching file", zap.String("file", path), zap.Error(err))
		} else {
			t.log.Debug("skipping non-regular file", zap.String("file", path), zap.Stringer("mode", fi.Mode()))
		}
		return
	}
	file, err := os.Open(path)
	if err != nil {
		t.log.Warn("cannot open matching file", zap.String("file", path), zap.Error(err))
		return
	}
	// the name may have been replaced between Stat and Open
	fi, err := file.Stat()
	if err != nil || !fi.Mode().IsRegular() {
		file.Close()
		if err != nil {
			t.log.Warn("cannot stat matching file", zap.String("file", path), zap.Error(err))
		}
		return
	}

	// Files never seen before are read from the start; anything else from
	// where it was last left. A file that shrank since is read from the start.
	offset := t.offsets[name]
	if offset > fi.Size() {
		offset = 0
	}

	c, err := Follow(name, file, offset, nil, t.sinks(name), CursorOptions{
		WakeTimeout: t.config.WakeTimeout,
		MaxLineSize: t.config.MaxLineSize,
		Logger:      t.config.Logger,
	})
	if err != nil {
		file.Close()
		t.log.Warn("cannot follow matching file", zap.String("file", path), zap.Error(err))
		return
	}
	t.followed[name] = c
	delete(t.offsets, name)
	t.log.Info("following", zap.String("file", path), zap.Int64("offset", offset))
}

// release stops following a file that was removed from the directory.
func (t *Tail) release(name string) {
	delete(t.offsets, name)
	c, ok := t.followed[name]
	if !ok {
		return
	}
	delete(t.followed, name)
	if err := c.Stop(); err != nil {
		t.log.Warn("follower failed", zap.String("file", name), zap.Error(err))
	}
	t.log.Info("stopped following", zap.String("file", name), zap.Int64("offset", c.Offset()))
}

// wakeAll wakes every live follower. Dead followers are dropped and their
// offset kept, so a later event resumes them without repeating lines.
func (t *Tail) wakeAll() {
	for name, c := range t.followed {
		select {
		case <-c.Dead():
			delete(t.followed, name)
			t.offsets[name] = c.Offset()
			t.log.Warn("follower died; resuming on next event",
				zap.String("file", name), zap.Error(c.Err()))
		default:
			c.Wake()
		}
	}
	t.log.Debug("woke followers", zap.Int("count", len(t.followed)))
}

func (t *Tail) shutdown() {
	if err := t.watcher.Close(); err != nil {
		t.log.Warn("closing watcher", zap.Error(err))
	}
	for _, c := range t.followed {
		c.Kill(nil)
	}
	for name, c := range t.followed {
		if err := c.Wait(); err != nil {
			t.log.Warn("follower failed", zap.String("file", name), zap.Error(err))
		}
		delete(t.followed, name)
	}
	t.log.Info("stopped")
}
