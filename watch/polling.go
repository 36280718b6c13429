// Copyright (c) 2013 ActiveState Software Inc. All rights reserved.

package watch

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/tomb.v1"
)

// PollingWatcher re-lists its directory at a fixed interval and reports the
// differences against the previous listing.
type PollingWatcher struct {
	Dir      string
	Interval time.Duration

	prev    map[string]stamp
	failing bool
	events  chan Event
	log     *zap.Logger

	tomb.Tomb
}

// stamp is what decides whether a file changed. Contents are not compared.
type stamp struct {
	size    int64
	modTime time.Time
}

func NewPollingWatcher(dir string, interval time.Duration, log *zap.Logger) (*PollingWatcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	dir = filepath.Clean(dir)

	snap, err := snapshot(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "watching %s", dir)
	}

	w := &PollingWatcher{
		Dir:      dir,
		Interval: interval,
		prev:     snap,
		events:   make(chan Event),
		log:      log.Named("watch").With(zap.String("dir", dir)),
	}
	go w.run()
	return w, nil
}

func (w *PollingWatcher) Events() <-chan Event {
	return w.events
}

func (w *PollingWatcher) Close() error {
	w.Kill(nil)
	return w.Wait()
}

func (w *PollingWatcher) run() {
	defer w.Done()
	defer close(w.events)

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-w.Dying():
			return
		}

		for _, e := range w.poll() {
			select {
			case w.events <- e:
			case <-w.Dying():
				return
			}
		}
	}
}

// poll compares a fresh listing with the previous one. A failed listing
// keeps the previous snapshot so a directory that comes back is diffed
// against what was last seen. Errors are reported once per failure streak.
func (w *PollingWatcher) poll() []Event {
	cur, err := snapshot(w.Dir)
	if err != nil {
		if w.failing {
			return nil
		}
		w.failing = true
		if os.IsNotExist(err) {
			err = errors.Wrap(ErrDirectoryGone, w.Dir)
		}
		return []Event{{Err: err}}
	}
	w.failing = false

	var created, modified, removed []string
	for name, st := range cur {
		old, ok := w.prev[name]
		switch {
		case !ok:
			created = append(created, filepath.Join(w.Dir, name))
		case old.size != st.size || !old.modTime.Equal(st.modTime):
			modified = append(modified, filepath.Join(w.Dir, name))
		}
	}
	for name := range w.prev {
		if _, ok := cur[name]; !ok {
			removed = append(removed, filepath.Join(w.Dir, name))
		}
	}
	w.prev = cur

	var events []Event
	for _, e := range []Event{
		{Kind: Created, Paths: created},
		{Kind: Modified, Paths: modified},
		{Kind: Removed, Paths: removed},
	} {
		if len(e.Paths) == 0 {
			continue
		}
		sort.Strings(e.Paths)
		w.log.Debug("poll event", zap.Stringer("event", e))
		events = append(events, e)
	}
	return events
}

// snapshot stats every non-directory entry of dir. Entries that vanish
// between listing and stat are skipped.
func snapshot(dir string) (map[string]stamp, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	snap := make(map[string]stamp, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		snap[entry.Name()] = stamp{size: fi.Size(), modTime: fi.ModTime()}
	}
	return snap, nil
}
