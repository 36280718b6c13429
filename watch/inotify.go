// Copyright (c) 2013 ActiveState Software Inc. All rights reserved.

package watch

import (
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/tomb.v1"
)

var errNotifyUnavailable = errors.New("OS notifications unavailable")

// InotifyWatcher uses fsnotify to monitor a directory.
type InotifyWatcher struct {
	Dir string

	fsw    *fsnotify.Watcher
	events chan Event
	log    *zap.Logger

	tomb.Tomb
}

func NewInotifyWatcher(dir string, log *zap.Logger) (*InotifyWatcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(errNotifyUnavailable, err.Error())
	}
	dir = filepath.Clean(dir)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, errors.Wrapf(err, "watching %s", dir)
	}

	w := &InotifyWatcher{
		Dir:    dir,
		fsw:    fsw,
		events: make(chan Event),
		log:    log.Named("watch").With(zap.String("dir", dir)),
	}
	go w.run()
	return w, nil
}

func (w *InotifyWatcher) Events() <-chan Event {
	return w.events
}

func (w *InotifyWatcher) Close() error {
	w.Kill(nil)
	return w.Wait()
}

// run forwards fsnotify events and errors until the watcher dies.
func (w *InotifyWatcher) run() {
	defer w.Done()
	defer close(w.events)
	defer w.fsw.Close()

	for {
		select {
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.send(w.translate(evt)) {
				return
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if err == nil || errors.Is(err, syscall.EINTR) {
				continue
			}
			if !w.send(Event{Err: err}) {
				return
			}

		case <-w.Dying():
			return
		}
	}
}

func (w *InotifyWatcher) translate(evt fsnotify.Event) Event {
	gone := evt.Has(fsnotify.Remove) || evt.Has(fsnotify.Rename)
	if gone && filepath.Clean(evt.Name) == w.Dir {
		return Event{Err: errors.Wrap(ErrDirectoryGone, w.Dir)}
	}

	e := Event{Paths: []string{evt.Name}}
	switch {
	case evt.Has(fsnotify.Create):
		e.Kind = Created
	case evt.Has(fsnotify.Write):
		e.Kind = Modified
	case gone:
		e.Kind = Removed
	default:
		e.Kind = Other
	}
	w.log.Debug("fsnotify event", zap.Stringer("op", evt.Op), zap.Stringer("event", e))
	return e
}

func (w *InotifyWatcher) send(e Event) bool {
	select {
	case w.events <- e:
		return true
	case <-w.Dying():
		return false
	}
}
