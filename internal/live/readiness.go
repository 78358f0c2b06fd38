package live

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	pkglog "github.com/weiawesome/wes-io-live/coordinator/pkg/log"
)

// readySignal names what promoted a session to active.
type readySignal string

const (
	readyPlaylist readySignal = "playlist"
	readyGrace    readySignal = "grace"
	readyAborted  readySignal = ""
)

// waitReady blocks until the playlist shows up in dir, grace elapses or stop
// is closed. Without a working watcher only the grace timer applies.
func waitReady(dir string, grace time.Duration, stop <-chan struct{}) readySignal {
	l := pkglog.L()

	var events <-chan fsnotify.Event
	var errs <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err = watcher.Add(dir); err != nil {
			watcher.Close()
			watcher = nil
		}
	}
	if err != nil {
		l.Warn().Err(err).Str("dir", dir).Msg("playlist watcher unavailable, using grace period")
	}
	if watcher != nil {
		defer watcher.Close()
		events, errs = watcher.Events, watcher.Errors
	}

	if _, err := os.Stat(filepath.Join(dir, PlaylistName)); err == nil {
		return readyPlaylist
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return readyAborted
		case <-timer.C:
			return readyGrace
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) == PlaylistName && ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				return readyPlaylist
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			l.Warn().Err(err).Str("dir", dir).Msg("playlist watcher error")
		}
	}
}
