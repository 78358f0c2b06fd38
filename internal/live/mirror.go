package live

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	pkglog "github.com/weiawesome/wes-io-live/coordinator/pkg/log"
	"github.com/weiawesome/wes-io-live/coordinator/pkg/storage"
)

const mirrorOpTimeout = 30 * time.Second

// Mirror copies each room's HLS output to a remote store as ffmpeg writes
// it. Segments are uploaded once they appear in the playlist and deleted
// when ffmpeg rotates them out locally.
type Mirror struct {
	remote  storage.Storage
	baseDir string

	mu    sync.Mutex
	rooms map[string]*mirrorRoom
}

type mirrorRoom struct {
	roomID   string
	dir      string
	watcher  *fsnotify.Watcher
	uploaded map[string]bool
	done     chan struct{}
}

func NewMirror(remote storage.Storage, baseDir string) *Mirror {
	return &Mirror{
		remote:  remote,
		baseDir: baseDir,
		rooms:   make(map[string]*mirrorRoom),
	}
}

// Start begins mirroring {baseDir}/{roomID}. The directory must exist.
func (m *Mirror) Start(roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rooms[roomID]; exists {
		return nil
	}

	dir := filepath.Join(m.baseDir, roomID)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	mr := &mirrorRoom{
		roomID:   roomID,
		dir:      dir,
		watcher:  watcher,
		uploaded: make(map[string]bool),
		done:     make(chan struct{}),
	}
	m.rooms[roomID] = mr
	go m.run(mr)

	l := pkglog.L()
	l.Info().Str(pkglog.FieldRoomID, roomID).Msg("mirroring HLS output")
	return nil
}

func (m *Mirror) run(mr *mirrorRoom) {
	defer close(mr.done)
	l := pkglog.L()

	for {
		select {
		case ev, ok := <-mr.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(ev.Name)
			switch {
			case name == PlaylistName && ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				ctx, cancel := context.WithTimeout(context.Background(), mirrorOpTimeout)
				if err := m.sync(ctx, mr); err != nil {
					l.Warn().Err(err).Str(pkglog.FieldRoomID, mr.roomID).Msg("mirror sync failed")
				}
				cancel()
			case strings.HasSuffix(name, ".ts") && ev.Op&fsnotify.Remove != 0:
				ctx, cancel := context.WithTimeout(context.Background(), mirrorOpTimeout)
				if err := m.remote.Delete(ctx, path.Join(mr.roomID, name)); err != nil {
					l.Warn().Err(err).Str(pkglog.FieldRoomID, mr.roomID).Str("segment", name).Msg("mirror delete failed")
				}
				cancel()
				delete(mr.uploaded, name)
			}
		case err, ok := <-mr.watcher.Errors:
			if !ok {
				return
			}
			l.Warn().Err(err).Str(pkglog.FieldRoomID, mr.roomID).Msg("mirror watcher error")
		}
	}
}

// sync uploads segments listed in the playlist that were not uploaded yet,
// then the playlist itself so it never references a missing segment.
func (m *Mirror) sync(ctx context.Context, mr *mirrorRoom) error {
	segments, err := playlistSegments(filepath.Join(mr.dir, PlaylistName))
	if err != nil {
		return err
	}

	for _, seg := range segments {
		if mr.uploaded[seg] {
			continue
		}
		if err := m.upload(ctx, mr, seg); err != nil {
			return err
		}
		mr.uploaded[seg] = true
	}
	return m.upload(ctx, mr, PlaylistName)
}

func (m *Mirror) upload(ctx context.Context, mr *mirrorRoom, name string) error {
	f, err := os.Open(filepath.Join(mr.dir, name))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	size := int64(-1)
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}
	if err := m.remote.Write(ctx, path.Join(mr.roomID, name), f, size, storage.ContentType(name)); err != nil {
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}
	return nil
}

// Stop ends mirroring for a room. Already uploaded objects stay.
func (m *Mirror) Stop(roomID string) {
	m.mu.Lock()
	mr, ok := m.rooms[roomID]
	delete(m.rooms, roomID)
	m.mu.Unlock()

	if ok {
		mr.watcher.Close()
		<-mr.done
	}
}

// Remove stops mirroring and deletes the room's remote objects.
func (m *Mirror) Remove(ctx context.Context, roomID string) error {
	m.Stop(roomID)
	if err := m.remote.DeletePrefix(ctx, roomID+"/"); err != nil {
		return fmt.Errorf("failed to delete mirrored artifacts: %w", err)
	}
	return nil
}

// StopAll stops every room's watcher.
func (m *Mirror) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Stop(id)
	}
}

// playlistSegments returns the segment URIs of an m3u8 file in order.
func playlistSegments(playlistPath string) ([]string, error) {
	f, err := os.Open(playlistPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var segments []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		segments = append(segments, path.Base(line))
	}
	return segments, scanner.Err()
}
