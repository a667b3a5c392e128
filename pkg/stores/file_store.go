package stores

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/cloudcompose/ecsroll/pkg/engine"
)

const filePrefix = "ecs.upgrade.workflow."

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// FileStore keeps one JSON snapshot per cluster in a directory.
type FileStore struct {
	dir    string
	logger zerolog.Logger
}

var _ WorkflowStore = (*FileStore)(nil)

// NewFileStore returns a store rooted at dir. The directory is created on
// first save.
func NewFileStore(dir string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		dir:    dir,
		logger: logger.With().Str("component", "file_store").Logger(),
	}
}

// Dir returns the store directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the snapshot path for cluster.
func (s *FileStore) Path(cluster string) string {
	return filepath.Join(s.dir, filePrefix+unsafeFileChars.ReplaceAllString(cluster, "_")+".json")
}

// Save writes the snapshot atomically, replacing any previous one.
func (s *FileStore) Save(_ context.Context, snapshot *Snapshot) error {
	if snapshot == nil || snapshot.ClusterName == "" {
		return fmt.Errorf("snapshot requires a cluster name")
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	snapshot.SavedAt = time.Now().UTC()
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	path := s.Path(snapshot.ClusterName)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	s.logger.Debug().
		Str("cluster", snapshot.ClusterName).
		Int("cursor", snapshot.Cursor()).
		Int("nodes", len(snapshot.Nodes)).
		Msg("Saved workflow snapshot")
	return nil
}

// Load reads the snapshot for cluster. Files holding a bare array of node
// records are accepted and given the cluster name.
func (s *FileStore) Load(_ context.Context, cluster string) (*Snapshot, error) {
	path := s.Path(cluster)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	snapshot := &Snapshot{}
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("[")) {
		err = json.Unmarshal(trimmed, &snapshot.Nodes)
	} else {
		err = json.Unmarshal(trimmed, snapshot)
	}
	if err != nil {
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("snapshot %s is not readable", path), err,
		).WithResource(cluster).WithCode(engine.ErrCodeStateCorrupt)
	}

	if snapshot.ClusterName == "" {
		snapshot.ClusterName = cluster
	}
	if snapshot.SavedAt.IsZero() {
		if info, err := os.Stat(path); err == nil {
			snapshot.SavedAt = info.ModTime().UTC()
		}
	}
	return snapshot, nil
}

// Delete removes the snapshot for cluster.
func (s *FileStore) Delete(_ context.Context, cluster string) error {
	err := os.Remove(s.Path(cluster))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	s.logger.Debug().Str("cluster", cluster).Msg("Deleted workflow snapshot")
	return nil
}

// Stat reports when the snapshot for cluster was last written.
func (s *FileStore) Stat(_ context.Context, cluster string) (time.Time, bool, error) {
	info, err := os.Stat(s.Path(cluster))
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to stat snapshot: %w", err)
	}
	return info.ModTime(), true, nil
}

// Watch signals on the returned channel when the snapshot for cluster is
// removed or moved away by another process. The channel is closed when ctx
// is done.
func (s *FileStore) Watch(ctx context.Context, cluster string) (<-chan struct{}, error) {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	path := s.Path(cluster)
	removed := make(chan struct{}, 1)

	go func() {
		defer close(removed)
		defer func() { _ = watcher.Close() }()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != path || event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				s.logger.Debug().
					Str("file", event.Name).
					Str("op", event.Op.String()).
					Msg("Workflow snapshot removed")
				select {
				case removed <- struct{}{}:
				default:
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Error().Err(err).Msg("Watcher error")
			}
		}
	}()

	return removed, nil
}
