// Package filestore implements checkpoint.Store on top of a plain directory
// tree: `.agneto/task-<id>/checkpoints/checkpoint-NNN.json` files plus a
// `metadata.json` index, per task. Filesystem access goes through afero so
// tests can swap in an in-memory filesystem without touching disk.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/durch/agneto/internal/checkpoint"
)

const (
	checkpointsDirName = "checkpoints"
	metadataFileName   = "metadata.json"
	checkpointFilePattern = "checkpoint-%04d.json"
)

// Metadata indexes the checkpoints written for one task.
type Metadata struct {
	TaskID      string `json:"taskId"`
	LatestNumber int   `json:"latestNumber"`
}

// Store is a checkpoint.Store backed by a directory tree under root.
type Store struct {
	fs   afero.Fs
	root string

	mu sync.Mutex
}

// New returns a Store rooted at root (typically ".agneto"), using fs for all
// filesystem access.
func New(fs afero.Fs, root string) *Store {
	return &Store{fs: fs, root: root}
}

func (s *Store) taskDir(taskID string) string {
	return filepath.Join(s.root, "task-"+taskID)
}

func (s *Store) checkpointsDir(taskID string) string {
	return filepath.Join(s.taskDir(taskID), checkpointsDirName)
}

func (s *Store) metadataPath(taskID string) string {
	return filepath.Join(s.checkpointsDir(taskID), metadataFileName)
}

func (s *Store) checkpointPath(taskID string, number int) string {
	return filepath.Join(s.checkpointsDir(taskID), fmt.Sprintf(checkpointFilePattern, number))
}

// Write implements checkpoint.Store. It is append-only: a prior checkpoint
// file is never rewritten.
func (s *Store) Write(_ context.Context, taskID string, cp checkpoint.Checkpoint) (checkpoint.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.checkpointsDir(taskID)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("filestore: creating checkpoint dir: %w", err)
	}

	meta, err := s.readMetadata(taskID)
	if err != nil {
		return checkpoint.Checkpoint{}, err
	}
	cp.Number = meta.LatestNumber + 1

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("filestore: marshaling checkpoint: %w", err)
	}
	if err := afero.WriteFile(s.fs, s.checkpointPath(taskID, cp.Number), data, 0o644); err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("filestore: writing checkpoint file: %w", err)
	}

	meta.TaskID = taskID
	meta.LatestNumber = cp.Number
	if err := s.writeMetadata(taskID, meta); err != nil {
		return checkpoint.Checkpoint{}, err
	}
	return cp, nil
}

// Latest implements checkpoint.Store.
func (s *Store) Latest(_ context.Context, taskID string) (checkpoint.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, err := s.readMetadata(taskID)
	if err != nil {
		return checkpoint.Checkpoint{}, err
	}
	if meta.LatestNumber == 0 {
		return checkpoint.Checkpoint{}, fmt.Errorf("filestore: no checkpoints written for task %q", taskID)
	}
	return s.readCheckpoint(taskID, meta.LatestNumber)
}

// List implements checkpoint.Store.
func (s *Store) List(_ context.Context, taskID string) ([]checkpoint.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.checkpointsDir(taskID)
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("filestore: listing checkpoint dir: %w", err)
	}

	var numbers []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "checkpoint-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(name, checkpointFilePattern, &n); err != nil {
			continue
		}
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	out := make([]checkpoint.Checkpoint, 0, len(numbers))
	for _, n := range numbers {
		cp, err := s.readCheckpoint(taskID, n)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *Store) readCheckpoint(taskID string, number int) (checkpoint.Checkpoint, error) {
	data, err := afero.ReadFile(s.fs, s.checkpointPath(taskID, number))
	if err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("filestore: reading checkpoint %d: %w", number, err)
	}
	var cp checkpoint.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("filestore: decoding checkpoint %d: %w", number, err)
	}
	return cp, nil
}

func (s *Store) readMetadata(taskID string) (Metadata, error) {
	data, err := afero.ReadFile(s.fs, s.metadataPath(taskID))
	if err != nil {
		if isNotExist(err) {
			return Metadata{TaskID: taskID}, nil
		}
		return Metadata{}, fmt.Errorf("filestore: reading metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("filestore: decoding metadata: %w", err)
	}
	return meta, nil
}

func (s *Store) writeMetadata(taskID string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: marshaling metadata: %w", err)
	}
	if err := afero.WriteFile(s.fs, s.metadataPath(taskID), data, 0o644); err != nil {
		return fmt.Errorf("filestore: writing metadata: %w", err)
	}
	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
