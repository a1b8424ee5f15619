package cron

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FileStore persists jobs as pretty-printed JSON. The service is the
// only writer; every mutation rewrites the whole file through a temp
// file and rename.
type FileStore struct {
	path string
	log  *slog.Logger
}

func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, log: logger}
}

// Load reads the store. An absent, unreadable, or schema-invalid file
// degrades to an empty job list without error.
func (s *FileStore) Load() []*Job {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("cron: store unreadable, starting empty", "path", s.path, "error", err)
		}
		return nil
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		s.log.Warn("cron: store invalid, starting empty", "path", s.path, "error", err)
		return nil
	}
	if file.Version != storeVersion {
		s.log.Warn("cron: unsupported store version, starting empty",
			"path", s.path, "version", file.Version)
		return nil
	}

	jobs := make([]*Job, 0, len(file.Jobs))
	for _, j := range file.Jobs {
		if j == nil || j.ID == "" {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs
}

// Save rewrites the store file atomically within the process.
func (s *FileStore) Save(jobs []*Job) error {
	if jobs == nil {
		jobs = []*Job{}
	}
	data, err := json.MarshalIndent(storeFile{Version: storeVersion, Jobs: jobs}, "", "\t")
	if err != nil {
		return fmt.Errorf("marshal cron store: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create cron store dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cron store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace cron store: %w", err)
	}
	return nil
}
