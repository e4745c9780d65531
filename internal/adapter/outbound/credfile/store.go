// Package credfile stores tenant credentials as one JSON file per tenant.
package credfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Sayan19951995/metricon-sub002/internal/domain/credential"
	"github.com/Sayan19951995/metricon-sub002/internal/domain/session"
)

const (
	fileExt     = ".json"
	lockExt     = ".lock"
	fileVersion = 1
)

// credentialFile is the on-disk layout of <dir>/<tenant>.json.
type credentialFile struct {
	Version   int              `json:"version"`
	Tenant    string           `json:"tenant"`
	UpdatedAt time.Time        `json:"updated_at"`
	Entries   credential.State `json:"entries"`
}

// Store implements credential.Store on a directory of JSON files.
// Writes are atomic (write-tmp, fsync, rename) and serialized with a
// mutex in-process and an flock on <tenant>.json.lock across processes.
// Files are written with 0600 permissions.
type Store struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// New creates a Store rooted at dir, creating the directory with 0700
// permissions if needed.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create credentials dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) path(tenant string) string {
	return filepath.Join(s.dir, tenant+fileExt)
}

// checkTenant rejects ids that could name a file outside dir.
func checkTenant(tenant string) error {
	if err := session.ValidateTenant(tenant); err != nil {
		return fmt.Errorf("credentials for %q: %w", tenant, err)
	}
	return nil
}

// Exists reports whether tenant has a credentials file.
func (s *Store) Exists(_ context.Context, tenant string) (bool, error) {
	if err := checkTenant(tenant); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(tenant))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat credentials: %w", err)
}

// Load reads tenant's credentials. It warns if the file is readable by
// group or others.
func (s *Store) Load(_ context.Context, tenant string) (credential.State, error) {
	if err := checkTenant(tenant); err != nil {
		return nil, err
	}
	file, err := s.read(tenant)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, credential.ErrNotFound
	}
	return file.Entries, nil
}

func (s *Store) read(tenant string) (*credentialFile, error) {
	path := s.path(tenant)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	// Unix permission bits are not meaningful on Windows.
	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(path); statErr == nil {
			if mode := info.Mode().Perm(); mode&0077 != 0 {
				s.logger.Warn("credentials file has too-open permissions, should be 0600",
					"path", path, "current_mode", fmt.Sprintf("%04o", mode))
			}
		}
	}

	var file credentialFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", path, err)
	}
	return &file, nil
}

// Save merges update into tenant's file. A merge that leaves no entries
// removes the file.
func (s *Store) Save(_ context.Context, tenant string, update credential.State) error {
	if err := checkTenant(tenant); err != nil {
		return err
	}
	return s.withLock(tenant, false, func() error {
		file, err := s.read(tenant)
		if err != nil {
			return err
		}
		var current credential.State
		if file != nil {
			current = file.Entries
		}
		merged := current.Merge(update)
		if len(merged) == 0 {
			return s.remove(tenant)
		}

		data, err := json.MarshalIndent(credentialFile{
			Version:   fileVersion,
			Tenant:    tenant,
			UpdatedAt: time.Now().UTC(),
			Entries:   merged,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal credentials: %w", err)
		}
		data = append(data, '\n')

		if err := s.writeAtomic(s.path(tenant), data); err != nil {
			return err
		}
		s.logger.Debug("credentials saved", "tenant", tenant, "entries", len(merged))
		return nil
	})
}

// Delete removes tenant's credentials file and its lock file.
func (s *Store) Delete(_ context.Context, tenant string) error {
	if err := checkTenant(tenant); err != nil {
		return err
	}
	return s.withLock(tenant, true, func() error {
		return s.remove(tenant)
	})
}

func (s *Store) remove(tenant string) error {
	if err := os.Remove(s.path(tenant)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}

// List returns the tenants that have a credentials file, sorted.
func (s *Store) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read credentials dir: %w", err)
	}
	var tenants []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		tenants = append(tenants, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(tenants)
	return tenants, nil
}

// Ping checks that the credentials directory is still there.
func (s *Store) Ping(_ context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("stat credentials dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("credentials path %s is not a directory", s.dir)
	}
	return nil
}

// withLock runs fn holding the in-process mutex and the tenant's flock.
// With dropLock the lock file is unlinked after fn succeeds, before the
// flock is released.
func (s *Store) withLock(tenant string, dropLock bool, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockPath := s.path(tenant) + lockExt
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	if err := fn(); err != nil {
		return err
	}
	if dropLock {
		if err := os.Remove(lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Debug("remove lock file", "path", lockPath, "error", err)
		}
	}
	return nil
}

// writeAtomic writes data to a temp file, fsyncs it, and renames it over
// path. On any error the temp file is removed.
func (s *Store) writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to credentials: %w", err)
	}
	return nil
}

// Compile-time interface verification.
var _ credential.Store = (*Store)(nil)
