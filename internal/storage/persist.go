package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// quarantineLayout is the timestamp suffix of quarantined session files.
const quarantineLayout = "20060102150405"

// fileMode is the permission of session and export files.
const fileMode = 0o644

// Persister loads and saves session files under a cross-process lock.
// It holds no session state of its own.
type Persister struct {
	codec       *Codec
	lockTimeout time.Duration
	logger      *log.Logger
	now         func() time.Time
}

// NewPersister returns a Persister. A non-positive lockTimeout falls back to
// DefaultLockTimeout; a nil logger to log.Default().
func NewPersister(codec *Codec, lockTimeout time.Duration, logger *log.Logger) *Persister {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Persister{
		codec:       codec,
		lockTimeout: lockTimeout,
		logger:      logger,
		now:         time.Now,
	}
}

// Load reads the session at path. A missing file yields an empty session.
// A corrupt file is renamed aside to <path>.bak.<timestamp> and an empty
// session is returned; corruption is never reported as an error.
func (p *Persister) Load(path string) (Session, error) {
	var session Session
	err := p.withLock(path, func() error {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read session file: %w", err)
		}

		decoded, err := p.codec.Decode(data)
		if err == nil {
			session = decoded
			return nil
		}

		backup, qerr := p.quarantine(path)
		if qerr != nil {
			return fmt.Errorf("failed to quarantine corrupt session file: %w", qerr)
		}
		p.logger.Warn("quarantined corrupt session file", "path", path, "backup", backup, "err", err)
		return nil
	})
	if err != nil {
		return Session{}, err
	}

	p.logger.Debug("loaded session", "path", path, "thoughts", session.Len())
	return session, nil
}

// ReadStrict reads a session file for import. Unlike Load, a missing file is
// an error and a corrupt file is reported as *CorruptionError and left alone.
func (p *Persister) ReadStrict(path string) (Session, error) {
	var session Session
	err := p.withLock(path, func() error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read session file: %w", err)
		}

		decoded, err := p.codec.Decode(data)
		if err != nil {
			var cerr *CorruptionError
			if errors.As(err, &cerr) {
				cerr.Path = path
			}
			return err
		}
		session = decoded
		return nil
	})
	return session, err
}

// Save writes s to path, replacing any previous content atomically.
// LastUpdated is stamped with the save time.
func (p *Persister) Save(path string, s Session) error {
	s.LastUpdated = p.now().UTC()
	data, err := p.codec.Encode(s)
	if err != nil {
		return err
	}

	err = p.withLock(path, func() error {
		return writeFileAtomic(path, data)
	})
	if err != nil {
		return err
	}

	p.logger.Debug("saved session", "path", path, "thoughts", s.Len())
	return nil
}

// Export writes s to path in export format, with per-stage counts and the
// export timestamp.
func (p *Persister) Export(path string, s Session) error {
	now := p.now().UTC()
	s.LastUpdated = now
	data, err := p.codec.EncodeExport(s, now)
	if err != nil {
		return err
	}

	return p.withLock(path, func() error {
		return writeFileAtomic(path, data)
	})
}

func (p *Persister) withLock(path string, fn func() error) error {
	lock := NewFileLock(LockPath(path))
	if err := lock.Acquire(p.lockTimeout); err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			p.logger.Warn("failed to release session lock", "path", lock.Path(), "err", err)
		}
	}()
	return fn()
}

func (p *Persister) quarantine(path string) (string, error) {
	base := path + ".bak." + p.now().Format(quarantineLayout)
	backup := base
	for i := 1; ; i++ {
		_, err := os.Lstat(backup)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return "", err
		}
		backup = fmt.Sprintf("%s-%d", base, i)
	}

	if err := os.Rename(path, backup); err != nil {
		return "", err
	}
	return backup, nil
}

// writeFileAtomic writes data to a temp file beside path, syncs it, and
// renames it over path. The result has fileMode permissions.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set session file mode: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close session file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	success = true
	return nil
}
