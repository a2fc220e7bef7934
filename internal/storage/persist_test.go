package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mfenderov/seqthink/internal/thought"
)

func newTestPersister(t *testing.T, now time.Time) *Persister {
	t.Helper()
	logger := log.NewWithOptions(os.Stderr, log.Options{Level: log.ErrorLevel})
	p := NewPersister(NewCodec(thought.DefaultStages()), 100*time.Millisecond, logger)
	p.now = func() time.Time { return now }
	return p
}

func testThought(t *testing.T, text string) thought.Thought {
	t.Helper()
	th, err := thought.New(thought.Fields{
		Text:   text,
		Number: 1,
		Total:  1,
		Stage:  "Analysis",
	}, thought.DefaultStages())
	if err != nil {
		t.Fatalf("failed to build thought: %v", err)
	}
	return th
}

func TestPersister_LoadMissingFile(t *testing.T) {
	p := newTestPersister(t, time.Now())
	path := filepath.Join(t.TempDir(), "current_session.json")

	s, err := p.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty session, got %d", s.Len())
	}
	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Load must not create the session file, stat err = %v", err)
	}
}

func TestPersister_SaveAndLoad(t *testing.T) {
	now := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	p := newTestPersister(t, now)
	path := filepath.Join(t.TempDir(), "current_session.json")

	th := testThought(t, "saved")
	if err := p.Save(path, Session{Thoughts: []thought.Thought{th}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	s, err := p.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Len() != 1 || s.Thoughts[0].ID != th.ID {
		t.Fatalf("unexpected session: %+v", s.Thoughts)
	}
	if !s.LastUpdated.Equal(now) {
		t.Errorf("expected lastUpdated %s, got %s", now, s.LastUpdated)
	}

	// No temp files are left behind.
	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".current_session.json.tmp-*"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestPersister_LoadQuarantinesCorruptFile(t *testing.T) {
	now := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	p := newTestPersister(t, now)
	path := filepath.Join(t.TempDir(), "current_session.json")

	corrupt := []byte("{definitely not json")
	if err := os.WriteFile(path, corrupt, 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := p.Load(path)
	if err != nil {
		t.Fatalf("Load must not fail on corruption: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty session, got %d", s.Len())
	}

	backup := path + ".bak.20240304050607"
	data, err := os.ReadFile(backup)
	if err != nil {
		t.Fatalf("expected quarantined file at %s: %v", backup, err)
	}
	if string(data) != string(corrupt) {
		t.Errorf("quarantined content changed: %q", data)
	}
	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("corrupt file should have been moved, stat err = %v", err)
	}
}

func TestPersister_QuarantineCollision(t *testing.T) {
	now := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	p := newTestPersister(t, now)
	path := filepath.Join(t.TempDir(), "current_session.json")

	for i := 0; i < 2; i++ {
		if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := p.Load(path); err != nil {
			t.Fatalf("Load %d failed: %v", i, err)
		}
	}

	for _, want := range []string{path + ".bak.20240304050607", path + ".bak.20240304050607-1"} {
		if _, err := os.Stat(want); err != nil {
			t.Errorf("expected backup %s: %v", want, err)
		}
	}
}

func TestPersister_QuarantineStatError(t *testing.T) {
	p := newTestPersister(t, time.Now())

	// The parent of path is a regular file, so every Lstat fails with ENOTDIR.
	parent := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(parent, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	backup, err := p.quarantine(filepath.Join(parent, "current_session.json"))
	if err == nil {
		t.Fatalf("expected error, got backup %s", backup)
	}
	if errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected a non-missing error, got %v", err)
	}
}

func TestPersister_FileMode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	p := newTestPersister(t, time.Now())
	dir := t.TempDir()
	session := Session{Thoughts: []thought.Thought{testThought(t, "mode")}}

	tests := []struct {
		name  string
		path  string
		write func(path string) error
	}{
		{"save", filepath.Join(dir, "current_session.json"), func(path string) error { return p.Save(path, session) }},
		{"export", filepath.Join(dir, "export.json"), func(path string) error { return p.Export(path, session) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.write(tt.path); err != nil {
				t.Fatalf("write failed: %v", err)
			}
			info, err := os.Stat(tt.path)
			if err != nil {
				t.Fatal(err)
			}
			if got := info.Mode().Perm(); got != 0o644 {
				t.Errorf("expected mode 0644, got %#o", got)
			}
		})
	}
}

func TestPersister_ReadStrict(t *testing.T) {
	p := newTestPersister(t, time.Now())
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := p.ReadStrict(filepath.Join(dir, "missing.json"))
		if !errors.Is(err, fs.ErrNotExist) {
			t.Fatalf("expected not-exist error, got %v", err)
		}
	})

	t.Run("corrupt file is reported and kept", func(t *testing.T) {
		path := filepath.Join(dir, "corrupt.json")
		if err := os.WriteFile(path, []byte(`{"thoughts": 7}`), 0o644); err != nil {
			t.Fatal(err)
		}

		_, err := p.ReadStrict(path)
		var cerr *CorruptionError
		if !errors.As(err, &cerr) {
			t.Fatalf("expected *CorruptionError, got %v", err)
		}
		if cerr.Path != path {
			t.Errorf("expected path %s in error, got %s", path, cerr.Path)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("ReadStrict must not move the file: %v", err)
		}
	})

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(dir, "valid.json")
		if err := p.Save(path, Session{Thoughts: []thought.Thought{testThought(t, "valid")}}); err != nil {
			t.Fatal(err)
		}
		s, err := p.ReadStrict(path)
		if err != nil {
			t.Fatalf("ReadStrict failed: %v", err)
		}
		if s.Len() != 1 {
			t.Errorf("expected 1 thought, got %d", s.Len())
		}
	})
}

func TestPersister_SaveLockTimeout(t *testing.T) {
	p := newTestPersister(t, time.Now())
	path := filepath.Join(t.TempDir(), "current_session.json")

	holder := NewFileLock(LockPath(path))
	if err := holder.Acquire(time.Second); err != nil {
		t.Fatalf("failed to hold lock: %v", err)
	}
	defer holder.Release()

	err := p.Save(path, Session{Thoughts: []thought.Thought{testThought(t, "blocked")}})
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}

	var lerr *LockTimeoutError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected *LockTimeoutError, got %T", err)
	}
	if !lerr.Retryable() {
		t.Error("lock timeouts should be retryable")
	}
	if lerr.Attempts < 1 || lerr.Waited < lerr.Timeout {
		t.Errorf("unexpected timeout details: %+v", lerr)
	}
	if !strings.Contains(lerr.Error(), LockPath(path)) {
		t.Errorf("error should name the lock path: %s", lerr.Error())
	}
	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		t.Error("session file must not be written without the lock")
	}
}

func TestPersister_Export(t *testing.T) {
	now := time.Date(2024, 7, 8, 9, 10, 11, 0, time.UTC)
	p := newTestPersister(t, now)
	path := filepath.Join(t.TempDir(), "export.json")

	if err := p.Export(path, Session{Thoughts: []thought.Thought{testThought(t, "exported")}}); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"exportedAt": "2024-07-08T09:10:11Z"`, `"totalThoughts": 1`, `"Analysis": 1`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("export missing %s:\n%s", want, data)
		}
	}
}
