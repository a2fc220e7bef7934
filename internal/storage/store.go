package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mfenderov/seqthink/internal/thought"
)

// Archiver keeps sessions that are about to be discarded.
type Archiver interface {
	ArchiveSession(reason string, thoughts []thought.Thought) (int64, error)
}

// Archive reasons recorded by the store.
const (
	ReasonClear   = "clear"
	ReasonImport  = "import"
	ReasonRestore = "restore"
)

// Store owns the in-memory session and writes it through to disk on every
// mutation. All operations are serialized by one mutex.
type Store struct {
	mu        sync.Mutex
	path      string
	session   Session
	stages    thought.Stages
	persister *Persister
	archiver  Archiver
	logger    *log.Logger
}

// Option configures a Store.
type Option func(*storeOptions)

type storeOptions struct {
	stages      thought.Stages
	lockTimeout time.Duration
	logger      *log.Logger
	archiver    Archiver
}

// WithStages sets the closed stage set. Defaults to thought.DefaultStages.
func WithStages(stages thought.Stages) Option {
	return func(o *storeOptions) { o.stages = stages }
}

// WithLockTimeout sets the file lock timeout. Defaults to DefaultLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(o *storeOptions) { o.lockTimeout = d }
}

// WithLogger sets the logger. Defaults to log.Default().
func WithLogger(logger *log.Logger) Option {
	return func(o *storeOptions) { o.logger = logger }
}

// WithArchiver keeps sessions removed by Clear, Import and Restore.
func WithArchiver(a Archiver) Option {
	return func(o *storeOptions) { o.archiver = a }
}

// Open creates a Store backed by the session file at path, loading any
// existing session. A corrupt file is quarantined and an empty session used.
func Open(path string, opts ...Option) (*Store, error) {
	o := storeOptions{
		stages:      thought.DefaultStages(),
		lockTimeout: DefaultLockTimeout,
		logger:      log.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	persister := NewPersister(NewCodec(o.stages), o.lockTimeout, o.logger)
	session, err := persister.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	return &Store{
		path:      path,
		session:   session,
		stages:    o.stages,
		persister: persister,
		archiver:  o.archiver,
		logger:    o.logger,
	}, nil
}

// Path returns the working session file.
func (s *Store) Path() string {
	return s.path
}

// Stages returns the stage set thoughts are validated against.
func (s *Store) Stages() thought.Stages {
	return s.stages
}

// Add validates t, appends it and persists the session. An invalid thought
// is rejected and the session left unchanged. When Add returns nil the
// thought is durable. On a persistence error the thought stays in memory
// only.
func (s *Store) Add(t thought.Thought) error {
	checked, err := thought.Validate(t, s.stages)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.session.Thoughts = append(s.session.Thoughts, checked)
	return s.persistLocked()
}

// All returns an independent copy of every thought, in insertion order.
func (s *Store) All() []thought.Thought {
	s.mu.Lock()
	defer s.mu.Unlock()

	return thought.CloneAll(s.session.Thoughts)
}

// ByStage returns copies of the thoughts in stage. The stage name is matched
// case-insensitively; an unknown stage yields nothing.
func (s *Store) ByStage(stage thought.Stage) []thought.Thought {
	stage, err := s.stages.Parse(string(stage))
	if err != nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []thought.Thought
	for _, t := range s.session.Thoughts {
		if t.Stage == stage {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Len returns the number of thoughts in the session.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.session.Len()
}

// Clear removes every thought and persists the empty session.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.archiveLocked(ReasonClear)
	s.session.Thoughts = nil
	return s.persistLocked()
}

// Export writes the current session to path in export format.
func (s *Store) Export(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persister.Export(path, s.session.clone()); err != nil {
		return fmt.Errorf("failed to export session: %w", err)
	}
	s.logger.Info("exported session", "path", path, "thoughts", s.session.Len())
	return nil
}

// Import replaces the session with the one stored at path and persists it
// to the working file. Import is not additive.
func (s *Store) Import(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	imported, err := s.persister.ReadStrict(path)
	if err != nil {
		return fmt.Errorf("failed to import session: %w", err)
	}

	s.archiveLocked(ReasonImport)
	s.session.Thoughts = imported.Thoughts
	if err := s.persistLocked(); err != nil {
		return err
	}
	s.logger.Info("imported session", "path", path, "thoughts", len(imported.Thoughts))
	return nil
}

// Restore replaces the session with thoughts, typically read back from an
// archive, and persists it. If any thought is invalid nothing is replaced.
func (s *Store) Restore(thoughts []thought.Thought) error {
	checked := make([]thought.Thought, 0, len(thoughts))
	for i, t := range thoughts {
		c, err := thought.Validate(t, s.stages)
		if err != nil {
			return fmt.Errorf("failed to restore thought %d: %w", i, err)
		}
		checked = append(checked, c)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.archiveLocked(ReasonRestore)
	s.session.Thoughts = checked
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	if err := s.persister.Save(s.path, s.session); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

// archiveLocked hands the outgoing session to the archiver. Failures are
// logged and do not block the mutation.
func (s *Store) archiveLocked(reason string) {
	if s.archiver == nil || s.session.Len() == 0 {
		return
	}
	id, err := s.archiver.ArchiveSession(reason, thought.CloneAll(s.session.Thoughts))
	if err != nil {
		s.logger.Warn("failed to archive session", "reason", reason, "err", err)
		return
	}
	s.logger.Info("archived session", "id", id, "reason", reason, "thoughts", s.session.Len())
}
