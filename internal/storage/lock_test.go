package storage_test

import (
	"bufio"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/mfenderov/seqthink/internal/storage"
)

func TestFileLock_AcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json.lock")

	lock := storage.NewFileLock(path)
	if err := lock.Acquire(time.Second); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op: %v", err)
	}

	// The lock file stays in place.
	if _, err := os.Stat(path); err != nil {
		t.Errorf("lock file missing after release: %v", err)
	}
}

func TestFileLock_Contention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json.lock")

	first := storage.NewFileLock(path)
	if err := first.Acquire(time.Second); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	second := storage.NewFileLock(path)
	err := second.Acquire(50 * time.Millisecond)
	if !errors.Is(err, storage.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}

	released := make(chan error, 1)
	go func() {
		time.Sleep(50 * time.Millisecond)
		released <- first.Release()
	}()

	if err := second.Acquire(2 * time.Second); err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	if err := <-released; err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	second.Release()
}

func TestFileLock_CrossProcess(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a child process")
	}
	path := filepath.Join(t.TempDir(), "session.json.lock")

	cmd := exec.Command(os.Args[0], "-test.run=^TestLockHelperProcess$")
	cmd.Env = append(os.Environ(), "SEQTHINK_LOCK_HELPER=1", "SEQTHINK_LOCK_PATH="+path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.Fatal(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start helper: %v", err)
	}

	line, err := bufio.NewReader(stdout).ReadString('\n')
	if err != nil || line != "locked\n" {
		stdin.Close()
		cmd.Wait()
		t.Fatalf("helper did not report lock: %q, %v", line, err)
	}

	lock := storage.NewFileLock(path)
	if err := lock.Acquire(100 * time.Millisecond); !errors.Is(err, storage.ErrLockTimeout) {
		t.Errorf("expected lock held by child, got %v", err)
	}

	stdin.Close()
	if err := cmd.Wait(); err != nil {
		t.Fatalf("helper failed: %v", err)
	}

	if err := lock.Acquire(time.Second); err != nil {
		t.Fatalf("Acquire after child exit failed: %v", err)
	}
	lock.Release()
}

// TestLockHelperProcess holds the lock for TestFileLock_CrossProcess until
// its stdin is closed.
func TestLockHelperProcess(t *testing.T) {
	if os.Getenv("SEQTHINK_LOCK_HELPER") != "1" {
		return
	}

	lock := storage.NewFileLock(os.Getenv("SEQTHINK_LOCK_PATH"))
	if err := lock.Acquire(5 * time.Second); err != nil {
		os.Exit(2)
	}
	os.Stdout.WriteString("locked\n")
	bufio.NewReader(os.Stdin).ReadString('\n')
	lock.Release()
	os.Exit(0)
}
