package integration_test

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/mfenderov/seqthink/internal/analysis"
	"github.com/mfenderov/seqthink/internal/archive"
	"github.com/mfenderov/seqthink/internal/mcp"
	"github.com/mfenderov/seqthink/internal/storage"
	"github.com/mfenderov/seqthink/internal/thought"
)

var quiet = log.NewWithOptions(os.Stderr, log.Options{Level: log.FatalLevel})

type stack struct {
	path    string
	store   *storage.Store
	archive *archive.Archive
	handler *mcp.Handler
}

// newStack wires store, archive and MCP handler the way the server does.
func newStack(t testing.TB, dir string, opts ...storage.Option) *stack {
	t.Helper()

	a, err := archive.Open(filepath.Join(dir, "archive.db"), archive.WithLogger(quiet))
	if err != nil {
		t.Fatalf("archive.Open failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	path := filepath.Join(dir, "current_session.json")
	opts = append([]storage.Option{storage.WithLogger(quiet), storage.WithArchiver(a)}, opts...)
	store, err := storage.Open(path, opts...)
	if err != nil {
		t.Fatalf("storage.Open failed: %v", err)
	}

	return &stack{
		path:    path,
		store:   store,
		archive: a,
		handler: mcp.NewHandler(store).WithArchive(a).WithLogger(quiet),
	}
}

func (s *stack) call(t testing.TB, tool string, args any) *mcp.ToolCallResult {
	t.Helper()
	data, err := json.Marshal(args)
	if err != nil {
		t.Fatal(err)
	}
	result, err := s.handler.CallTool(tool, data)
	if err != nil {
		t.Fatalf("%s failed: %v", tool, err)
	}
	return result
}

func thoughtArgs(text string, number, total int, stage string, tags ...string) map[string]any {
	return map[string]any{
		"thought":           text,
		"thoughtNumber":     number,
		"totalThoughts":     total,
		"nextThoughtNeeded": number < total,
		"stage":             stage,
		"tags":              tags,
	}
}

// TestWorkflow_FullSessionLifecycle walks one reasoning session through every
// stage, then exports it, clears it and brings it back.
func TestWorkflow_FullSessionLifecycle(t *testing.T) {
	s := newStack(t, t.TempDir())

	steps := []struct {
		stage string
		text  string
		tags  []string
	}{
		{"Problem Definition", "Why are builds slow?", []string{"build", "ci"}},
		{"Research", "Profile the CI pipeline", []string{"ci", "profiling"}},
		{"Analysis", "Dependency download dominates", []string{"ci", "cache"}},
		{"Synthesis", "Cache modules between runs", []string{"cache"}},
		{"Conclusion", "Enable module cache in CI", []string{"ci"}},
	}

	for i, step := range steps {
		result := s.call(t, "process_thought", thoughtArgs(step.text, i+1, len(steps), step.stage, step.tags...))
		if result.IsError {
			t.Fatalf("step %d failed: %s", i+1, result.Content[0].Text)
		}
	}

	// === Verify summary ===

	var summary struct {
		Summary analysis.Summary `json:"summary"`
	}
	result := s.call(t, "generate_summary", map[string]any{})
	if err := json.Unmarshal([]byte(result.Content[0].Text), &summary); err != nil {
		t.Fatalf("summary is not JSON: %v", err)
	}
	if summary.Summary.TotalThoughts != 5 {
		t.Errorf("expected 5 thoughts, got %d", summary.Summary.TotalThoughts)
	}
	if !summary.Summary.CompletionStatus.HasAllStages {
		t.Error("expected every stage to be covered")
	}
	if summary.Summary.CompletionStatus.PercentComplete != 100 {
		t.Errorf("expected 100%% complete, got %v", summary.Summary.CompletionStatus.PercentComplete)
	}
	if len(summary.Summary.TopTags) == 0 || summary.Summary.TopTags[0].Tag != "ci" {
		t.Errorf("expected ci as top tag, got %+v", summary.Summary.TopTags)
	}

	// === Export, clear, import ===

	original := s.store.All()
	exportPath := filepath.Join(t.TempDir(), "session-export.json")
	if r := s.call(t, "export_session", map[string]string{"filePath": exportPath}); r.IsError {
		t.Fatalf("export failed: %s", r.Content[0].Text)
	}
	if r := s.call(t, "clear_history", map[string]any{}); r.IsError {
		t.Fatalf("clear failed: %s", r.Content[0].Text)
	}

	// A second process would see the cleared file.
	other, err := storage.Open(s.path, storage.WithLogger(quiet))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if other.Len() != 0 {
		t.Errorf("expected cleared session on disk, got %d", other.Len())
	}

	if r := s.call(t, "import_session", map[string]string{"filePath": exportPath}); r.IsError {
		t.Fatalf("import failed: %s", r.Content[0].Text)
	}
	assertSameThoughts(t, original, s.store.All())

	// === Archive holds the cleared session ===

	entries, err := s.archive.List(10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Reason != storage.ReasonClear || entries[0].ThoughtCount != 5 {
		t.Fatalf("unexpected archive entries: %+v", entries)
	}

	archived, err := s.archive.Thoughts(entries[0].ID, thought.DefaultStages())
	if err != nil {
		t.Fatalf("Thoughts failed: %v", err)
	}
	assertSameThoughts(t, original, archived)
}

// TestWorkflow_CorruptSessionRecovery starts from a damaged session file.
func TestWorkflow_CorruptSessionRecovery(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "current_session.json")
	if err := os.WriteFile(path, []byte(`{"thoughts": [{"thought": 42}]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	s := newStack(t, dir)
	if s.store.Len() != 0 {
		t.Fatalf("expected empty session after recovery, got %d", s.store.Len())
	}

	backups, _ := filepath.Glob(path + ".bak.*")
	if len(backups) != 1 {
		t.Fatalf("expected one quarantined file, got %v", backups)
	}

	if r := s.call(t, "process_thought", thoughtArgs("fresh start", 1, 1, "Research")); r.IsError {
		t.Fatalf("process_thought failed after recovery: %s", r.Content[0].Text)
	}
	reopened, err := storage.Open(path, storage.WithLogger(quiet))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if reopened.Len() != 1 {
		t.Errorf("expected 1 durable thought, got %d", reopened.Len())
	}
}

// TestWorkflow_ConcurrentToolCalls issues process_thought calls in parallel.
func TestWorkflow_ConcurrentToolCalls(t *testing.T) {
	s := newStack(t, t.TempDir())

	const calls = 25
	var g errgroup.Group
	for i := 1; i <= calls; i++ {
		i := i
		g.Go(func() error {
			data, _ := json.Marshal(thoughtArgs(fmt.Sprintf("parallel %d", i), i, calls, "Analysis"))
			result, err := s.handler.CallTool("process_thought", data)
			if err != nil {
				return err
			}
			if result.IsError {
				return fmt.Errorf("call %d failed: %s", i, result.Content[0].Text)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	reopened, err := storage.Open(s.path, storage.WithLogger(quiet))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if reopened.Len() != calls {
		t.Errorf("expected %d durable thoughts, got %d", calls, reopened.Len())
	}
}

// TestWorkflow_TwoStoresSharePath checks that two store instances on one file
// never leave it half-written.
func TestWorkflow_TwoStoresSharePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current_session.json")

	first, err := storage.Open(path, storage.WithLogger(quiet))
	if err != nil {
		t.Fatal(err)
	}
	second, err := storage.Open(path, storage.WithLogger(quiet))
	if err != nil {
		t.Fatal(err)
	}

	var g errgroup.Group
	for _, store := range []*storage.Store{first, second} {
		store := store
		g.Go(func() error {
			for i := 1; i <= 10; i++ {
				th, err := thought.New(thought.Fields{
					Text: "shared", Number: i, Total: 10, Stage: "Research",
				}, thought.DefaultStages())
				if err != nil {
					return err
				}
				if err := store.Add(th); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	codec := storage.NewCodec(thought.DefaultStages())
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	session, err := codec.Decode(data)
	if err != nil {
		t.Fatalf("session file is not a valid session: %v", err)
	}
	// Each store writes its own full state; the last writer wins.
	if session.Len() != 10 {
		t.Errorf("expected one store's 10 thoughts on disk, got %d", session.Len())
	}
}

// TestWorkflow_CrossProcessLock holds the session lock from a child process
// and checks that writes time out as retryable and succeed once released.
func TestWorkflow_CrossProcessLock(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a child process")
	}
	s := newStack(t, t.TempDir(), storage.WithLockTimeout(100*time.Millisecond))

	cmd := exec.Command(os.Args[0], "-test.run=^TestLockHolderProcess$")
	cmd.Env = append(os.Environ(), "SEQTHINK_HOLD_LOCK="+storage.LockPath(s.path))
	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.Fatal(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start lock holder: %v", err)
	}
	defer cmd.Wait()

	if line, err := bufio.NewReader(stdout).ReadString('\n'); err != nil || strings.TrimSpace(line) != "locked" {
		stdin.Close()
		t.Fatalf("lock holder did not start: %q, %v", line, err)
	}

	result := s.call(t, "process_thought", thoughtArgs("blocked", 1, 1, "Research"))
	if !result.IsError {
		stdin.Close()
		t.Fatal("expected lock timeout while another process holds the lock")
	}
	var failure mcp.FailureResult
	if err := json.Unmarshal([]byte(result.Content[0].Text), &failure); err != nil {
		t.Fatal(err)
	}
	if !failure.Retryable {
		t.Errorf("lock timeout should be retryable: %+v", failure)
	}

	stdin.Close()
	if err := cmd.Wait(); err != nil {
		t.Fatalf("lock holder failed: %v", err)
	}

	// The failed add stays in memory; the retry persists both.
	result = s.call(t, "process_thought", thoughtArgs("retried", 1, 1, "Research"))
	if result.IsError {
		t.Fatalf("retry failed: %s", result.Content[0].Text)
	}
	reopened, err := storage.Open(s.path, storage.WithLogger(quiet))
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Len() != 2 {
		t.Errorf("expected 2 durable thoughts, got %d", reopened.Len())
	}
}

// TestLockHolderProcess is the child side of TestWorkflow_CrossProcessLock.
func TestLockHolderProcess(t *testing.T) {
	path := os.Getenv("SEQTHINK_HOLD_LOCK")
	if path == "" {
		return
	}

	lock := storage.NewFileLock(path)
	if err := lock.Acquire(5 * time.Second); err != nil {
		os.Exit(2)
	}
	fmt.Println("locked")
	bufio.NewReader(os.Stdin).ReadString('\n')
	lock.Release()
	os.Exit(0)
}

// BenchmarkProcessThought benchmarks the add-and-analyze path.
func BenchmarkProcessThought(b *testing.B) {
	s := newStack(b, b.TempDir())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, _ := json.Marshal(thoughtArgs("benchmark thought", i+1, b.N, "Analysis", "bench"))
		if _, err := s.handler.CallTool("process_thought", data); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSummarize benchmarks summary generation over a large session.
func BenchmarkSummarize(b *testing.B) {
	stages := thought.DefaultStages()
	all := make([]thought.Thought, 0, 1000)
	for i := 0; i < 1000; i++ {
		th, err := thought.New(thought.Fields{
			Text:   "thought",
			Number: i + 1,
			Total:  1000,
			Stage:  string(stages[i%len(stages)]),
			Tags:   []string{"t" + string(rune('a'+i%26))},
		}, stages)
		if err != nil {
			b.Fatal(err)
		}
		all = append(all, th)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = analysis.Summarize(all, stages)
	}
}

func assertSameThoughts(t *testing.T, want, got []thought.Thought) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("expected %d thoughts, got %d", len(want), len(got))
	}
	for i := range want {
		w, g := want[i], got[i]
		if w.ID != g.ID || w.Text != g.Text || w.Number != g.Number || w.Stage != g.Stage ||
			strings.Join(w.Tags, ",") != strings.Join(g.Tags, ",") || !w.CreatedAt.Equal(g.CreatedAt) {
			t.Errorf("thought %d differs:\nwant %+v\n got %+v", i, w, g)
		}
	}
}
