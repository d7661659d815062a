package agent

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewCommandExecutorRequiresCommand(t *testing.T) {
	t.Parallel()

	if _, err := NewCommandExecutor(CommandConfig{}, testLogger()); err == nil {
		t.Fatal("expected error for empty command")
	}
	if _, err := NewCommandExecutor(CommandConfig{Command: []string{"cat"}}, testLogger()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCommandExecutorStreamsStdout(t *testing.T) {
	t.Parallel()

	// cat echoes the prompt back, exercising stdin wiring and line streaming.
	exec, err := NewCommandExecutor(CommandConfig{Command: []string{"cat"}}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var lines []string
	err = exec.Run(context.Background(), RunRequest{
		RunID:          "run-1",
		ConversationID: "conv-1",
		Workspace:      t.TempDir(),
		Message:        "line one\nline two",
		OnOutput: func(line string) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 2 || lines[0] != "line one" || lines[1] != "line two" {
		t.Errorf("lines = %v", lines)
	}
}

func TestCommandExecutorEnvironment(t *testing.T) {
	t.Parallel()

	exec, err := NewCommandExecutor(CommandConfig{
		Command: []string{"sh", "-c", "echo $LOOPCLAW_CONVERSATION_ID $LOOPCLAW_RUN_ID $LOOPCLAW_APPROVALS $EXTRA"},
		Env:     []string{"EXTRA=custom"},
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	var out string
	err = exec.Run(context.Background(), RunRequest{
		RunID:            "run-9",
		ConversationID:   "conv-9",
		Workspace:        t.TempDir(),
		Message:          "",
		DisableApprovals: true,
		OnOutput:         func(line string) { out = line },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "conv-9 run-9 disabled custom" {
		t.Errorf("env line = %q", out)
	}
}

func TestCommandExecutorFailureCarriesStderr(t *testing.T) {
	t.Parallel()

	exec, err := NewCommandExecutor(CommandConfig{
		Command: []string{"sh", "-c", "echo boom >&2; exit 3"},
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	err = exec.Run(context.Background(), RunRequest{
		RunID:          "run-1",
		ConversationID: "conv-1",
		Workspace:      t.TempDir(),
	})
	if err == nil {
		t.Fatal("expected failure")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error = %v, want stderr tail", err)
	}
}

func TestCommandExecutorHonorsCancel(t *testing.T) {
	t.Parallel()

	exec, err := NewCommandExecutor(CommandConfig{Command: []string{"sleep", "30"}}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- exec.Run(ctx, RunRequest{
			RunID:          "run-1",
			ConversationID: "conv-1",
			Workspace:      t.TempDir(),
		})
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("cancelled run returned nil")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not terminate after cancel")
	}
}

func TestCommandExecutorMissingWorkspace(t *testing.T) {
	t.Parallel()

	exec, err := NewCommandExecutor(CommandConfig{Command: []string{"cat"}}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	if err := exec.Run(context.Background(), RunRequest{ConversationID: "c"}); err == nil {
		t.Error("expected error for empty workspace")
	}
	if err := exec.Run(context.Background(), RunRequest{
		ConversationID: "c",
		Workspace:      "/nonexistent/workspace/path",
	}); err == nil {
		t.Error("expected error for missing workspace directory")
	}
}

func TestTail(t *testing.T) {
	t.Parallel()

	if got := tail("short", 500); got != "short" {
		t.Errorf("tail = %q", got)
	}
	long := strings.Repeat("a", 100) + "END"
	got := tail(long, 10)
	if !strings.HasSuffix(got, "END") || len(got) > 11+len("…") {
		t.Errorf("tail = %q", got)
	}
}
