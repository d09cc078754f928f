package sandbox

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testSpec(t *testing.T, command string, args ...string) Spec {
	t.Helper()
	dir := t.TempDir()
	return Spec{
		AgentID: "agent-1",
		Command: command,
		Args:    args,
		Mounts: Mounts{
			SharedPath:  dir,
			UserPath:    dir,
			ScratchPath: dir,
		},
		Limits: DefaultLimits(),
	}
}

func TestSubprocessSpawnStdioRoundTrip(t *testing.T) {
	spec := testSpec(t, "cat")
	backend := NewSubprocessBackend()

	proc, err := backend.Spawn(context.Background(), spec)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if _, err := proc.Stdin.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write stdin: %v", err)
	}
	proc.Stdin.Close()

	scanner := bufio.NewScanner(proc.Stdout)
	if !scanner.Scan() {
		t.Fatalf("expected output line, got none: %v", scanner.Err())
	}
	if got := scanner.Text(); got != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}

	result, err := proc.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result.Code != 0 || result.TimedOut {
		t.Fatalf("unexpected exit result: %+v", result)
	}
}

func TestSubprocessSpawnTimeoutKillsProcess(t *testing.T) {
	spec := testSpec(t, "sleep", "10")
	spec.Limits.Timeout = 50 * time.Millisecond
	backend := NewSubprocessBackend()

	proc, err := backend.Spawn(context.Background(), spec)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	result, err := proc.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !result.TimedOut {
		t.Fatalf("expected TimedOut, got %+v", result)
	}
}

func TestSubprocessExitCodeMapping(t *testing.T) {
	spec := testSpec(t, "sh", "-c", "exit 7")
	backend := NewSubprocessBackend()

	proc, err := backend.Spawn(context.Background(), spec)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	result, err := proc.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result.Code != 7 || result.TimedOut {
		t.Fatalf("unexpected exit result: %+v", result)
	}
}

func TestKillIsSafeAfterNaturalExit(t *testing.T) {
	spec := testSpec(t, "true")
	backend := NewSubprocessBackend()

	proc, err := backend.Spawn(context.Background(), spec)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if _, err := proc.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if err := proc.Kill(); err != nil {
		t.Fatalf("Kill after natural exit should be safe, got: %v", err)
	}
}

func TestManagerSelectsFirstAvailableBackend(t *testing.T) {
	mgr := NewManager(&unavailableBackend{}, NewSubprocessBackend())
	b, err := mgr.Select(context.Background())
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if b.Name() != "subprocess" {
		t.Fatalf("got backend %q, want subprocess", b.Name())
	}
}

func TestManagerForcedBackendUnavailableErrors(t *testing.T) {
	mgr := NewManager(&unavailableBackend{})
	mgr.Forced = "unavailable"
	if _, err := mgr.Select(context.Background()); err == nil {
		t.Fatalf("expected error selecting a forced unavailable backend")
	}
}

func TestManagerSpawnUsesSelectedBackend(t *testing.T) {
	mgr := NewManager(NewSubprocessBackend())
	spec := testSpec(t, "true")
	proc, backend, err := mgr.Spawn(context.Background(), spec)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if backend.Name() != "subprocess" {
		t.Fatalf("got backend %q, want subprocess", backend.Name())
	}
	if _, err := proc.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestScratchDirIsCommandWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	spec := Spec{
		Command: "sh",
		Args:    []string{"-c", "pwd"},
		Mounts:  Mounts{SharedPath: dir, UserPath: dir, ScratchPath: dir},
		Limits:  DefaultLimits(),
	}
	backend := NewSubprocessBackend()
	proc, err := backend.Spawn(context.Background(), spec)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	scanner := bufio.NewScanner(proc.Stdout)
	if !scanner.Scan() {
		t.Fatalf("expected pwd output")
	}
	want, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(scanner.Text())
	if got != want {
		t.Fatalf("got cwd %q, want %q", got, want)
	}
	proc.Wait(context.Background())
}

type unavailableBackend struct{}

func (unavailableBackend) Name() string                          { return "unavailable" }
func (unavailableBackend) IsAvailable(ctx context.Context) bool   { return false }
func (unavailableBackend) Spawn(ctx context.Context, s Spec) (*Process, error) {
	return nil, os.ErrInvalid
}
