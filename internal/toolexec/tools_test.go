package toolexec

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/davidkarpay/agentrt/internal/config"
)

func newTestExecutor(t *testing.T, allowedDirs ...string) (*Executor, string) {
	t.Helper()
	work := t.TempDir()
	if len(allowedDirs) == 0 {
		allowedDirs = []string{work}
	}
	fileOps := config.FileOpsPolicy{
		AllowRead:          true,
		AllowWrite:         true,
		AllowEdit:          true,
		MaxFileSizeKB:      64,
		AllowedDirectories: allowedDirs,
		BackupBeforeEdit:   true,
	}
	toolPolicy := config.ToolPolicy{
		SafeCommands:          []string{"echo", "ls", "cat", "false"},
		DeniedCommands:        []string{"rm"},
		DefaultTimeoutSeconds: 5,
	}
	return New(work, fileOps, toolPolicy, nil), work
}

func TestReadFileTool_ExistingFile(t *testing.T) {
	e, work := newTestExecutor(t)
	path := filepath.Join(work, "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	res := e.ReadFileTool(path)
	if !res.Success || res.Stdout != "hello" {
		t.Fatalf("got %+v", res)
	}
}

func TestReadFileTool_PathTraversalBlocked(t *testing.T) {
	e, work := newTestExecutor(t)
	res := e.ReadFileTool(filepath.Join(work, "..", "..", "etc", "passwd"))
	if res.Success || res.Error != "not in allowed directories" {
		t.Fatalf("expected containment rejection, got %+v", res)
	}
}

func TestReadFileTool_FileTooLarge(t *testing.T) {
	e, work := newTestExecutor(t)
	path := filepath.Join(work, "big.txt")
	big := make([]byte, 128*1024)
	if err := os.WriteFile(path, big, 0644); err != nil {
		t.Fatal(err)
	}
	res := e.ReadFileTool(path)
	if res.Success || res.Error != "file too large" {
		t.Fatalf("expected file too large, got %+v", res)
	}
}

func TestReadFileTool_NotExist(t *testing.T) {
	e, work := newTestExecutor(t)
	res := e.ReadFileTool(filepath.Join(work, "missing.txt"))
	if res.Success || res.Error != "file does not exist" {
		t.Fatalf("got %+v", res)
	}
}

func TestExecuteBash_DangerousCommandBlocked(t *testing.T) {
	e, _ := newTestExecutor(t)
	res := e.ExecuteBash(context.Background(), "rm -rf /", "", 5)
	if res.Success || res.Error != "command not permitted" {
		t.Fatalf("expected rejection, got %+v", res)
	}
}

func TestExecuteBash_SafeCommandSucceeds(t *testing.T) {
	e, _ := newTestExecutor(t)
	res := e.ExecuteBash(context.Background(), "echo hi", "", 5)
	if !res.Success || res.ReturnCode != 0 {
		t.Fatalf("expected success, got %+v", res)
	}
}

func TestExecuteBash_UnsafeFirstToken(t *testing.T) {
	e, _ := newTestExecutor(t)
	res := e.ExecuteBash(context.Background(), "curl http://example.com", "", 5)
	if res.Success || res.Error != "command not permitted" {
		t.Fatalf("got %+v", res)
	}
}

func TestExecuteBash_MetacharRejected(t *testing.T) {
	e, _ := newTestExecutor(t)
	res := e.ExecuteBash(context.Background(), "echo hi; rm -rf /", "", 5)
	if res.Success {
		t.Fatalf("expected metacharacter rejection, got %+v", res)
	}
}

func TestWriteFileTool_AtomicAndOverwriteGuard(t *testing.T) {
	e, work := newTestExecutor(t)
	path := filepath.Join(work, "out.txt")

	res := e.WriteFileTool(path, "x", false)
	if !res.Success {
		t.Fatalf("expected first write to succeed: %+v", res)
	}

	res = e.WriteFileTool(path, "y", false)
	if res.Success {
		t.Fatalf("expected overwrite=false to fail on existing file")
	}

	res = e.WriteFileTool(path, "y", true)
	if !res.Success {
		t.Fatalf("expected overwrite=true to succeed: %+v", res)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "y" {
		t.Fatalf("got content %q", data)
	}
}

func TestEditFileTool_BackupAndReplace(t *testing.T) {
	e, work := newTestExecutor(t)
	path := filepath.Join(work, "edit.txt")
	os.WriteFile(path, []byte("old value"), 0644)

	res := e.EditFileTool(path, "old", "new")
	if !res.Success {
		t.Fatalf("expected edit to succeed: %+v", res)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "new value" {
		t.Fatalf("got %q", data)
	}
	backup, err := os.ReadFile(path + ".backup")
	if err != nil || string(backup) != "old value" {
		t.Fatalf("expected backup with original content, got %q err=%v", backup, err)
	}
}

func TestEditFileTool_FindNotPresent(t *testing.T) {
	e, work := newTestExecutor(t)
	path := filepath.Join(work, "edit2.txt")
	os.WriteFile(path, []byte("content"), 0644)

	res := e.EditFileTool(path, "missing", "x")
	if res.Success {
		t.Fatalf("expected failure when find text absent")
	}
}

func TestListFilesTool_Pattern(t *testing.T) {
	e, work := newTestExecutor(t)
	os.WriteFile(filepath.Join(work, "a.txt"), []byte("1"), 0644)
	os.WriteFile(filepath.Join(work, "b.md"), []byte("2"), 0644)

	res := e.ListFilesTool(work, "*.txt")
	if !res.Success || res.Stdout != "a.txt" {
		t.Fatalf("got %+v", res)
	}
}

func TestExecuteBash_Timeout(t *testing.T) {
	fileOps := config.FileOpsPolicy{AllowedDirectories: []string{"/"}}
	toolPolicy := config.ToolPolicy{SafeCommands: []string{"sleep"}, DefaultTimeoutSeconds: 1}
	e := New(t.TempDir(), fileOps, toolPolicy, nil)
	res := e.ExecuteBash(context.Background(), "sleep 5", "", 1)
	if res.Success {
		t.Fatalf("expected timeout failure")
	}
}
