// Package toolexec implements the sandboxed Tool Executor: bounded shell
// and script execution plus file operations, all mediated by path
// containment against a configured set of allowed directories.
package toolexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/agentkit/policy"

	"github.com/davidkarpay/agentrt/internal/config"
)

// maxCapturedOutput bounds stdout/stderr capture per invocation.
const maxCapturedOutput = 1 << 20 // 1 MiB

// Spec is one of the six enumerated tool operations.
type Spec string

const (
	ExecuteBash          Spec = "execute_bash"
	ExecutePythonScript  Spec = "execute_python_script"
	ReadFileTool         Spec = "read_file_tool"
	WriteFileTool        Spec = "write_file_tool"
	EditFileTool         Spec = "edit_file_tool"
	ListFilesTool        Spec = "list_files_tool"
)

// ValidSpec reports whether s is one of the enumerated ToolSpecs.
func ValidSpec(s Spec) bool {
	switch s {
	case ExecuteBash, ExecutePythonScript, ReadFileTool, WriteFileTool, EditFileTool, ListFilesTool:
		return true
	default:
		return false
	}
}

// Result is the outcome of any Tool Executor operation. No exception ever
// leaves the executor; every failure is surfaced through Success/Error.
type Result struct {
	Success    bool   `json:"success"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	ReturnCode int    `json:"return_code,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

func fail(start time.Time, msg string) Result {
	return Result{Success: false, Error: msg, DurationMs: time.Since(start).Milliseconds()}
}

// Executor mediates all shell, script, and file access against a
// FileOpsPolicy and ToolPolicy.
type Executor struct {
	cwd     string
	fileOps config.FileOpsPolicy
	tools   config.ToolPolicy
	log     *logging.Logger
}

// LoadPolicy loads an agentkit-native policy.toml from path, the same file
// format and loader the teacher uses for its own bash/file authorization. A
// missing file is not an error: it falls back to policy.New()'s defaults.
func LoadPolicy(path string) (*policy.Policy, error) {
	pol, err := policy.LoadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return policy.New(), nil
		}
		return nil, fmt.Errorf("toolexec: load policy: %w", err)
	}
	return pol, nil
}

// New constructs an Executor rooted at cwd. When pol is non-nil, its
// workspace, bash allowed directories, and bash denylist are merged into
// fileOps/tools before construction: agentkit/policy supplies the
// authorization data, while this package's own resolvePath/checkCommand
// remain the sole enforcement path, since their exact containment and
// rejection semantics are load-bearing, testable invariants this runtime
// must reproduce precisely (see the path-containment algorithm and
// safe/denied command discipline this executor implements).
func New(cwd string, fileOps config.FileOpsPolicy, tools config.ToolPolicy, pol *policy.Policy) *Executor {
	if pol != nil {
		if pol.Workspace != "" {
			cwd = pol.Workspace
		}
		bashPolicy := pol.GetToolPolicy("bash")
		if len(bashPolicy.AllowedDirs) > 0 {
			fileOps.AllowedDirectories = append(append([]string{}, fileOps.AllowedDirectories...), bashPolicy.AllowedDirs...)
		}
		if len(bashPolicy.Denylist) > 0 {
			tools.DeniedCommands = append(append([]string{}, tools.DeniedCommands...), bashPolicy.Denylist...)
		}
	}
	return &Executor{
		cwd:     cwd,
		fileOps: fileOps,
		tools:   tools,
		log:     logging.New().WithComponent("toolexec"),
	}
}

func (e *Executor) allowedDirs() []string {
	return canonicalDirs(e.fileOps.AllowedDirectories, e.cwd)
}

// resolvePath canonicalises path and checks containment. It returns the
// canonical path or an error result ready to hand back to the caller.
func (e *Executor) resolvePath(path string) (string, *Result) {
	canon, err := canonicalize(path, e.cwd)
	if err != nil {
		r := fail(time.Now(), fmt.Sprintf("invalid path: %v", err))
		return "", &r
	}
	if !isContained(canon, e.allowedDirs()) {
		r := fail(time.Now(), "not in allowed directories")
		return "", &r
	}
	return canon, nil
}

// CanonicalPath exposes the executor's path-containment resolution so
// callers outside this package (the workflow engine's checkpointing) can
// snapshot the exact file a step's arguments will touch.
func (e *Executor) CanonicalPath(path string) (string, error) {
	canon, res := e.resolvePath(path)
	if res != nil {
		return "", fmt.Errorf("%s", res.Error)
	}
	return canon, nil
}

func timeoutOrDefault(timeoutSeconds int, def int) time.Duration {
	if timeoutSeconds <= 0 {
		timeoutSeconds = def
	}
	return time.Duration(timeoutSeconds) * time.Second
}

// ExecuteBash tokenises and runs a shell command under the safe/denied
// command discipline, with process-group timeout enforcement.
func (e *Executor) ExecuteBash(ctx context.Context, command string, workingDir string, timeoutSeconds int) Result {
	start := time.Now()
	tokens, errMsg := checkCommand(command, e.tools.SafeCommands, e.tools.DeniedCommands, e.tools.MetacharWhitelist)
	if errMsg != "" {
		return fail(start, errMsg)
	}

	dir := e.cwd
	if workingDir != "" {
		canon, res := e.resolvePath(workingDir)
		if res != nil {
			return *res
		}
		dir = canon
	}

	timeout := timeoutOrDefault(timeoutSeconds, e.tools.DefaultTimeoutSeconds)
	return e.run(ctx, tokens[0], tokens[1:], dir, timeout, start)
}

// ExecutePythonScript validates the script path then runs it with args
// under the same containment and timeout rules as ExecuteBash.
func (e *Executor) ExecutePythonScript(ctx context.Context, scriptPath string, args []string, timeoutSeconds int) Result {
	start := time.Now()
	canon, res := e.resolvePath(scriptPath)
	if res != nil {
		return *res
	}
	timeout := timeoutOrDefault(timeoutSeconds, e.tools.DefaultTimeoutSeconds)
	return e.run(ctx, "python3", append([]string{canon}, args...), e.cwd, timeout, start)
}

func (e *Executor) run(ctx context.Context, name string, args []string, dir string, timeout time.Duration, start time.Time) Result {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process != nil {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		return nil
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &boundedWriter{buf: &stdout, limit: maxCapturedOutput}
	cmd.Stderr = &boundedWriter{buf: &stderr, limit: maxCapturedOutput}

	err := cmd.Run()
	dur := time.Since(start).Milliseconds()

	if runCtx.Err() == context.DeadlineExceeded {
		return Result{
			Success:    false,
			Stdout:     stdout.String(),
			Stderr:     stderr.String(),
			Error:      fmt.Sprintf("timed out after %ds", int(timeout.Seconds())),
			DurationMs: dur,
		}
	}

	returnCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			returnCode = exitErr.ExitCode()
		} else {
			e.log.Error("command failed to start", map[string]interface{}{"name": name, "error": err.Error()})
			return Result{Success: false, Error: err.Error(), DurationMs: dur}
		}
	}

	return Result{
		Success:    returnCode == 0,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		ReturnCode: returnCode,
		DurationMs: dur,
	}
}

// boundedWriter caps how many bytes are retained from a stream.
type boundedWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *boundedWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining > 0 {
		if remaining > len(p) {
			remaining = len(p)
		}
		w.buf.Write(p[:remaining])
	}
	return len(p), nil
}

// ReadFileTool reads a UTF-8 file within the allowed directories, subject
// to the configured size cap.
func (e *Executor) ReadFileTool(path string) Result {
	start := time.Now()
	if !e.fileOps.AllowRead {
		return fail(start, "read operations disabled")
	}
	canon, res := e.resolvePath(path)
	if res != nil {
		return *res
	}
	info, err := os.Stat(canon)
	if err != nil {
		if os.IsNotExist(err) {
			return fail(start, "file does not exist")
		}
		return fail(start, err.Error())
	}
	if info.Size() > int64(e.fileOps.MaxFileSizeKB)*1024 {
		return fail(start, "file too large")
	}
	data, err := os.ReadFile(canon)
	if err != nil {
		return fail(start, err.Error())
	}
	return Result{Success: true, Stdout: string(data), DurationMs: time.Since(start).Milliseconds()}
}

// WriteFileTool writes content atomically (temp-then-rename within the
// same directory).
func (e *Executor) WriteFileTool(path, content string, overwrite bool) Result {
	start := time.Now()
	if !e.fileOps.AllowWrite {
		return fail(start, "write operations disabled")
	}
	canon, res := e.resolvePath(path)
	if res != nil {
		return *res
	}
	if len(content) > e.fileOps.MaxFileSizeKB*1024 {
		return fail(start, "file too large")
	}
	if _, err := os.Stat(canon); err == nil && !overwrite {
		return fail(start, "file exists and overwrite is false")
	}
	if err := atomicWrite(canon, []byte(content)); err != nil {
		return fail(start, err.Error())
	}
	return Result{Success: true, DurationMs: time.Since(start).Milliseconds()}
}

// EditFileTool performs a find/replace, optionally backing up the original,
// and writes the result atomically.
func (e *Executor) EditFileTool(path, find, replace string) Result {
	start := time.Now()
	if !e.fileOps.AllowEdit {
		return fail(start, "edit operations disabled")
	}
	canon, res := e.resolvePath(path)
	if res != nil {
		return *res
	}
	original, err := os.ReadFile(canon)
	if err != nil {
		if os.IsNotExist(err) {
			return fail(start, "file does not exist")
		}
		return fail(start, err.Error())
	}
	content := string(original)
	if !containsSubstr(content, find) {
		return fail(start, "find text not present")
	}
	if e.fileOps.BackupBeforeEdit {
		if err := os.WriteFile(canon+".backup", original, 0644); err != nil {
			return fail(start, fmt.Sprintf("backup failed: %v", err))
		}
	}
	updated := replaceFirst(content, find, replace)
	if err := atomicWrite(canon, []byte(updated)); err != nil {
		return fail(start, err.Error())
	}
	return Result{Success: true, DurationMs: time.Since(start).Milliseconds()}
}

// ListFilesTool lists file names in directory matching an optional glob.
func (e *Executor) ListFilesTool(directory, pattern string) Result {
	start := time.Now()
	canon, res := e.resolvePath(directory)
	if res != nil {
		return *res
	}
	entries, err := os.ReadDir(canon)
	if err != nil {
		return fail(start, err.Error())
	}
	var names []string
	for _, entry := range entries {
		if pattern != "" {
			matched, err := filepath.Match(pattern, entry.Name())
			if err != nil || !matched {
				continue
			}
		}
		names = append(names, entry.Name())
	}
	return Result{Success: true, Stdout: joinLines(names), DurationMs: time.Since(start).Milliseconds()}
}

func joinLines(lines []string) string {
	var buf bytes.Buffer
	for i, l := range lines {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(l)
	}
	return buf.String()
}

// atomicWrite writes data to a temp file in the same directory as path,
// then renames it into place.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func containsSubstr(s, substr string) bool {
	return indexOf(s, substr) >= 0
}

func replaceFirst(s, old, new string) string {
	i := indexOf(s, old)
	if i < 0 {
		return s
	}
	return s[:i] + new + s[i+len(old):]
}

func indexOf(s, substr string) int {
	if substr == "" {
		return -1
	}
	n := len(substr)
	for i := 0; i+n <= len(s); i++ {
		if s[i:i+n] == substr {
			return i
		}
	}
	return -1
}

// Dispatch runs the named tool with a JSON-decoded argument map, used by
// the workflow engine and the agent's file-op dispatch path.
func (e *Executor) Dispatch(ctx context.Context, spec Spec, args map[string]interface{}) Result {
	switch spec {
	case ExecuteBash:
		cmd, _ := args["command"].(string)
		wd, _ := args["working_dir"].(string)
		timeout := intArg(args["timeout_seconds"])
		return e.ExecuteBash(ctx, cmd, wd, timeout)
	case ExecutePythonScript:
		script, _ := args["script_path"].(string)
		var scriptArgs []string
		if raw, ok := args["args"].([]interface{}); ok {
			for _, a := range raw {
				if s, ok := a.(string); ok {
					scriptArgs = append(scriptArgs, s)
				}
			}
		}
		timeout := intArg(args["timeout_seconds"])
		return e.ExecutePythonScript(ctx, script, scriptArgs, timeout)
	case ReadFileTool:
		path, _ := args["path"].(string)
		return e.ReadFileTool(path)
	case WriteFileTool:
		path, _ := args["path"].(string)
		content, _ := args["content"].(string)
		overwrite, _ := args["overwrite"].(bool)
		return e.WriteFileTool(path, content, overwrite)
	case EditFileTool:
		path, _ := args["path"].(string)
		find, _ := args["find"].(string)
		replace, _ := args["replace"].(string)
		return e.EditFileTool(path, find, replace)
	case ListFilesTool:
		dir, _ := args["directory"].(string)
		pattern, _ := args["pattern"].(string)
		return e.ListFilesTool(dir, pattern)
	default:
		return Result{Success: false, Error: "command not permitted"}
	}
}

// IsMutating reports whether spec can mutate filesystem state, per §4.9(c).
func IsMutating(spec Spec, args map[string]interface{}) bool {
	switch spec {
	case WriteFileTool, EditFileTool, ExecutePythonScript:
		return true
	case ExecuteBash:
		if ro, ok := args["read_only"].(bool); ok && ro {
			return false
		}
		return true
	default:
		return false
	}
}

// TouchedPaths returns the file paths a step's arguments declare it will
// touch, for checkpoint snapshotting.
func TouchedPaths(spec Spec, args map[string]interface{}) []string {
	switch spec {
	case WriteFileTool, EditFileTool, ReadFileTool:
		if p, ok := args["path"].(string); ok {
			return []string{p}
		}
	}
	return nil
}

func intArg(v interface{}) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	case string:
		n, err := strconv.Atoi(t)
		if err == nil {
			return n
		}
	}
	return 0
}

var _ io.Writer = (*boundedWriter)(nil)
