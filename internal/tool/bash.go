package tool

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"time"

	"github.com/obra/lace-sub014/internal/permission"
)

const bashDescription = `Executes a shell command and returns its combined output.

Usage:
- Commands run in the working directory with the process environment
- Commands that modify files outside the working directory are refused
- Output is truncated beyond 30000 characters
- An optional timeout in milliseconds may be supplied (max 600000)`

const (
	// DefaultBashTimeout bounds a command when no timeout is supplied.
	DefaultBashTimeout = 120 * time.Second
	// MaxBashTimeout is the ceiling on caller-supplied timeouts.
	MaxBashTimeout = 10 * time.Minute
	// MaxOutputLength truncates runaway command output.
	MaxOutputLength = 30000
	// sigkillDelay is how long SIGTERM gets before SIGKILL.
	sigkillDelay = 200 * time.Millisecond
)

// BashTool executes shell commands in a process group so cancellation
// can signal the whole tree.
type BashTool struct {
	workDir string
	shell   string
	// bashPatterns maps command patterns to actions; deny patterns are
	// enforced here as a hard gate in addition to the executor's
	// approval flow.
	bashPatterns map[string]permission.Action
}

// NewBashTool creates a new bash tool.
func NewBashTool(workDir string) *BashTool {
	return &BashTool{
		workDir:      workDir,
		shell:        detectShell(),
		bashPatterns: make(map[string]permission.Action),
	}
}

// SetBashPatterns installs command patterns checked before execution.
func (t *BashTool) SetBashPatterns(patterns map[string]permission.Action) {
	t.bashPatterns = patterns
}

func detectShell() string {
	if s := os.Getenv("SHELL"); s != "" {
		// Exclude shells with incompatible -c semantics.
		if s != "/bin/fish" && s != "/usr/bin/fish" &&
			s != "/bin/nu" && s != "/usr/bin/nu" {
			return s
		}
	}

	if runtime.GOOS == "darwin" {
		return "/bin/zsh"
	}

	if bash, err := exec.LookPath("bash"); err == nil {
		return bash
	}

	return "/bin/sh"
}

// Metadata implements Tool.
func (t *BashTool) Metadata() Declaration {
	return Declaration{
		Name:        "bash",
		Description: bashDescription,
		Schema: []byte(`{
			"type": "object",
			"properties": {
				"command": {
					"type": "string",
					"description": "The command to execute"
				},
				"timeout": {
					"type": "integer",
					"description": "Optional timeout in milliseconds (max 600000)"
				},
				"description": {
					"type": "string",
					"description": "Brief description of what this command does"
				}
			},
			"required": ["command"]
		}`),
		Annotations: Annotations{Destructive: true},
		Timeout:     MaxBashTimeout,
	}
}

// Execute implements Tool.
func (t *BashTool) Execute(ctx context.Context, args map[string]any, tc *Context) (*Result, error) {
	command := stringArg(args, "command")

	workDir := t.workDir
	if tc != nil && tc.WorkDir != "" {
		workDir = tc.WorkDir
	}

	if res := t.gate(ctx, command, workDir); res != nil {
		return res, nil
	}

	timeout := DefaultBashTimeout
	if ms := intArg(args, "timeout", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
		if timeout > MaxBashTimeout {
			timeout = MaxBashTimeout
		}
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, t.shell, "-c", command)
	cmd.Dir = workDir
	cmd.Env = os.Environ()
	// A process group lets cancellation take the whole child tree down.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killGroup(cmd)
	}

	output, err := cmd.CombinedOutput()
	timedOut := cmdCtx.Err() == context.DeadlineExceeded

	result := string(output)
	if len(result) > MaxOutputLength {
		result = result[:MaxOutputLength] + "\n\n(Output truncated)"
	}
	if timedOut {
		result += fmt.Sprintf("\n\n(Command timed out after %v)", timeout)
	}

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil && !timedOut {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			result += fmt.Sprintf("\n\nError: %v", err)
		}
	}

	res := TextResult(result)
	res.IsError = exitCode != 0 || timedOut
	res.Metadata = map[string]any{"exit": exitCode, "command": command}
	return res, nil
}

// gate refuses commands the safety policy forbids outright: explicit
// deny patterns and dangerous file operations reaching outside the
// working directory. Returning nil lets the command proceed.
func (t *BashTool) gate(ctx context.Context, command, workDir string) *Result {
	commands, err := permission.ParseBashCommand(command)
	if err != nil {
		return TextErrorf("Cannot parse command: %v", err)
	}

	for _, cmd := range commands {
		if permission.IsDangerousCommand(cmd.Name) {
			for _, p := range permission.ExtractPaths(cmd) {
				resolved, err := permission.ResolvePath(ctx, p, workDir)
				if err != nil {
					continue
				}
				if !permission.IsWithinDir(resolved, workDir) {
					return TextErrorf("Command references %s outside of %s", resolved, workDir)
				}
			}
		}

		if cmd.Name == "cd" {
			continue
		}

		if permission.MatchBashPermission(cmd, t.bashPatterns) == permission.ActionDeny {
			return TextErrorf("Command not allowed: %s", cmd.Name)
		}
	}

	return nil
}

func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid

	syscall.Kill(-pid, syscall.SIGTERM)
	time.Sleep(sigkillDelay)
	if cmd.ProcessState == nil {
		syscall.Kill(-pid, syscall.SIGKILL)
	}
	return nil
}
