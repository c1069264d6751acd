package server

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// LaunchSpec describes the command to run.
type LaunchSpec struct {
	Command    []string
	WorkingDir string
	Env        map[string]string
}

// ProcessHandle is a running child process. Output carries stdout and stderr
// merged into a single stream.
type ProcessHandle interface {
	PID() int
	Output() io.Reader
	Input() io.WriteCloser
	// Wait blocks until the process exits. It must be called once.
	Wait() (exitCode int, err error)
	Kill() error
}

// Launcher spawns game server processes.
type Launcher interface {
	Launch(spec LaunchSpec) (ProcessHandle, error)
}

// LaunchError reports a process that could not be started at all.
type LaunchError struct {
	Command string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %q: %v", e.Command, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// ExecLauncher starts processes on the local host with os/exec.
type ExecLauncher struct{}

// NewExecLauncher creates a launcher for local processes.
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{}
}

// Launch starts the command described by spec. The process is not tied to
// any context; termination goes through Kill.
func (l *ExecLauncher) Launch(spec LaunchSpec) (ProcessHandle, error) {
	commandLine := strings.Join(spec.Command, " ")
	if len(spec.Command) == 0 || spec.Command[0] == "" {
		return nil, &LaunchError{Command: commandLine, Err: errors.New("empty command")}
	}

	if spec.WorkingDir != "" {
		info, err := os.Stat(spec.WorkingDir)
		if err != nil {
			return nil, &LaunchError{Command: commandLine, Err: fmt.Errorf("working directory: %w", err)}
		}
		if !info.IsDir() {
			return nil, &LaunchError{Command: commandLine, Err: fmt.Errorf("working directory %s is not a directory", spec.WorkingDir)}
		}
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.WorkingDir
	if len(spec.Env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), spec.Env)
	}
	setProcessAttrs(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &LaunchError{Command: commandLine, Err: err}
	}

	outputReader, outputWriter, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, &LaunchError{Command: commandLine, Err: err}
	}
	cmd.Stdout = outputWriter
	cmd.Stderr = outputWriter

	if err := cmd.Start(); err != nil {
		stdin.Close()
		outputReader.Close()
		outputWriter.Close()
		return nil, &LaunchError{Command: commandLine, Err: err}
	}
	// The child holds its own copy of the write end.
	outputWriter.Close()

	return &execHandle{cmd: cmd, stdin: stdin, output: outputReader}, nil
}

// mergeEnv overrides entries of base with values from overrides, matching
// keys case-insensitively.
func mergeEnv(base []string, overrides map[string]string) []string {
	overrideKeys := make(map[string]bool, len(overrides))
	for k := range overrides {
		overrideKeys[strings.ToUpper(k)] = true
	}

	env := make([]string, 0, len(base)+len(overrides))
	for _, e := range base {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 && overrideKeys[strings.ToUpper(parts[0])] {
			continue
		}
		env = append(env, e)
	}
	for k, v := range overrides {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

type execHandle struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	output *os.File
}

func (h *execHandle) PID() int {
	return h.cmd.Process.Pid
}

func (h *execHandle) Output() io.Reader {
	return h.output
}

func (h *execHandle) Input() io.WriteCloser {
	return h.stdin
}

// Wait reports a non-zero exit as an exit code, not as an error. A process
// terminated by a signal reports -1.
func (h *execHandle) Wait() (int, error) {
	err := h.cmd.Wait()
	code := -1
	if h.cmd.ProcessState != nil {
		code = h.cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return code, err
	}
	return code, nil
}

func (h *execHandle) Kill() error {
	if h.cmd.Process == nil {
		return ErrNotRunning
	}
	return killProcess(h.cmd)
}
