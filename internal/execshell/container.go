package execshell

import (
	"bytes"
	"fmt"
	"log"
	"os"

	docker "github.com/fsouza/go-dockerclient"

	"github.com/featbench/featbench/internal/ferrors"
)

// ContainerExecutor runs commands inside a running container via the
// Docker Engine API's exec create/start/inspect flow. Timeout is
// enforced *inside* the container by prepending a `timeout` wrapper, so
// a runaway process is killed even if the host-side exec handle hangs.
type ContainerExecutor struct {
	Client      *docker.Client
	ContainerID string
	Env         map[string]string
	Logger      *log.Logger
}

// NewContainerExecutor builds a ContainerExecutor bound to one running
// container.
func NewContainerExecutor(client *docker.Client, containerID string, env map[string]string, logger *log.Logger) *ContainerExecutor {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &ContainerExecutor{Client: client, ContainerID: containerID, Env: env, Logger: logger}
}

func (e *ContainerExecutor) Execute(cmdStr, workdir string, stream, tty bool, timeoutSeconds int) (int, string, error) {
	wrapped := cmdStr
	if timeoutSeconds > 0 {
		wrapped = fmt.Sprintf("timeout -s TERM -k 10s %ds %s", timeoutSeconds, cmdStr)
	}

	execOpts := docker.CreateExecOptions{
		Container:    e.ContainerID,
		Cmd:          []string{"/bin/bash", "-c", wrapped},
		WorkingDir:   workdir,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          tty,
		Env:          harnessEnv(e.Env),
	}

	execObj, err := e.Client.CreateExec(execOpts)
	if err != nil {
		return 1, "", fmt.Errorf("create exec: %w", err)
	}

	var out bytes.Buffer
	var writer streamWriter
	if stream {
		writer = streamWriter{buf: &out, logger: e.Logger}
	} else {
		writer = streamWriter{buf: &out}
	}

	startOpts := docker.StartExecOptions{
		OutputStream: &writer,
		ErrorStream:  &writer,
		RawTerminal:  tty,
	}
	if err := e.Client.StartExec(execObj.ID, startOpts); err != nil {
		return 1, out.String(), fmt.Errorf("start exec: %w", err)
	}

	info, err := e.Client.InspectExec(execObj.ID)
	if err != nil {
		return 1, out.String(), fmt.Errorf("inspect exec: %w", err)
	}

	if timeoutSeconds > 0 && (info.ExitCode == 124 || info.ExitCode == 137) {
		return info.ExitCode, out.String(), ferrors.TestExecutionTimeout("command timed out after %ds: %s", timeoutSeconds, cmdStr)
	}

	return info.ExitCode, out.String(), nil
}

// streamWriter fans exec output into a buffer and, when a logger is set,
// also writes it live, so stream=true callers see output as it arrives
// while still getting the full buffer back.
type streamWriter struct {
	buf    *bytes.Buffer
	logger *log.Logger
}

func (w *streamWriter) Write(p []byte) (int, error) {
	n, err := w.buf.Write(p)
	if w.logger != nil {
		w.logger.Print(string(p))
	}
	return n, err
}
