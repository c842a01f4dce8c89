// Package execshell implements the Command Executor: a uniform
// streaming/batched command execution capability, local and in-container,
// with timeouts enforced at the appropriate layer for each.
package execshell

import "context"

// Executor is the capability interface both variants satisfy. It returns
// the combined stdout+stderr as a single string; callers are responsible
// for parsing it.
type Executor interface {
	Execute(cmd, workdir string, stream, tty bool, timeoutSeconds int) (exitCode int, output string, err error)
}

// ExecuteCtx is implemented by executors that accept caller-supplied
// cancellation in addition to their own timeout.
type ExecuteCtx interface {
	ExecuteContext(ctx context.Context, cmd, workdir string, stream, tty bool, timeoutSeconds int) (exitCode int, output string, err error)
}

// harnessEnv is the fixed set of environment variables injected into
// every command, local or in-container: a sane terminal size for tools
// that probe it, and offline mode for the Hugging Face client library so
// a flaky network never stalls a test run.
func harnessEnv(extra map[string]string) []string {
	base := map[string]string{
		"COLUMNS":        "200",
		"LINES":          "50",
		"HF_HUB_OFFLINE": "1",
	}
	for k, v := range extra {
		base[k] = v
	}
	out := make([]string, 0, len(base))
	for k, v := range base {
		out = append(out, k+"="+v)
	}
	return out
}
