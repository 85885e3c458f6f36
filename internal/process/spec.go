package process

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/loykin/ray-operator/internal/env"
)

// Spec describes a child process started on behalf of a cluster.
type Spec struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`  // program and leading arguments
	Args    []string `json:"args"`     // appended verbatim after Command
	WorkDir string   `json:"work_dir"` // optional working dir
	Env     []string `json:"env"`      // KEY=VALUE overrides of the operator's environment; ${VAR} is expanded
}

// Validate reports specs that cannot be started.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("process %q: empty command", s.Name)
	}
	for _, kv := range s.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("process %q: invalid env entry %q", s.Name, kv)
		}
	}
	return nil
}

// BuildCommand constructs an *exec.Cmd for the spec.
// It avoids invoking a shell when not necessary, and it also respects
// an explicit shell invocation already present in the command string
// (e.g., "sh -c 'echo hi'"), avoiding double-wrapping with another shell.
// Args are quoted when the command runs through a shell.
func (s Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	var cmd *exec.Cmd
	switch {
	case hasExplicitShell(cmdStr):
		_, script, _ := parseExplicitShell(cmdStr)
		// #nosec G204
		cmd = exec.Command("/bin/sh", "-c", joinShell(script, s.Args))
	case strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~"):
		// #nosec G204
		cmd = exec.Command("/bin/sh", "-c", joinShell(cmdStr, s.Args))
	case cmdStr == "":
		// #nosec G204
		cmd = exec.Command("/bin/true")
	default:
		parts := strings.Fields(cmdStr)
		args := append(parts[1:], s.Args...)
		// #nosec G204
		cmd = exec.Command(parts[0], args...)
	}
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if len(s.Env) > 0 {
		cmd.Env = env.Compose(os.Environ(), s.Env)
	}
	return cmd
}

func hasExplicitShell(cmdStr string) bool {
	_, _, ok := parseExplicitShell(cmdStr)
	return ok
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>" at the
// beginning of cmdStr. It returns (shellPath, afterCArg, true) when matched.
// It preserves the substring after "-c " verbatim to avoid breaking quoting.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			// strip one pair of outer quotes so the shell parses the script itself
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}

func joinShell(script string, args []string) string {
	if len(args) == 0 {
		return script
	}
	var b strings.Builder
	b.WriteString(script)
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(shellQuote(a))
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
