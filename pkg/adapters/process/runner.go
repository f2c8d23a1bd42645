// Package process exposes allow-listed local commands as actions.
//
// Arguments never reach the command line. Each one is passed as a
// GOOP_ARG_<NAME> environment variable, which prevents flag injection.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/goop/pkg/domain"
	"github.com/aretw0/goop/pkg/ports"
)

// EnvPrefix prefixes the environment variables carrying action arguments.
const EnvPrefix = "GOOP_ARG_"

// Runner implements ports.ActionCatalog by executing local processes.
// It follows a Strict Registry pattern for security (Allow-Listing).
type Runner struct {
	tools   map[string]ToolConfig
	order   []string
	baseDir string
	timeout time.Duration
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// WithTimeout bounds each execution. Zero means no limit besides the context.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.timeout = d
	}
}

// NewRunner creates a Runner serving tools in the given order.
func NewRunner(tools []ToolConfig, opts ...RunnerOption) (*Runner, error) {
	r := &Runner{tools: make(map[string]ToolConfig, len(tools))}
	for _, opt := range opts {
		opt(r)
	}
	for _, tool := range tools {
		if _, dup := r.tools[tool.Name]; dup {
			return nil, fmt.Errorf("tool %q is defined twice", tool.Name)
		}
		r.tools[tool.Name] = tool
		r.order = append(r.order, tool.Name)
	}
	return r, nil
}

var _ ports.ActionCatalog = (*Runner)(nil)

// Actions lists the registered tools.
func (r *Runner) Actions(_ context.Context) ([]domain.ActionDescriptor, error) {
	out := make([]domain.ActionDescriptor, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		out = append(out, domain.ActionDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			Schema:      tool.Parameters,
		})
	}
	return out, nil
}

// Invoke runs the named tool and returns its trimmed standard output.
// A non-zero exit fails with the standard error attached.
func (r *Runner) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	tool, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrActionNotFound, name)
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, tool.Command, tool.Args...)
	cmd.Dir = r.baseDir
	cmd.Env = append(cmd.Environ(), environment(tool.Environment, args)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("execution of %s aborted: %w", name, ctxErr)
		}
		return "", fmt.Errorf("execution failed: %v. Stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// environment renders the tool's fixed variables followed by the arguments.
func environment(fixed map[string]string, args map[string]any) []string {
	env := make([]string, 0, len(fixed)+len(args))
	for k, v := range fixed {
		env = append(env, k+"="+v)
	}
	for k, v := range args {
		env = append(env, EnvPrefix+strings.ToUpper(k)+"="+envValue(v))
	}
	return env
}

// envValue formats an argument exactly as it was proposed. Numbers never use
// exponent notation, so 1000000 stays 1000000.
func envValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case json.Number:
		return v.String()
	case int, int64, bool:
		return fmt.Sprintf("%v", v)
	default:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
		return fmt.Sprintf("%v", v)
	}
}
