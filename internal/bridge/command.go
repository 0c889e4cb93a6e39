package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const waitDelay = 2 * time.Second

// CommandConfig configures the CLI toolchain bridge.
type CommandConfig struct {
	// DoctorBin runs the health check. Defaults to "agent-reach".
	DoctorBin string
	// CallerBin runs tool calls. Defaults to "mcporter".
	CallerBin     string
	DoctorTimeout time.Duration
}

// CommandBridge invokes the capability through local executables.
type CommandBridge struct {
	cfg    CommandConfig
	logger *slog.Logger
}

var _ Bridge = (*CommandBridge)(nil)

// NewCommand creates a CommandBridge.
func NewCommand(cfg CommandConfig, logger *slog.Logger) *CommandBridge {
	if cfg.DoctorBin == "" {
		cfg.DoctorBin = "agent-reach"
	}
	if cfg.CallerBin == "" {
		cfg.CallerBin = "mcporter"
	}
	if cfg.DoctorTimeout <= 0 {
		cfg.DoctorTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandBridge{cfg: cfg, logger: logger}
}

// resolveExecutable finds name next to the running binary first, then on
// PATH. Explicit paths are only checked for existence.
func resolveExecutable(name string) (string, bool) {
	if strings.ContainsRune(name, filepath.Separator) {
		if isFile(name) {
			return name, true
		}
		return "", false
	}

	if self, err := os.Executable(); err == nil {
		candidates := []string{filepath.Join(filepath.Dir(self), name)}
		if resolved, err := filepath.EvalSymlinks(self); err == nil {
			candidates = append(candidates, filepath.Join(filepath.Dir(resolved), name))
		}
		for _, c := range candidates {
			if isFile(c) {
				return c, true
			}
		}
	}

	if found, err := exec.LookPath(name); err == nil {
		return found, true
	}
	return "", false
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// run executes bin and returns trimmed stdout. A non-zero exit becomes an
// *Error carrying stderr, else stdout, else a generic message.
func run(ctx context.Context, op, bin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children that inherit the pipes must not hold Wait past cancellation.
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		msg := "canceled"
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			msg = "timed out"
		}
		return "", &Error{Op: op, Msg: msg, Err: ctxErr}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", &Error{Op: op, Msg: err.Error(), Err: err}
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		if msg == "" {
			msg = "command failed"
		}
		return "", &Error{Op: op, Msg: msg, Err: err}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Ready runs the doctor command under its own timeout.
func (b *CommandBridge) Ready(ctx context.Context) error {
	bin, ok := resolveExecutable(b.cfg.DoctorBin)
	if !ok {
		return &Error{Op: "doctor", Msg: fmt.Sprintf("%s is not installed", b.cfg.DoctorBin)}
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.DoctorTimeout)
	defer cancel()

	if _, err := run(ctx, "doctor", bin, "doctor"); err != nil {
		var berr *Error
		if errors.As(err, &berr) {
			berr.Msg = fmt.Sprintf("%s doctor failed: %s", b.cfg.DoctorBin, berr.Msg)
		}
		return err
	}
	b.logger.DebugContext(ctx, "bridge ready", "doctor", bin)
	return nil
}

// Search calls the search tool for keyword.
func (b *CommandBridge) Search(ctx context.Context, keyword string) (any, error) {
	return b.call(ctx, "search", Expr(SearchTool, searchArgs(keyword)...))
}

// Detail calls the detail tool for one feed item.
func (b *CommandBridge) Detail(ctx context.Context, feedID, xsecToken string) (any, error) {
	return b.call(ctx, "detail", Expr(DetailTool, detailArgs(feedID, xsecToken)...))
}

func (b *CommandBridge) call(ctx context.Context, op, expr string) (any, error) {
	bin, ok := resolveExecutable(b.cfg.CallerBin)
	if !ok {
		return nil, &Error{Op: op, Msg: fmt.Sprintf("%s is not installed; run agent-reach install", b.cfg.CallerBin)}
	}

	start := time.Now()
	out, err := run(ctx, op, bin, "call", expr)
	if err != nil {
		return nil, err
	}
	b.logger.DebugContext(ctx, "tool call finished", "op", op, "bytes", len(out), "elapsed", time.Since(start))
	return decodeOutput(out), nil
}
