package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	defaultXdotoolPath    = "xdotool"
	defaultCommandTimeout = 5 * time.Second
)

// Runner executes one command and returns its stdout. Errors follow
// os/exec conventions: *exec.Error / exec.ErrNotFound for a missing
// binary, *exec.ExitError for a non-zero exit.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// XdotoolConfig configures the xdotool driver.
type XdotoolConfig struct {
	Path    string
	Timeout time.Duration
	Logger  *slog.Logger
	// Runner overrides process execution. Nil runs the real binary.
	Runner Runner
}

// Xdotool drives X11 input by shelling out to xdotool.
type Xdotool struct {
	path    string
	timeout time.Duration
	run     Runner
	logger  *slog.Logger
}

// NewXdotool creates an xdotool driver.
func NewXdotool(cfg XdotoolConfig) *Xdotool {
	if cfg.Path == "" {
		cfg.Path = defaultXdotoolPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCommandTimeout
	}
	if cfg.Runner == nil {
		cfg.Runner = execRunner
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Xdotool{path: cfg.Path, timeout: cfg.Timeout, run: cfg.Runner, logger: cfg.Logger}
}

func (x *Xdotool) KeyDown(ctx context.Context, key string) error {
	_, err := x.exec(ctx, "keydown", key)
	return err
}

func (x *Xdotool) KeyUp(ctx context.Context, key string) error {
	_, err := x.exec(ctx, "keyup", key)
	return err
}

func (x *Xdotool) MouseMoveRelative(ctx context.Context, dx, dy int) error {
	_, err := x.exec(ctx, "mousemove_relative", "--", strconv.Itoa(dx), strconv.Itoa(dy))
	return err
}

func (x *Xdotool) MouseButtonDown(ctx context.Context, button int) error {
	_, err := x.exec(ctx, "mousedown", strconv.Itoa(button))
	return err
}

func (x *Xdotool) MouseButtonUp(ctx context.Context, button int) error {
	_, err := x.exec(ctx, "mouseup", strconv.Itoa(button))
	return err
}

// PointerPosition parses `xdotool getmouselocation` output of the form
// "x:123 y:456 screen:0 window:789".
func (x *Xdotool) PointerPosition(ctx context.Context) (int, int, error) {
	out, err := x.exec(ctx, "getmouselocation")
	if err != nil {
		return 0, 0, err
	}
	return parseMouseLocation(string(out))
}

func (x *Xdotool) exec(ctx context.Context, args ...string) ([]byte, error) {
	execCtx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	x.logger.Debug("xdotool", "args", strings.Join(args, " "))
	out, err := x.run(execCtx, x.path, args...)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s not found", ErrUnavailable, x.path)
	}
	re := &RejectedError{Op: args[0], Args: args[1:], Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		re.Stderr = strings.TrimSpace(string(exitErr.Stderr))
	}
	return nil, re
}

func parseMouseLocation(out string) (int, int, error) {
	var x, y int
	var gotX, gotY bool
	for _, field := range strings.Fields(out) {
		k, v, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		switch k {
		case "x":
			x, gotX = n, true
		case "y":
			y, gotY = n, true
		}
	}
	if !gotX || !gotY {
		return 0, 0, &RejectedError{Op: "getmouselocation", Stderr: fmt.Sprintf("unparseable output %q", strings.TrimSpace(out))}
	}
	return x, y, nil
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitErr.Stderr = stderr.Bytes()
	}
	return stdout.Bytes(), err
}
