// Package dispatch runs the privileged mail-send-as-group helper for one
// staged request and collects its exit status and output lines.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/infodancer/groupmail/internal/logging"
	"github.com/infodancer/groupmail/internal/sendas"
)

// ErrHelperInvocation is returned when the helper could not be run at all.
var ErrHelperInvocation = errors.New("helper invocation failed")

// Config configures a Dispatcher.
type Config struct {
	// HelperPath is the absolute path of the helper binary.
	HelperPath string
	// Elevate is the wrapper command the helper is run through, such as
	// sudo -n. Empty runs the helper directly.
	Elevate []string
	// Locale is exported as LC_ALL.
	Locale string
}

// Request is everything the helper needs for one send.
type Request struct {
	Invocation        sendas.Invocation
	ClientIP          string
	ForwardedIP       string
	SessionCredential string
}

// Result is the outcome of a helper run.
type Result struct {
	ExitCode int
	Stdout   []string
	Stderr   []string
	Duration time.Duration
}

// OK reports whether the helper accepted the message.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Dispatcher invokes the helper through a CommandRunner.
type Dispatcher struct {
	cfg    Config
	runner CommandRunner
}

// New creates a Dispatcher. A nil runner uses ExecRunner.
func New(cfg Config, runner CommandRunner) *Dispatcher {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Dispatcher{cfg: cfg, runner: runner}
}

// Dispatch runs the helper and waits for it. ctx is only checked before
// the helper starts. A helper that exits non-zero is not an error.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if err := req.Invocation.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrHelperInvocation, err)
	}

	env := sendas.Environment{
		Locale:            d.cfg.Locale,
		ClientIP:          req.ClientIP,
		ForwardedIP:       req.ForwardedIP,
		SessionCredential: req.SessionCredential,
	}.Pairs()
	for _, kv := range env {
		if strings.ContainsRune(kv, 0) {
			return Result{}, fmt.Errorf("%w: environment value contains NUL byte", ErrHelperInvocation)
		}
	}

	path, args := d.command(req.Invocation.Args())

	logger := logging.FromContext(ctx)
	logger.Debug("invoking helper",
		slog.String("path", path),
		slog.String("helper", d.cfg.HelperPath),
		slog.Int("recipients", len(req.Invocation.Recipients)),
		slog.Int("attachments", len(req.Invocation.Attachments)))

	start := time.Now()
	raw, err := d.runner.Run(ctx, path, args, env)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", ErrHelperInvocation, path, err)
	}

	res := Result{
		ExitCode: raw.ExitCode,
		Stdout:   SplitLines(raw.Stdout),
		Stderr:   SplitLines(raw.Stderr),
		Duration: time.Since(start),
	}

	for _, line := range res.Stdout {
		logger.Debug("helper stdout", slog.String("line", line))
	}
	for _, line := range res.Stderr {
		logger.Debug("helper stderr", slog.String("line", line))
	}
	logger.Debug("helper exited",
		slog.Int("exit_code", res.ExitCode),
		slog.Duration("duration", res.Duration))

	return res, nil
}

func (d *Dispatcher) command(helperArgs []string) (string, []string) {
	if len(d.cfg.Elevate) == 0 {
		return d.cfg.HelperPath, helperArgs
	}
	args := make([]string, 0, len(d.cfg.Elevate)+len(helperArgs))
	args = append(args, d.cfg.Elevate[1:]...)
	args = append(args, d.cfg.HelperPath)
	args = append(args, helperArgs...)
	return d.cfg.Elevate[0], args
}

// SplitLines splits output into lines, dropping a trailing CR from each and
// skipping blank lines.
func SplitLines(b []byte) []string {
	var lines []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
