package localexec

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/oshokin/symdeploy/internal/logger"
)

const (
	// maxLineSize is the longest output line logged as a whole.
	maxLineSize = 1 << 20
	// waitDelay bounds how long a cancelled script may keep its output open.
	waitDelay = 5 * time.Second
)

// ErrScriptFailed is returned when a script exits with a non-zero status.
var ErrScriptFailed = errors.New("local script failed")

// Runner runs a local command line as a pass/fail gate.
type Runner interface {
	Run(ctx context.Context, dir, script string) error
}

// Shell runs scripts through `sh -c` and logs their output line by line.
type Shell struct{}

var _ Runner = Shell{}

// Run executes script in dir.
func (Shell) Run(ctx context.Context, dir, script string) error {
	ctx = logger.WithKV(logger.WithName(ctx, "localexec"), "script", script)

	//nolint:gosec // Scripts come from the operator's own settings file.
	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.Dir = dir
	// Background children may keep the output open after sh is killed.
	cmd.WaitDelay = waitDelay

	stdout, stdoutW := io.Pipe()
	stderr, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	logger.Info(ctx, "Running local script")

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", script, err)
	}

	var wg sync.WaitGroup

	wg.Add(2)

	go stream(ctx, &wg, stdout, logger.InfoKV)
	go stream(ctx, &wg, stderr, logger.WarnKV)

	err := cmd.Wait()

	// Wait has finished copying, so the readers can see EOF.
	_ = stdoutW.Close()
	_ = stderrW.Close()

	wg.Wait()

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", script, ctxErr)
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: %s exited with status %d", ErrScriptFailed, script, exitErr.ExitCode())
		}

		return fmt.Errorf("%s: %w", script, err)
	}

	return nil
}

func stream(
	ctx context.Context,
	wg *sync.WaitGroup,
	r io.Reader,
	log func(ctx context.Context, msg string, keysAndValues ...any),
) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineSize)

	for scanner.Scan() {
		log(ctx, "Script output", "line", scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		logger.WarnKV(ctx, "Script output not logged", "error", err)
	}

	// Keep the script from blocking on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}
