package lockdown

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Exit code a request helper uses to report that the candidate declined.
const exitDeclined = 2

// CommandDevice drives lock-down through kiosk helper binaries.
//
// The request command exits 0 when lock-down was requested and 2 when the
// candidate declined. The status command prints "locked" or "unlocked".
type CommandDevice struct {
	requestCmd []string
	statusCmd  []string
	releaseCmd []string
	timeout    time.Duration
	log        zerolog.Logger
}

// NewCommandDevice creates a CommandDevice. Commands are whitespace-split.
func NewCommandDevice(requestCmd, statusCmd, releaseCmd string, timeout time.Duration, log zerolog.Logger) (*CommandDevice, error) {
	d := &CommandDevice{
		requestCmd: strings.Fields(requestCmd),
		statusCmd:  strings.Fields(statusCmd),
		releaseCmd: strings.Fields(releaseCmd),
		timeout:    timeout,
		log:        log.With().Str("component", "lockdown").Logger(),
	}
	if len(d.requestCmd) == 0 || len(d.statusCmd) == 0 {
		return nil, errors.New("lockdown: request and status commands are required")
	}
	if d.timeout <= 0 {
		d.timeout = 2 * time.Second
	}
	return d, nil
}

func (d *CommandDevice) run(ctx context.Context, argv []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &out
	err := cmd.Run()
	return strings.TrimSpace(out.String()), err
}

// RequestLockDown runs the request helper.
func (d *CommandDevice) RequestLockDown(ctx context.Context) (bool, error) {
	_, err := d.run(ctx, d.requestCmd)
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == exitDeclined {
		d.log.Info().Msg("Lock-down declined by candidate")
		return false, nil
	}
	return false, fmt.Errorf("request lock-down: %w", err)
}

// IsLockedDown runs the status helper.
func (d *CommandDevice) IsLockedDown(ctx context.Context) (bool, error) {
	out, err := d.run(ctx, d.statusCmd)
	if err != nil {
		return false, fmt.Errorf("lock-down status: %w", err)
	}
	switch out {
	case "locked":
		return true, nil
	case "unlocked":
		return false, nil
	default:
		return false, fmt.Errorf("lock-down status: unexpected output %q", out)
	}
}

// ReleaseLockDown runs the release helper, if one is configured.
func (d *CommandDevice) ReleaseLockDown(ctx context.Context) error {
	if len(d.releaseCmd) == 0 {
		return nil
	}
	if _, err := d.run(ctx, d.releaseCmd); err != nil {
		return fmt.Errorf("release lock-down: %w", err)
	}
	return nil
}
