// Package lockdown provides drivers for the device's single-app lock-down
// (screen pinning) capability.
package lockdown

import "context"

// Device is the lock-down capability of the host.
type Device interface {
	// RequestLockDown asks the OS to enter lock-down. It returns false when
	// the candidate explicitly declined.
	RequestLockDown(ctx context.Context) (bool, error)
	IsLockedDown(ctx context.Context) (bool, error)
	ReleaseLockDown(ctx context.Context) error
}

// PromptResult is what the OS lock-down prompt reported.
type PromptResult string

const (
	PromptAccepted PromptResult = "accepted"
	PromptDeclined PromptResult = "declined"
)

// PromptWatcher is implemented by devices that can observe the OS's own
// lock-down confirmation overlay.
type PromptWatcher interface {
	WatchPrompt(fn func(PromptResult)) (stop func())
}
