package lockdown

import (
	"context"
	"sync"
)

// StaticDevice is an in-process lock-down stand-in for development machines
// and tests. It always accepts requests unless told otherwise.
type StaticDevice struct {
	mu      sync.Mutex
	locked  bool
	decline bool
	prompts []func(PromptResult)
}

// NewStaticDevice creates an unlocked StaticDevice.
func NewStaticDevice() *StaticDevice {
	return &StaticDevice{}
}

// RequestLockDown locks immediately unless SetDecline(true) was called.
func (d *StaticDevice) RequestLockDown(_ context.Context) (bool, error) {
	d.mu.Lock()
	decline := d.decline
	if !decline {
		d.locked = true
	}
	watchers := append([]func(PromptResult){}, d.prompts...)
	d.mu.Unlock()

	result := PromptAccepted
	if decline {
		result = PromptDeclined
	}
	for _, fn := range watchers {
		fn(result)
	}
	return !decline, nil
}

func (d *StaticDevice) IsLockedDown(_ context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locked, nil
}

func (d *StaticDevice) ReleaseLockDown(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locked = false
	return nil
}

// SetDecline makes subsequent requests report a declined prompt.
func (d *StaticDevice) SetDecline(decline bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.decline = decline
}

// Drop simulates the OS leaving lock-down on its own.
func (d *StaticDevice) Drop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locked = false
}

// WatchPrompt registers fn for prompt results until stop is called.
func (d *StaticDevice) WatchPrompt(fn func(PromptResult)) (stop func()) {
	d.mu.Lock()
	d.prompts = append(d.prompts, fn)
	idx := len(d.prompts) - 1
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			d.prompts[idx] = func(PromptResult) {}
		})
	}
}
