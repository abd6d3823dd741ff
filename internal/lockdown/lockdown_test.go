package lockdown

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestStaticDevice(t *testing.T) {
	ctx := context.Background()
	d := NewStaticDevice()

	var seen []PromptResult
	stop := d.WatchPrompt(func(r PromptResult) { seen = append(seen, r) })

	ok, err := d.RequestLockDown(ctx)
	if !ok || err != nil {
		t.Fatalf("RequestLockDown = %v, %v", ok, err)
	}
	if locked, _ := d.IsLockedDown(ctx); !locked {
		t.Fatal("expected locked after request")
	}

	d.Drop()
	if locked, _ := d.IsLockedDown(ctx); locked {
		t.Fatal("expected unlocked after Drop")
	}

	d.SetDecline(true)
	if ok, _ := d.RequestLockDown(ctx); ok {
		t.Fatal("expected declined request")
	}

	stop()
	d.SetDecline(false)
	_, _ = d.RequestLockDown(ctx)

	if len(seen) != 2 || seen[0] != PromptAccepted || seen[1] != PromptDeclined {
		t.Errorf("prompt results = %v", seen)
	}
}

func TestCommandDeviceRequiresCommands(t *testing.T) {
	if _, err := NewCommandDevice("", "status", "", time.Second, zerolog.Nop()); err == nil {
		t.Fatal("expected error without request command")
	}
}

func TestCommandDevice(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	ctx := context.Background()

	decline := filepath.Join(t.TempDir(), "decline.sh")
	if err := os.WriteFile(decline, []byte("#!/bin/sh\nexit 2\n"), 0o755); err != nil {
		t.Fatalf("write helper: %v", err)
	}

	tests := []struct {
		name       string
		request    string
		status     string
		wantOK     bool
		wantErr    bool
		wantLocked bool
	}{
		{name: "accepted", request: "true", status: "echo locked", wantOK: true, wantLocked: true},
		{name: "declined", request: decline, status: "echo unlocked"},
		{name: "helper failure", request: "false", status: "echo unlocked", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewCommandDevice(tt.request, tt.status, "true", time.Second, zerolog.Nop())
			if err != nil {
				t.Fatalf("NewCommandDevice: %v", err)
			}
			ok, err := d.RequestLockDown(ctx)
			if (err != nil) != tt.wantErr {
				t.Fatalf("RequestLockDown err = %v, wantErr %v", err, tt.wantErr)
			}
			if ok != tt.wantOK {
				t.Errorf("RequestLockDown = %v, want %v", ok, tt.wantOK)
			}
			locked, err := d.IsLockedDown(ctx)
			if err != nil {
				t.Fatalf("IsLockedDown: %v", err)
			}
			if locked != tt.wantLocked {
				t.Errorf("IsLockedDown = %v, want %v", locked, tt.wantLocked)
			}
			if err := d.ReleaseLockDown(ctx); err != nil {
				t.Errorf("ReleaseLockDown: %v", err)
			}
		})
	}
}
