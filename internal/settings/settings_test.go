package settings

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pandeptwidyaop/n8n-monitor/internal/validation"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x11}, 32)
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "settings.enc"), testKey(), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open settings: %v", err)
	}
	return s
}

func TestOpen_CreatesDefaults(t *testing.T) {
	s := setupTestStore(t)

	snap := s.Snapshot()
	if snap.BaseURL.Set || snap.APIKey.Set {
		t.Error("expected credentials to be unset")
	}
	if snap.PollIntervalMinutes != DefaultPollInterval {
		t.Errorf("expected poll interval %d, got %d", DefaultPollInterval, snap.PollIntervalMinutes)
	}
	if !snap.NotificationsEnabled {
		t.Error("expected notifications enabled by default")
	}
	if snap.LastSyncTime != nil {
		t.Error("expected no last sync time")
	}
	if len(s.DatabasePassphrase()) != 64 {
		t.Errorf("expected generated 64-char passphrase, got %d chars", len(s.DatabasePassphrase()))
	}
	if _, err := os.Stat(s.Path()); err != nil {
		t.Errorf("expected settings file to exist: %v", err)
	}
}

func TestSetters_PersistEncrypted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.enc")
	s, err := Open(path, testKey(), nil)
	if err != nil {
		t.Fatalf("failed to open settings: %v", err)
	}

	if err := s.SetBaseURL("https://n8n.example.com/"); err != nil {
		t.Fatalf("failed to set base URL: %v", err)
	}
	if err := s.SetAPIKey("abc123-secret-key"); err != nil {
		t.Fatalf("failed to set API key: %v", err)
	}
	if err := s.SetNotificationsEnabled(false); err != nil {
		t.Fatalf("failed to set notifications: %v", err)
	}
	synced := time.UnixMilli(1700000000000)
	if err := s.SetLastSyncTime(synced); err != nil {
		t.Fatalf("failed to set last sync: %v", err)
	}

	raw, _ := os.ReadFile(path)
	if bytes.Contains(raw, []byte("abc123-secret-key")) || bytes.Contains(raw, []byte("n8n.example.com")) {
		t.Error("settings file must be encrypted")
	}

	reopened, err := Open(path, testKey(), nil)
	if err != nil {
		t.Fatalf("failed to reopen settings: %v", err)
	}
	snap := reopened.Snapshot()
	if snap.BaseURL.Value != "https://n8n.example.com" {
		t.Errorf("expected trailing slash trimmed, got %q", snap.BaseURL.Value)
	}
	if snap.APIKey.Value != "abc123-secret-key" {
		t.Errorf("unexpected API key %q", snap.APIKey.Value)
	}
	if snap.NotificationsEnabled {
		t.Error("expected notifications disabled")
	}
	if snap.LastSyncTime == nil || !snap.LastSyncTime.Equal(synced) {
		t.Errorf("unexpected last sync %v", snap.LastSyncTime)
	}
	if reopened.DatabasePassphrase() != s.DatabasePassphrase() {
		t.Error("expected passphrase to survive reopen")
	}
}

func TestOpen_WrongMasterKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.enc")
	if _, err := Open(path, testKey(), nil); err != nil {
		t.Fatalf("failed to open settings: %v", err)
	}

	_, err := Open(path, bytes.Repeat([]byte{0x22}, 32), nil)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}

func TestSetters_Validation(t *testing.T) {
	s := setupTestStore(t)

	if err := s.SetAPIKey("short"); !errors.Is(err, validation.ErrAPIKeyTooShort) {
		t.Errorf("expected ErrAPIKeyTooShort, got %v", err)
	}
	if err := s.SetAPIKey("   "); !errors.Is(err, validation.ErrAPIKeyBlank) {
		t.Errorf("expected ErrAPIKeyBlank, got %v", err)
	}
	if err := s.SetBaseURL("n8n.example.com"); !errors.Is(err, validation.ErrBaseURLScheme) {
		t.Errorf("expected ErrBaseURLScheme, got %v", err)
	}
	if s.APIKey().Set || s.BaseURL().Set {
		t.Error("rejected values must not be stored")
	}
}

func TestSetPollInterval_Clamps(t *testing.T) {
	s := setupTestStore(t)

	cases := map[int]int{1: 5, 5: 5, 30: 30, 60: 60, 120: 60, -3: 5}
	for in, want := range cases {
		if err := s.SetPollInterval(in); err != nil {
			t.Fatalf("failed to set poll interval: %v", err)
		}
		if got := s.Snapshot().PollIntervalMinutes; got != want {
			t.Errorf("SetPollInterval(%d): expected %d, got %d", in, want, got)
		}
	}
	if s.Snapshot().PollInterval() != 5*time.Minute {
		t.Errorf("unexpected duration %v", s.Snapshot().PollInterval())
	}
}

func TestClear_KeepsPassphrase(t *testing.T) {
	s := setupTestStore(t)
	passphrase := s.DatabasePassphrase()

	_ = s.SetBaseURL("https://n8n.example.com")
	_ = s.SetAPIKey("abc123abc123")
	_ = s.SetPollInterval(30)

	if err := s.Clear(); err != nil {
		t.Fatalf("failed to clear: %v", err)
	}

	snap := s.Snapshot()
	if snap.BaseURL.Set || snap.APIKey.Set {
		t.Error("expected credentials cleared")
	}
	if snap.PollIntervalMinutes != DefaultPollInterval {
		t.Errorf("expected poll interval reset, got %d", snap.PollIntervalMinutes)
	}
	if s.DatabasePassphrase() != passphrase {
		t.Error("expected passphrase kept after clear")
	}
}

func receive(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatal("watch channel closed")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for settings")
	}
	return Snapshot{}
}

func TestWatch_DeliversChanges(t *testing.T) {
	s := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch := s.Watch(ctx)
	if initial := receive(t, ch); initial.BaseURL.Set {
		t.Error("expected initial snapshot without base URL")
	}

	if err := s.SetBaseURL("https://n8n.example.com"); err != nil {
		t.Fatalf("failed to set base URL: %v", err)
	}
	if snap := receive(t, ch); snap.BaseURL.Value != "https://n8n.example.com" {
		t.Errorf("unexpected snapshot %+v", snap.BaseURL)
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel closed after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close")
	}
}

func TestWatchFile_ReloadsExternalEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.enc")
	s, err := Open(path, testKey(), nil)
	if err != nil {
		t.Fatalf("failed to open settings: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Watch(ctx)
	receive(t, ch)

	done := make(chan error, 1)
	go func() { done <- s.WatchFile(ctx) }()

	// Give the watcher time to register before the external write.
	time.Sleep(50 * time.Millisecond)

	other, err := Open(path, testKey(), nil)
	if err != nil {
		t.Fatalf("failed to open second handle: %v", err)
	}
	if err := other.SetAPIKey("external-key-123"); err != nil {
		t.Fatalf("failed to write from second handle: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case snap := <-ch:
			if snap.APIKey.Value == "external-key-123" {
				cancel()
				if err := <-done; err != nil {
					t.Errorf("watcher returned error: %v", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("external edit was not picked up")
		}
	}
}
