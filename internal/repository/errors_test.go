package repository

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/pandeptwidyaop/n8n-monitor/internal/remote"
	"github.com/pandeptwidyaop/n8n-monitor/internal/store"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		stop bool
		want Kind
	}{
		{"unauthorized", &remote.HTTPError{StatusCode: http.StatusUnauthorized}, false, KindUnauthorized},
		{"forbidden", &remote.HTTPError{StatusCode: http.StatusForbidden}, false, KindForbidden},
		{"not found", &remote.HTTPError{StatusCode: http.StatusNotFound}, false, KindNotFound},
		{"not found on stop", &remote.HTTPError{StatusCode: http.StatusNotFound}, true, KindNotFound},
		{"conflict on stop", &remote.HTTPError{StatusCode: http.StatusConflict}, true, KindConflict},
		{"conflict elsewhere", &remote.HTTPError{StatusCode: http.StatusConflict}, false, KindUnknown},
		{"internal error", &remote.HTTPError{StatusCode: http.StatusInternalServerError}, false, KindServerError},
		{"bad gateway", &remote.HTTPError{StatusCode: http.StatusBadGateway}, false, KindServerError},
		{"teapot", &remote.HTTPError{StatusCode: http.StatusTeapot}, false, KindUnknown},
		{"transport", &remote.TransportError{Op: "GET /workflows", Err: &net.OpError{Op: "dial", Err: errors.New("refused")}}, false, KindConnectivity},
		{"deadline", context.DeadlineExceeded, false, KindConnectivity},
		{"cancelled", context.Canceled, false, KindUnknown},
		{"cancelled in transport", &remote.TransportError{Err: context.Canceled}, false, KindUnknown},
		{"wrapped transport", fmt.Errorf("outer: %w", &remote.TransportError{Err: errors.New("dns")}), false, KindConnectivity},
		{"other", errors.New("decode failure"), false, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", tt.err, tt.stop)
			if got := KindOf(err); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
			if !errors.Is(err, tt.err) {
				t.Error("expected classified error to wrap the cause")
			}
		})
	}

	if classify("op", nil, false) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestClassify_KeepsStatusInMessage(t *testing.T) {
	err := classify("list workflows", &remote.HTTPError{StatusCode: 418, Message: "short and stout"}, false)
	msg := err.Error()
	if !strings.Contains(msg, "418") || !strings.Contains(msg, "short and stout") {
		t.Errorf("expected status and message in %q", msg)
	}
}

func TestStorageError(t *testing.T) {
	if KindOf(storageError("read", store.ErrNotFound)) != KindNotFound {
		t.Error("expected not found for a missing record")
	}
	if KindOf(storageError("write", store.ErrPersist)) != KindStorage {
		t.Error("expected storage kind for persist failures")
	}
	if got := KindOf(storageError("write", fmt.Errorf("begin: %w", context.Canceled))); got != KindUnknown {
		t.Errorf("expected unknown for a cancelled write, got %s", got)
	}
}

func TestKindOf_NonRepositoryError(t *testing.T) {
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("expected unknown for foreign errors")
	}
	if KindOf(nil) != KindUnknown {
		t.Error("expected unknown for nil")
	}
}

func TestError_Guidance(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{&Error{Kind: KindConfiguration, Config: ConfigMissingURL}, "settings"},
		{&Error{Kind: KindConfiguration, Config: ConfigInvalidURL}, "settings"},
		{&Error{Kind: KindConnectivity}, "retry"},
		{&Error{Kind: KindServerError}, "Retry"},
		{&Error{Kind: KindUnauthorized}, "credential"},
		{&Error{Kind: KindForbidden}, "credential"},
	}
	for _, tt := range tests {
		if got := tt.err.Guidance(); !strings.Contains(got, tt.want) {
			t.Errorf("expected guidance for %s to mention %q, got %q", tt.err.Kind, tt.want, got)
		}
	}
}

func TestValidateConnection_Normalizes(t *testing.T) {
	f := setupTestRepository(t)
	f.secrets.set("  https://n8n.example.com/// ", "abc12345")

	conn, err := ValidateConnection(f.secrets.BaseURL(), f.secrets.APIKey())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn.BaseURL != "https://n8n.example.com" {
		t.Errorf("expected trimmed URL, got %q", conn.BaseURL)
	}
}

func TestRetry(t *testing.T) {
	policy := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	calls := 0
	got, err := Retry(context.Background(), policy, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, &Error{Kind: KindConnectivity}
		}
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("expected success on third attempt, got %d, %v", got, err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}

	calls = 0
	_, err = Retry(context.Background(), policy, func(ctx context.Context) (int, error) {
		calls++
		return 0, &Error{Kind: KindUnauthorized}
	})
	if KindOf(err) != KindUnauthorized || calls != 1 {
		t.Errorf("expected one call for a non-retryable error, got %d, %v", calls, err)
	}

	calls = 0
	_, err = Retry(context.Background(), policy, func(ctx context.Context) (int, error) {
		calls++
		return 0, &Error{Kind: KindServerError}
	})
	if KindOf(err) != KindServerError || calls != 3 {
		t.Errorf("expected attempts to be exhausted, got %d, %v", calls, err)
	}
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{Attempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}

	calls := 0
	_, err := Retry(ctx, policy, func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, &Error{Kind: KindConnectivity}
	})
	if calls != 1 {
		t.Errorf("expected no retry after cancel, got %d calls", calls)
	}
	if KindOf(err) != KindConnectivity {
		t.Errorf("expected last error to be returned, got %v", err)
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	if d := p.delay(1); d != 100*time.Millisecond {
		t.Errorf("expected 100ms, got %v", d)
	}
	if d := p.delay(2); d != 200*time.Millisecond {
		t.Errorf("expected 200ms, got %v", d)
	}
	if d := p.delay(3); d != 300*time.Millisecond {
		t.Errorf("expected cap of 300ms, got %v", d)
	}
}
