// Package settings is the encrypted settings file holding the n8n
// connection credentials, the store passphrase and user preferences.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pandeptwidyaop/n8n-monitor/internal/crypto"
	"github.com/pandeptwidyaop/n8n-monitor/internal/validation"
)

const (
	DefaultPollInterval = 15
	MinPollInterval     = 5
	MaxPollInterval     = 60
)

// ErrCorrupt means the settings file exists but cannot be decrypted with
// the master key.
var ErrCorrupt = errors.New("settings file cannot be decrypted")

// Value is an optional setting. Set is false when nothing is stored, which
// is distinct from a stored empty string.
type Value struct {
	Value string
	Set   bool
}

func valueOf(p *string) Value {
	if p == nil {
		return Value{}
	}
	return Value{Value: *p, Set: true}
}

// Snapshot is a copy of the current settings.
type Snapshot struct {
	BaseURL              Value
	APIKey               Value
	PollIntervalMinutes  int
	NotificationsEnabled bool
	LastSyncTime         *time.Time
}

// PollInterval returns the poll interval as a duration.
func (s Snapshot) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMinutes) * time.Minute
}

// document is the encrypted on-disk form.
type document struct {
	BaseURL              *string `json:"base_url,omitempty"`
	APIKey               *string `json:"api_key,omitempty"`
	DBPassphrase         string  `json:"db_passphrase"`
	PollIntervalMinutes  int     `json:"poll_interval_minutes"`
	NotificationsEnabled *bool   `json:"notifications_enabled,omitempty"`
	LastSyncTime         *int64  `json:"last_sync_time,omitempty"`
}

func (d *document) snapshot() Snapshot {
	snap := Snapshot{
		BaseURL:              valueOf(d.BaseURL),
		APIKey:               valueOf(d.APIKey),
		PollIntervalMinutes:  clampPollInterval(d.PollIntervalMinutes),
		NotificationsEnabled: d.NotificationsEnabled == nil || *d.NotificationsEnabled,
	}
	if d.LastSyncTime != nil {
		t := time.UnixMilli(*d.LastSyncTime)
		snap.LastSyncTime = &t
	}
	return snap
}

func clampPollInterval(minutes int) int {
	switch {
	case minutes == 0:
		return DefaultPollInterval
	case minutes < MinPollInterval:
		return MinPollInterval
	case minutes > MaxPollInterval:
		return MaxPollInterval
	}
	return minutes
}

// Store is the settings file. All methods are safe for concurrent use.
type Store struct {
	path   string
	sealer *crypto.Sealer
	logger *zap.Logger

	mu  sync.RWMutex
	doc document

	subsMu sync.Mutex
	subs   map[string]chan Snapshot
}

// Open loads the settings at path, creating the file with a fresh store
// passphrase when it does not exist.
func Open(path string, masterKey []byte, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sealer, err := crypto.NewSealer(masterKey)
	if err != nil {
		return nil, err
	}

	s := &Store{
		path:   path,
		sealer: sealer,
		logger: logger,
		subs:   make(map[string]chan Snapshot),
	}

	doc, err := s.read()
	if errors.Is(err, os.ErrNotExist) {
		passphrase, err := crypto.NewPassphrase()
		if err != nil {
			return nil, err
		}
		s.doc = document{DBPassphrase: passphrase, PollIntervalMinutes: DefaultPollInterval}
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, err
		}
		if err := s.write(s.doc); err != nil {
			return nil, err
		}
		logger.Info("settings file created", zap.String("path", path))
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	s.doc = doc
	if s.doc.DBPassphrase == "" {
		// Older files may lack a passphrase; generate one so the store can open.
		if s.doc.DBPassphrase, err = crypto.NewPassphrase(); err != nil {
			return nil, err
		}
		if err := s.write(s.doc); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) read() (document, error) {
	var doc document
	sealed, err := os.ReadFile(s.path)
	if err != nil {
		return doc, err
	}
	data, err := s.sealer.Open(sealed)
	if err != nil {
		return doc, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return doc, nil
}

func (s *Store) write(doc document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	sealed, err := s.sealer.Seal(data)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// update applies fn to a copy of the document, writes it and notifies
// watchers.
func (s *Store) update(fn func(d *document)) error {
	s.mu.Lock()
	next := s.doc
	fn(&next)
	if err := s.write(next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.doc = next
	snap := next.snapshot()
	s.mu.Unlock()

	s.broadcast(snap)
	return nil
}

// Path returns the settings file path.
func (s *Store) Path() string {
	return s.path
}

// Snapshot returns the current settings.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.snapshot()
}

// BaseURL returns the configured n8n server URL.
func (s *Store) BaseURL() Value {
	return s.Snapshot().BaseURL
}

// APIKey returns the configured n8n API key.
func (s *Store) APIKey() Value {
	return s.Snapshot().APIKey
}

// DatabasePassphrase returns the passphrase protecting the entity store.
func (s *Store) DatabasePassphrase() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.DBPassphrase
}

// SetBaseURL validates and stores the server URL without trailing slashes.
func (s *Store) SetBaseURL(raw string) error {
	normalized, err := validation.NormalizeBaseURL(raw)
	if err != nil {
		return err
	}
	return s.update(func(d *document) { d.BaseURL = &normalized })
}

// SetAPIKey validates and stores the API key.
func (s *Store) SetAPIKey(key string) error {
	if err := validation.ValidateAPIKey(key); err != nil {
		return err
	}
	return s.update(func(d *document) { d.APIKey = &key })
}

// SetPollInterval stores the poll interval, clamped to 5..60 minutes.
func (s *Store) SetPollInterval(minutes int) error {
	if minutes <= 0 {
		minutes = MinPollInterval
	}
	minutes = clampPollInterval(minutes)
	return s.update(func(d *document) { d.PollIntervalMinutes = minutes })
}

func (s *Store) SetNotificationsEnabled(enabled bool) error {
	return s.update(func(d *document) { d.NotificationsEnabled = &enabled })
}

func (s *Store) SetLastSyncTime(t time.Time) error {
	ms := t.UnixMilli()
	return s.update(func(d *document) { d.LastSyncTime = &ms })
}

// Clear removes the credentials and resets preferences. The store
// passphrase is kept so the entity store remains readable.
func (s *Store) Clear() error {
	return s.update(func(d *document) {
		*d = document{DBPassphrase: d.DBPassphrase, PollIntervalMinutes: DefaultPollInterval}
	})
}

// Watch delivers the current settings and then every change until ctx ends.
// Slow receivers only see the latest snapshot.
func (s *Store) Watch(ctx context.Context) <-chan Snapshot {
	id := uuid.New().String()
	ch := make(chan Snapshot, 1)
	ch <- s.Snapshot()

	s.subsMu.Lock()
	s.subs[id] = ch
	s.subsMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subsMu.Lock()
		delete(s.subs, id)
		close(ch)
		s.subsMu.Unlock()
	}()

	return ch
}

func (s *Store) broadcast(snap Snapshot) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		// Replace a pending snapshot the receiver has not taken yet.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// reload re-reads the file after an external edit.
func (s *Store) reload() error {
	doc, err := s.read()
	if err != nil {
		return err
	}
	s.mu.Lock()
	if doc.DBPassphrase == "" {
		doc.DBPassphrase = s.doc.DBPassphrase
	}
	if sameDocument(doc, s.doc) {
		s.mu.Unlock()
		return nil
	}
	s.doc = doc
	snap := doc.snapshot()
	s.mu.Unlock()

	s.broadcast(snap)
	return nil
}

func sameDocument(a, b document) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}
