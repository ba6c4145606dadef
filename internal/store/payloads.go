package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pandeptwidyaop/n8n-monitor/internal/crypto"
	"github.com/pandeptwidyaop/n8n-monitor/internal/models"
)

const (
	payloadExt      = ".payload"
	payloadSaltFile = ".salt"
)

var ErrInvalidPayloadPath = errors.New("payload path outside payload directory")

// PayloadStore keeps large execution node data out of the database as
// encrypted files. Rows reference them through data_chunk_path.
type PayloadStore struct {
	dir    string
	sealer *crypto.Sealer
}

// NewPayloadStore opens dir, creating it and its key salt on first use.
func NewPayloadStore(dir, passphrase string) (*PayloadStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}

	saltPath := filepath.Join(dir, payloadSaltFile)
	salt, err := os.ReadFile(saltPath)
	if errors.Is(err, os.ErrNotExist) {
		salt, err = crypto.RandomBytes(crypto.SaltSize)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(saltPath, salt, 0600); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	if len(salt) != crypto.SaltSize {
		return nil, fmt.Errorf("payload salt has %d bytes, expected %d", len(salt), crypto.SaltSize)
	}

	sealer, err := crypto.NewPassphraseSealer(passphrase, salt)
	if err != nil {
		return nil, err
	}
	return &PayloadStore{dir: dir, sealer: sealer}, nil
}

// Dir returns the payload directory.
func (p *PayloadStore) Dir() string {
	return p.dir
}

// Write stores the node data of an execution and returns its path.
func (p *PayloadStore) Write(executionID string, nodes []models.ExecutionNodeDTO) (string, error) {
	data, err := json.Marshal(nodes)
	if err != nil {
		return "", err
	}
	sealed, err := p.sealer.Seal(data)
	if err != nil {
		return "", err
	}

	path := filepath.Join(p.dir, payloadFileName(executionID))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0600); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return path, nil
}

// Read loads a payload written by Write.
func (p *PayloadStore) Read(path string) ([]models.ExecutionNodeDTO, error) {
	if !p.owns(path) {
		return nil, ErrInvalidPayloadPath
	}
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data, err := p.sealer.Open(sealed)
	if err != nil {
		return nil, err
	}

	var nodes []models.ExecutionNodeDTO
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// RemoveOrphans deletes payload files not listed in referenced.
func (p *PayloadStore) RemoveOrphans(referenced []string) (int, error) {
	keep := make(map[string]bool, len(referenced))
	for _, path := range referenced {
		keep[filepath.Clean(path)] = true
	}

	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), payloadExt) {
			continue
		}
		path := filepath.Join(p.dir, entry.Name())
		if keep[filepath.Clean(path)] {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (p *PayloadStore) owns(path string) bool {
	rel, err := filepath.Rel(p.dir, path)
	return err == nil && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}

// payloadFileName maps an execution id to a safe file name.
func payloadFileName(executionID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, executionID)
	return safe + payloadExt
}
