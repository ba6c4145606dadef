// Package database provides the encrypted SQLite engine behind the entity
// store and its migration management.
//
// The live database runs in memory on a single connection. Every committed
// write is followed by Persist, which serializes the database image, seals
// it with a key derived from the passphrase and atomically replaces the file
// on disk. Nothing is written to disk unencrypted.
package database

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/pandeptwidyaop/n8n-monitor/internal/crypto"
)

const (
	fileMagic   = "N8MS"
	fileVersion = byte(1)
	headerSize  = len(fileMagic) + 1 + crypto.SaltSize
)

var (
	// ErrBadPassphrase means the store file could not be decrypted with the
	// supplied passphrase.
	ErrBadPassphrase = errors.New("store passphrase rejected")
	// ErrCorruptStore means the store file is not a recognised snapshot.
	ErrCorruptStore = errors.New("store file is corrupt or has an unknown format")

	ErrNoPassphrase  = errors.New("store passphrase is required")
	errNotSQLiteConn = errors.New("driver connection is not a sqlite3 connection")
)

// Options configures New.
type Options struct {
	// Path of the encrypted snapshot. Empty keeps the store in memory only.
	Path       string
	Passphrase string
	// AllowDestructiveMigration lets Migrate rebuild the schema when no
	// registered migration path exists.
	AllowDestructiveMigration bool
	Logger                    *zap.Logger
}

// DB wraps a sql.DB connection with snapshot persistence.
type DB struct {
	*sql.DB
	path             string
	salt             []byte
	sealer           *crypto.Sealer
	allowDestructive bool
	logger           *zap.Logger

	persistMu sync.Mutex
}

// New opens the in-memory engine and, when a snapshot exists at opts.Path,
// restores it.
func New(opts Options) (*DB, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := openMemory()
	if err != nil {
		return nil, err
	}

	db := &DB{
		DB:               sqlDB,
		path:             opts.Path,
		allowDestructive: opts.AllowDestructiveMigration,
		logger:           logger,
	}

	if opts.Path == "" {
		return db, nil
	}
	if opts.Passphrase == "" {
		_ = sqlDB.Close()
		return nil, ErrNoPassphrase
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0750); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	if err := db.load(opts.Passphrase); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return db, nil
}

// openMemory opens a private in-memory database. The pool is pinned to one
// connection that is never recycled, since closing it discards the data.
func openMemory() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the snapshot path, empty for memory-only stores.
func (db *DB) Path() string {
	return db.path
}

// Migrate runs all registered migrations.
func (db *DB) Migrate() (*MigrationReport, error) {
	report, err := runMigrations(db.DB, db.allowDestructive)
	if err != nil {
		return nil, err
	}
	if report.DataLost {
		db.logger.Error("schema rebuilt destructively, cached data was discarded",
			zap.String("reason", report.Reason))
	}
	if len(report.Applied) > 0 {
		db.logger.Info("migrations applied",
			zap.Strings("migrations", report.Applied),
			zap.Int("batch", report.Batch))
		if err := db.Persist(context.Background()); err != nil {
			return nil, err
		}
	}
	return report, nil
}

// Persist writes an encrypted snapshot of the current database.
func (db *DB) Persist(ctx context.Context) error {
	if db.path == "" {
		return nil
	}

	db.persistMu.Lock()
	defer db.persistMu.Unlock()

	image, err := db.serialize(ctx)
	if err != nil {
		return fmt.Errorf("serialize store: %w", err)
	}

	sealed, err := db.sealer.Seal(image)
	if err != nil {
		return fmt.Errorf("seal store: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(headerSize + len(sealed))
	buf.WriteString(fileMagic)
	buf.WriteByte(fileVersion)
	buf.Write(db.salt)
	buf.Write(sealed)

	return writeFileAtomic(db.path, buf.Bytes())
}

// Close persists a final snapshot and closes the engine.
func (db *DB) Close() error {
	persistErr := db.Persist(context.Background())
	closeErr := db.DB.Close()
	if persistErr != nil {
		return persistErr
	}
	return closeErr
}

func (db *DB) serialize(ctx context.Context) ([]byte, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var image []byte
	err = conn.Raw(func(dc any) error {
		sc, ok := dc.(*sqlite3.SQLiteConn)
		if !ok {
			return errNotSQLiteConn
		}
		b, err := sc.Serialize("main")
		if err != nil {
			return err
		}
		image = b
		return nil
	})
	return image, err
}

func (db *DB) load(passphrase string) error {
	data, err := os.ReadFile(db.path)
	if errors.Is(err, os.ErrNotExist) {
		salt, err := crypto.RandomBytes(crypto.SaltSize)
		if err != nil {
			return err
		}
		return db.setKey(passphrase, salt)
	}
	if err != nil {
		return err
	}

	if len(data) < headerSize || string(data[:len(fileMagic)]) != fileMagic {
		return ErrCorruptStore
	}
	if data[len(fileMagic)] != fileVersion {
		return fmt.Errorf("%w: version %d", ErrCorruptStore, data[len(fileMagic)])
	}

	salt := data[len(fileMagic)+1 : headerSize]
	if err := db.setKey(passphrase, salt); err != nil {
		return err
	}

	image, err := db.sealer.Open(data[headerSize:])
	if err != nil {
		if errors.Is(err, crypto.ErrDecrypt) {
			return ErrBadPassphrase
		}
		return fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}

	if err := db.restore(image); err != nil {
		return fmt.Errorf("restore store: %w", err)
	}

	db.logger.Debug("store snapshot restored", zap.String("path", db.path), zap.Int("bytes", len(image)))
	return nil
}

func (db *DB) setKey(passphrase string, salt []byte) error {
	sealer, err := crypto.NewPassphraseSealer(passphrase, salt)
	if err != nil {
		return err
	}
	db.salt = append([]byte(nil), salt...)
	db.sealer = sealer
	return nil
}

// restore deserializes image into a scratch connection and copies it into
// the live one with the backup API. A deserialized database cannot grow, so
// it is never used directly.
func (db *DB) restore(image []byte) error {
	scratch, err := openMemory()
	if err != nil {
		return err
	}
	defer scratch.Close()

	ctx := context.Background()
	src, err := scratch.Conn(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := db.Conn(ctx)
	if err != nil {
		return err
	}
	defer dst.Close()

	return src.Raw(func(srcDC any) error {
		srcConn, ok := srcDC.(*sqlite3.SQLiteConn)
		if !ok {
			return errNotSQLiteConn
		}
		if err := srcConn.Deserialize(image, "main"); err != nil {
			return err
		}

		return dst.Raw(func(dstDC any) error {
			dstConn, ok := dstDC.(*sqlite3.SQLiteConn)
			if !ok {
				return errNotSQLiteConn
			}
			backup, err := dstConn.Backup("main", srcConn, "main")
			if err != nil {
				return err
			}
			if _, err := backup.Step(-1); err != nil {
				_ = backup.Finish()
				return err
			}
			return backup.Finish()
		})
	})
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
