package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"

	"finadvisor/internal/log"

	_ "modernc.org/sqlite"
)

const nonceSize = 24

var (
	// ErrNoKey is returned when the stored credential is sealed and the
	// repository has no key to open it.
	ErrNoKey = errors.New("credential is encrypted but no session secret is configured")
	// ErrDecrypt is returned when the stored credential fails authentication.
	ErrDecrypt = errors.New("decrypt credential")
)

// SQLiteRepository persists the session credential. With a key, the token is
// sealed with secretbox before it touches disk.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	key     *[32]byte
	logger  *log.Logger
}

func NewSQLiteRepository(dbPath string, key *[32]byte, logger *log.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = log.Discard()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		key:     key,
		logger:  logger.WithComponent(log.ComponentStorage),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// SaveCredential implements session.Persister
func (r *SQLiteRepository) SaveCredential(ctx context.Context, credential string) error {
	token := []byte(credential)
	encrypted := false
	if r.key != nil {
		sealed, err := r.seal(token)
		if err != nil {
			return err
		}
		token, encrypted = sealed, true
	}

	if err := r.queries.UpsertCredential(ctx, UpsertCredentialParams{Token: token, Encrypted: encrypted}); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	r.logger.DebugContext(ctx, "Credential saved", "encrypted", encrypted)
	return nil
}

// LoadCredential implements session.Persister
func (r *SQLiteRepository) LoadCredential(ctx context.Context) (string, error) {
	row, err := r.queries.GetCredential(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}

	if !row.Encrypted {
		return string(row.Token), nil
	}
	if r.key == nil {
		return "", ErrNoKey
	}
	plain, err := r.open(row.Token)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// DeleteCredential implements session.Persister
func (r *SQLiteRepository) DeleteCredential(ctx context.Context) error {
	if err := r.queries.DeleteCredential(ctx); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	r.logger.DebugContext(ctx, "Credential deleted")
	return nil
}

func (r *SQLiteRepository) seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, r.key), nil
}

func (r *SQLiteRepository) open(box []byte) ([]byte, error) {
	if len(box) < nonceSize+secretbox.Overhead {
		return nil, ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, r.key)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}
