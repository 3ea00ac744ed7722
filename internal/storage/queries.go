package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

// Credential is the single persisted session row.
type Credential struct {
	Token     []byte
	Encrypted bool
}

const upsertCredential = `
INSERT INTO credentials (id, token, encrypted, updated_at)
VALUES (1, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(id) DO UPDATE SET
    token = excluded.token,
    encrypted = excluded.encrypted,
    updated_at = CURRENT_TIMESTAMP
`

type UpsertCredentialParams struct {
	Token     []byte
	Encrypted bool
}

func (q *Queries) UpsertCredential(ctx context.Context, arg UpsertCredentialParams) error {
	_, err := q.db.ExecContext(ctx, upsertCredential, arg.Token, arg.Encrypted)
	return err
}

const getCredential = `SELECT token, encrypted FROM credentials WHERE id = 1`

func (q *Queries) GetCredential(ctx context.Context) (Credential, error) {
	row := q.db.QueryRowContext(ctx, getCredential)
	var c Credential
	err := row.Scan(&c.Token, &c.Encrypted)
	return c, err
}

const deleteCredential = `DELETE FROM credentials WHERE id = 1`

func (q *Queries) DeleteCredential(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteCredential)
	return err
}
