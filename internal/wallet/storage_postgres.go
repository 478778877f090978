// internal/wallet/storage_postgres.go
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgxConn is satisfied by *pgxpool.Pool and pgx.Tx.
type pgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WalletLinksSchema creates the table PostgresStorage uses.
const WalletLinksSchema = `
CREATE TABLE IF NOT EXISTS wallet_links (
	session_id TEXT PRIMARY KEY,
	address    TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// PostgresStorage stores links in the wallet_links table.
type PostgresStorage struct {
	db pgxConn
}

// NewPostgresStorage wraps a pgx pool or transaction.
func NewPostgresStorage(db pgxConn) *PostgresStorage {
	return &PostgresStorage{db: db}
}

// Migrate creates the wallet_links table if needed.
func (s *PostgresStorage) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, WalletLinksSchema); err != nil {
		return fmt.Errorf("migrate wallet_links: %w", err)
	}
	return nil
}

// Get implements Storage.
func (s *PostgresStorage) Get(ctx context.Context, sessionID string) (Link, bool, error) {
	var (
		addr      string
		updatedAt time.Time
	)
	err := s.db.QueryRow(ctx,
		`SELECT address, updated_at FROM wallet_links WHERE session_id = $1`, sessionID,
	).Scan(&addr, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Link{}, false, nil
	}
	if err != nil {
		return Link{}, false, fmt.Errorf("select wallet link: %w", err)
	}
	return Link{Address: common.HexToAddress(addr), UpdatedAt: updatedAt}, true, nil
}

// Put implements Storage.
func (s *PostgresStorage) Put(ctx context.Context, sessionID string, link Link) error {
	q := `
	INSERT INTO wallet_links (session_id, address, updated_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (session_id) DO UPDATE
	SET address = EXCLUDED.address, updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.Exec(ctx, q, sessionID, link.Address.Hex(), link.UpdatedAt); err != nil {
		return fmt.Errorf("upsert wallet link: %w", err)
	}
	return nil
}

// Delete implements Storage.
func (s *PostgresStorage) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM wallet_links WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete wallet link: %w", err)
	}
	return nil
}
