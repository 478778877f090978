package wallet

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pgRow struct {
	address   string
	updatedAt time.Time
}

// fakePG answers the wallet_links statements from a map.
type fakePG struct {
	rows     map[string]pgRow
	migrated bool
	err      error
}

type fakeRow struct {
	row pgRow
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.row.address
	*dest[1].(*time.Time) = r.row.updatedAt
	return nil
}

func (f *fakePG) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	switch {
	case strings.Contains(sql, "CREATE TABLE"):
		f.migrated = true
		return pgconn.NewCommandTag("CREATE TABLE"), nil
	case strings.Contains(sql, "INSERT INTO wallet_links"):
		f.rows[args[0].(string)] = pgRow{address: args[1].(string), updatedAt: args[2].(time.Time)}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case strings.Contains(sql, "DELETE FROM wallet_links"):
		delete(f.rows, args[0].(string))
		return pgconn.NewCommandTag("DELETE 1"), nil
	}
	return pgconn.CommandTag{}, errors.New("unexpected statement")
}

func (f *fakePG) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if f.err != nil {
		return fakeRow{err: f.err}
	}
	row, ok := f.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{row: row}
}

func TestPostgresStorage(t *testing.T) {
	db := &fakePG{rows: make(map[string]pgRow)}
	s := NewPostgresStorage(db)
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))
	assert.True(t, db.migrated)

	_, ok, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	addr := common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	at := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, s.Put(ctx, "s1", Link{Address: addr, UpdatedAt: at}))
	require.NoError(t, s.Put(ctx, "s1", Link{Address: addr, UpdatedAt: at.Add(time.Second)}))
	assert.Len(t, db.rows, 1)

	link, ok, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, addr, link.Address)
	assert.Equal(t, at.Add(time.Second), link.UpdatedAt)

	require.NoError(t, s.Delete(ctx, "s1"))
	assert.Empty(t, db.rows)

	db.err = errors.New("connection refused")
	_, _, err = s.Get(ctx, "s1")
	assert.ErrorContains(t, err, "connection refused")
	assert.Error(t, s.Put(ctx, "s1", Link{Address: addr}))
}
