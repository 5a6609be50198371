package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testnet = "0x000000000b2bce3c70bc649a02749e8687721b09ed2e15997f466536b20bb127"
	mainnet = "0x00000000851caf3cfdb6e899cf5958bfb1ac3413d346d43539627e6be7ec1b4a"
	alice   = "0xCF130b42Ae33C5531277B4B7c0F1D994B8732957"
	bob     = "0xf077b491b355E64048cE21E3A6Fc4751eEeA77fa"
)

func TestKindJSON(t *testing.T) {
	for _, k := range []Kind{KindTemporary, KindPermanent, KindExternal} {
		data, err := json.Marshal(k)
		require.NoError(t, err)
		var back Kind
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, k, back)
	}
	assert.Equal(t, KindUnknown, ParseKind("bogus"))
	assert.Equal(t, "kind(9)", Kind(9).String())
}

func TestKeyNormalisesOrigin(t *testing.T) {
	o, g := Key("HTTPS://App.Example:8443/path?q=1", "0xABC")
	assert.Equal(t, "https://app.example:8443", o)
	assert.Equal(t, "0xabc", g)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, "https://app.example", testnet)
	assert.ErrorIs(t, err, ErrNotFound)

	_, ok, err := Lookup(ctx, store, "https://app.example", testnet)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, Session{Origin: "https://app.example/swap", GenesisID: testnet, Kind: KindTemporary, Address: alice}))
	require.NoError(t, store.Put(ctx, Session{Origin: "https://app.example", GenesisID: mainnet, Kind: KindPermanent, Address: alice}))
	require.NoError(t, store.Put(ctx, Session{Origin: "https://other.example", GenesisID: testnet, Kind: KindExternal, Address: bob}))

	got, ok, err := Lookup(ctx, store, "https://app.example/other-page", testnet)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, KindTemporary, got.Kind)
	assert.Equal(t, "https://app.example", got.Origin)
	assert.False(t, got.CreatedAt.IsZero())

	created := got.CreatedAt
	time.Sleep(time.Millisecond)
	require.NoError(t, store.Put(ctx, Session{Origin: "https://app.example", GenesisID: testnet, Kind: KindPermanent, Address: alice}))
	upgraded, err := store.Get(ctx, "https://app.example", testnet)
	require.NoError(t, err)
	assert.Equal(t, KindPermanent, upgraded.Kind)
	assert.Equal(t, created, upgraded.CreatedAt)

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "https://app.example", list[0].Origin)
	assert.Equal(t, "https://other.example", list[2].Origin)

	removed, err := store.DeleteByAddress(ctx, "0xcf130b42ae33c5531277b4b7c0f1d994b8732957")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	deleted, err := store.Delete(ctx, "https://other.example", testnet)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = store.Delete(ctx, "https://other.example", testnet)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(sqlx.NewDb(db, "postgres")), mock
}

func TestPostgresStoreGet(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("FROM dapp_sessions WHERE origin = \\$1 AND genesis_id = \\$2").
		WithArgs("https://app.example", testnet).
		WillReturnRows(sqlmock.NewRows([]string{"origin", "genesis_id", "kind", "address", "name", "created_at", "updated_at"}).
			AddRow("https://app.example", testnet, "permanent", alice, "App", now, now))

	s, err := store.Get(context.Background(), "https://app.example/page", testnet)
	require.NoError(t, err)
	assert.Equal(t, KindPermanent, s.Kind)
	assert.Equal(t, alice, s.Address)
	assert.Equal(t, "App", s.Name)

	mock.ExpectQuery("FROM dapp_sessions WHERE origin").
		WithArgs("https://none.example", testnet).
		WillReturnError(sql.ErrNoRows)
	_, err = store.Get(context.Background(), "https://none.example", testnet)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreWrites(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO dapp_sessions").
		WithArgs("https://app.example", testnet, "temporary", alice, "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Put(ctx, Session{Origin: "https://app.example", GenesisID: testnet, Kind: KindTemporary, Address: alice}))

	mock.ExpectExec("DELETE FROM dapp_sessions WHERE origin").
		WithArgs("https://app.example", testnet).
		WillReturnResult(sqlmock.NewResult(0, 0))
	deleted, err := store.Delete(ctx, "https://app.example", testnet)
	require.NoError(t, err)
	assert.False(t, deleted)

	mock.ExpectExec("DELETE FROM dapp_sessions WHERE lower\\(address\\)").
		WithArgs(alice).
		WillReturnResult(sqlmock.NewResult(0, 3))
	n, err := store.DeleteByAddress(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreList(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("ORDER BY origin, genesis_id").
		WillReturnRows(sqlmock.NewRows([]string{"origin", "genesis_id", "kind", "address", "name", "created_at", "updated_at"}).
			AddRow("https://a.example", testnet, "temporary", alice, "", now, now).
			AddRow("https://b.example", mainnet, "external", bob, "B", now, now))

	list, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, KindExternal, list[1].Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreIntegration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	store := NewRedisStore(client, "dapp_gateway_test_"+time.Now().Format("150405.000"))
	defer client.Del(ctx, store.hash)

	require.NoError(t, store.Put(ctx, Session{Origin: "https://app.example", GenesisID: testnet, Kind: KindTemporary, Address: alice}))
	got, err := store.Get(ctx, "https://app.example", testnet)
	require.NoError(t, err)
	assert.Equal(t, KindTemporary, got.Kind)

	n, err := store.DeleteByAddress(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Get(ctx, "https://app.example", testnet)
	assert.ErrorIs(t, err, ErrNotFound)
}
