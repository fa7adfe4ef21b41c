package wallet

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddress = "0x8ba1f109551bD432803012645E136c22C501e5b5"

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	c, err := NewCipher("correct horse battery staple")
	require.NoError(t, err)
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "wallets.db"), c)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher(strings.Repeat("ab", 32))
	require.NoError(t, err)

	sealed, err := c.Encrypt([]byte(`{"seed":"secret"}`))
	require.NoError(t, err)
	assert.NotContains(t, sealed, "secret")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, `{"seed":"secret"}`, string(plain))

	again, err := c.Encrypt([]byte(`{"seed":"secret"}`))
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again)
}

func TestCipherRejectsForeignCiphertext(t *testing.T) {
	a, err := NewCipher("key-a")
	require.NoError(t, err)
	b, err := NewCipher("key-b")
	require.NoError(t, err)

	sealed, err := a.Encrypt([]byte("data"))
	require.NoError(t, err)

	_, err = b.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrCiphertext)

	_, err = a.Decrypt("not base64!")
	assert.ErrorIs(t, err, ErrCiphertext)

	_, err = a.Decrypt("AAAA")
	assert.ErrorIs(t, err, ErrCiphertext)
}

func TestEphemeralCipher(t *testing.T) {
	c, err := NewCipher("")
	require.NoError(t, err)
	sealed, err := c.Encrypt(nil)
	require.NoError(t, err)
	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestStoreSaveGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Save(ctx, Connection{UserID: "alice", Address: testAddress, Data: []byte("wallet-blob")}))

	got, err = s.Get(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, testAddress, got.Address)
	assert.Equal(t, "base-sepolia", got.Network)
	assert.Equal(t, "wallet-blob", string(got.Data))
	assert.False(t, got.ConnectedAt.IsZero())

	var raw string
	require.NoError(t, s.db.QueryRow(`SELECT wallet_data FROM wallet_connections WHERE user_id = ?`, "alice").Scan(&raw))
	assert.NotContains(t, raw, "wallet-blob")
}

func TestStoreUpsertAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, Connection{UserID: "bob", Address: testAddress}))
	other := "0x742d35Cc6634C0532925a3b8D4C9db96590c6C87"
	require.NoError(t, s.Save(ctx, Connection{UserID: "bob", Address: other, Network: "base"}))

	got, err := s.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, other, got.Address)
	assert.Equal(t, "base", got.Network)

	require.NoError(t, s.Delete(ctx, "bob"))
	got, err = s.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, s.Ping(ctx))
}

func TestStoreRejectsBadAddress(t *testing.T) {
	s := newTestStore(t)
	err := s.Save(context.Background(), Connection{UserID: "carol", Address: "0xnothex"})
	assert.ErrorIs(t, err, ErrInvalidAddress)
}
