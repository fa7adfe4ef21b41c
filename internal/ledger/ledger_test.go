package ledger

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreWithoutDatabaseURL(t *testing.T) {
	s, err := NewStore(context.Background(), "  ")
	require.NoError(t, err)
	_, ok := s.(*InMemoryStore)
	assert.True(t, ok)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
}

func TestInMemoryRecordDefaults(t *testing.T) {
	s := NewInMemoryStore()

	e, err := s.Record(context.Background(), Entry{UserID: "alice", Kind: KindTransfer, Amount: "0.1", Token: "ETH", TxHash: "0xaa"})
	require.NoError(t, err)
	_, err = uuid.Parse(e.ID)
	assert.NoError(t, err)
	assert.Equal(t, "success", e.Status)
	assert.False(t, e.CreatedAt.IsZero())
}

func TestInMemoryRecentNewestFirst(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.Record(ctx, Entry{UserID: "bob", Kind: KindPayment, Amount: fmt.Sprint(i + 1), Token: "USDC"})
		require.NoError(t, err)
	}
	_, err := s.Record(ctx, Entry{UserID: "carol", Kind: KindAction, Amount: "9", Token: "ETH"})
	require.NoError(t, err)

	got, err := s.Recent(ctx, "bob", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "5", got[0].Amount)
	assert.Equal(t, "3", got[2].Amount)

	all, err := s.Recent(ctx, "bob", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	none, err := s.Recent(ctx, "dave", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
