package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubNonceSource struct {
	nonce uint64
	calls int
}

func (s *stubNonceSource) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	s.calls++
	return s.nonce, nil
}

func TestNonceManager(t *testing.T) {
	ctx := context.Background()
	src := &stubNonceSource{nonce: 7}
	m := NewNonceManager(src)

	n, err := m.Next(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)

	m.Increment(alice)
	n, _ = m.Next(ctx, alice)
	assert.Equal(t, uint64(8), n)
	assert.Equal(t, 1, src.calls)

	// Incrementing an unknown account is a no-op until it has been fetched.
	m.Increment(bob)
	n, _ = m.Next(ctx, bob)
	assert.Equal(t, uint64(7), n)

	src.nonce = 12
	require.NoError(t, m.Reset(ctx, alice))
	n, _ = m.Next(ctx, alice)
	assert.Equal(t, uint64(12), n)
}

func TestIsNonceError(t *testing.T) {
	assert.True(t, IsNonceError(errors.New("nonce too low: next nonce 5, tx nonce 4")))
	assert.True(t, IsNonceError(errors.New("replacement transaction underpriced")))
	assert.False(t, IsNonceError(errors.New("insufficient funds for gas")))
	assert.False(t, IsNonceError(nil))
}
