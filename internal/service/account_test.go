package service

import (
	"testing"

	"github.com/settlus/settlegate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestAccountDirectory(t *testing.T) {
	dir, err := NewAccountDirectory([]config.AccountConfig{
		{Name: "ops", Address: owner.Hex(), APIKey: "k-ops", QPS: 5, Burst: 2},
		{Name: "cron", Address: settler.Hex(), APIKey: "k-cron"},
		{Name: "cron-2", Address: settler.Hex(), APIKey: "k-cron-2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, dir.Len())

	acct, ok := dir.ByAPIKey("k-ops")
	require.True(t, ok)
	assert.Equal(t, owner, acct.Address)
	assert.Equal(t, rate.Limit(5), dir.Limiter(owner).Limit())
	assert.Equal(t, rate.Inf, dir.Limiter(settler).Limit())

	_, ok = dir.ByAPIKey("nope")
	assert.False(t, ok)

	dir.Remove("k-cron")
	assert.NotNil(t, dir.Limiter(settler), "limiter kept while another key maps to the account")
	dir.Remove("k-cron-2")
	assert.Nil(t, dir.Limiter(settler))
}

func TestAccountDirectoryRejectsBadConfig(t *testing.T) {
	_, err := NewAccountDirectory([]config.AccountConfig{{Name: "x", Address: "nope", APIKey: "k"}})
	assert.Error(t, err)
	_, err = NewAccountDirectory([]config.AccountConfig{{Name: "x", Address: owner.Hex()}})
	assert.Error(t, err)
}
