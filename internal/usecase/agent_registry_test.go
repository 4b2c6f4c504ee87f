package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TPMForge/internal/domain/models"
)

func TestAgentRegistry_AddAndList(t *testing.T) {
	reg, err := NewAgentRegistry(kindSet{"kraken": true}, []models.AgentSpec{spec("btc", "finance", "btc_usd")})
	require.NoError(t, err)

	require.NoError(t, reg.Add(spec("eth", "finance", "eth_usd")))
	assert.Equal(t, 2, reg.Len())

	list := reg.List()
	assert.Equal(t, "btc", list[0].Name)
	assert.Equal(t, "eth", list[1].Name)

	list[0].Name = "mutated"
	got, ok := reg.Get("btc")
	require.True(t, ok)
	assert.Equal(t, "btc_usd", got.Market)
}

func TestAgentRegistry_Rejects(t *testing.T) {
	reg, err := NewAgentRegistry(kindSet{"kraken": true}, nil)
	require.NoError(t, err)
	require.NoError(t, reg.Add(spec("btc", "finance", "btc_usd")))

	assert.ErrorIs(t, reg.Add(spec("btc", "finance", "other")), ErrAgentExists)

	bad := spec("x", "finance", "x")
	bad.Sources[0].Kind = "nope"
	assert.ErrorIs(t, reg.Add(bad), ErrUnknownSourceKind)
	assert.Equal(t, 1, reg.Len())

	_, ok := reg.Get("x")
	assert.False(t, ok)
}

func TestNewAgentRegistry_FailsOnDuplicateSeed(t *testing.T) {
	_, err := NewAgentRegistry(kindSet{"kraken": true}, []models.AgentSpec{
		spec("btc", "finance", "a"), spec("btc", "finance", "b"),
	})
	assert.ErrorIs(t, err, ErrAgentExists)
}
