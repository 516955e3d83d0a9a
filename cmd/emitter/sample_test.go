package main

import (
	"bytes"
	"math/rand"
	"testing"

	"gateway/pkg/changefeed"
	"gateway/pkg/registry"
	"gateway/pkg/routing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSamplesRouteToTheirOwner(t *testing.T) {
	policy, err := routing.NewPolicy([]routing.Rule{
		{Topic: "combat_logs", PlayerFields: []string{"attacker_id", "defender_id"}},
		{Topic: "hospital_stays"},
		{Topic: "stock_transactions"},
		{Topic: "marketplace_listings", PlayerFields: []string{"seller_id", "buyer_id"}, PublicWhenUnowned: true},
	})
	require.NoError(t, err)
	filter := routing.NewFilter(policy)
	rng := rand.New(rand.NewSource(1))

	owner := registry.NewView(&registry.Identity{PlayerID: "42"}, policy.Topics()...)
	stranger := registry.NewView(&registry.Identity{PlayerID: "43"}, policy.Topics()...)

	for _, topic := range policy.Topics() {
		key, value, err := encodeSample(topic, 42, 5, rng)
		require.NoError(t, err)
		assert.Equal(t, "[42]", string(key))

		rec, err := changefeed.ParseRecord(changefeed.Message{Topic: topic, Value: value})
		require.NoError(t, err, topic)
		assert.True(t, filter.ShouldDeliver(owner, rec), topic)
		assert.False(t, filter.ShouldDeliver(stranger, rec), topic)
	}
}

func TestUnownedListingHasNoSeller(t *testing.T) {
	_, value, err := encodeSample("marketplace_listings", 0, 0, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.False(t, bytes.Contains(value, []byte("seller_id")))
}
