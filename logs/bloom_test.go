package logs

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
)

func bloomOf(topics ...common.Hash) types.Bloom {
	var bloom types.Bloom
	for _, t := range topics {
		bloom.Add(t.Bytes())
	}
	return bloom
}

func TestActivityInBloom(t *testing.T) {
	for _, topic := range ActivityTopics {
		assert.True(t, ActivityInBloom(bloomOf(topic)), "topic %s", topic.Hex())
	}

	assert.False(t, ActivityInBloom(types.Bloom{}), "empty bloom")
	assert.False(t, ActivityInBloom(bloomOf(PairCreatedEvent)), "factory event only")
	assert.True(t, ActivityInBloom(bloomOf(PairCreatedEvent, UniswapV2SyncEvent)), "mixed block")
}
