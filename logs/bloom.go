package logs

import (
	"github.com/ethereum/go-ethereum/core/types"
)

// ActivityInBloom reports whether a block bloom may contain any activity event.
func ActivityInBloom(bloom types.Bloom) bool {
	for _, topic := range ActivityTopics {
		if bloom.Test(topic.Bytes()) {
			return true
		}
	}
	return false
}
