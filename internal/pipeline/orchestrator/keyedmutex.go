// internal/pipeline/orchestrator/keyedmutex.go
package orchestrator

import (
	"hash/fnv"
	"sync"
)

// keyedMutex serializes work per key while leaving different keys fully
// parallel. Keys are hashed onto a fixed shard set so memory use stays
// bounded no matter how many senders show up.
type keyedMutex struct {
	shards []sync.Mutex
}

func newKeyedMutex(shards int) *keyedMutex {
	if shards <= 0 {
		shards = 256
	}
	return &keyedMutex{shards: make([]sync.Mutex, shards)}
}

func (m *keyedMutex) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &m.shards[h.Sum32()%uint32(len(m.shards))]
	mu.Lock()
	return mu.Unlock
}
