package bus

import (
	"sync"

	"github.com/journeyhq/journey/util"
	"github.com/spaolacci/murmur3"
)

// Dispatcher owns a fixed pool of shard workers. Jobs submitted with the
// same key land on the same shard and run strictly in order, which is the
// per-contact serialization domain the engine relies on. Jobs with different
// keys run concurrently with no ordering guarantee.
type Dispatcher struct {
	shards []*util.Worker
	wg     *sync.WaitGroup
}

func NewDispatcher(shardCount int, capacity int, wg *sync.WaitGroup) *Dispatcher {
	shards := make([]*util.Worker, shardCount)
	for i := range shards {
		shards[i] = util.NewWorker("shard", wg, capacity)
	}
	return &Dispatcher{shards: shards, wg: wg}
}

func (d *Dispatcher) Start() {
	for _, shard := range d.shards {
		shard.Start()
	}
}

func (d *Dispatcher) Stop() {
	for _, shard := range d.shards {
		shard.Stop()
	}
}

func (d *Dispatcher) Submit(key string, job func()) {
	d.shards[d.shardFor(key)].Sender() <- job
}

func (d *Dispatcher) shardFor(key string) int {
	return int(murmur3.Sum32([]byte(key)) % uint32(len(d.shards)))
}
