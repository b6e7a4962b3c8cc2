package worker

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
)

func shardFor(key string, n int) int {
	return int(xxhash.Sum64String(key) % uint64(n))
}

// Lanes partitions jobs by key onto single-worker pools, so jobs with the same
// key run in submission order while different keys run in parallel.
type Lanes[T any] struct {
	lanes []*Pool[T]
}

func NewLanes[T any](numLanes int, bufferSize int, processor ProcessFunc[T]) *Lanes[T] {
	if numLanes < 1 {
		numLanes = 1
	}
	l := &Lanes[T]{lanes: make([]*Pool[T], numLanes)}
	for i := range l.lanes {
		l.lanes[i] = NewPool(1, bufferSize, processor)
	}
	return l
}

func (l *Lanes[T]) OnError(fn func(job T, err error)) *Lanes[T] {
	for _, p := range l.lanes {
		p.OnError(fn)
	}
	return l
}

func (l *Lanes[T]) Start(ctx context.Context) {
	for _, p := range l.lanes {
		p.Start(ctx)
	}
}

func (l *Lanes[T]) Submit(ctx context.Context, key string, job T) error {
	return l.lanes[shardFor(key, len(l.lanes))].Submit(ctx, job)
}

func (l *Lanes[T]) Stop() {
	var wg sync.WaitGroup
	for _, p := range l.lanes {
		wg.Add(1)
		go func(p *Pool[T]) {
			defer wg.Done()
			p.Stop()
		}(p)
	}
	wg.Wait()
}

// KeyedMutex serializes work per key over a fixed set of striped mutexes.
// Distinct keys may share a stripe; no lock is global.
type KeyedMutex struct {
	stripes []sync.Mutex
}

func NewKeyedMutex(stripes int) *KeyedMutex {
	if stripes < 1 {
		stripes = 1
	}
	return &KeyedMutex{stripes: make([]sync.Mutex, stripes)}
}

// Lock blocks until key's stripe is held and returns its unlock func.
func (k *KeyedMutex) Lock(key string) func() {
	m := &k.stripes[shardFor(key, len(k.stripes))]
	m.Lock()
	return m.Unlock
}
