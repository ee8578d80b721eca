package markov

import (
	"context"
	"sync"
)

// Sample is a training sequence and the weight it is recorded with.
type Sample struct {
	Text   string
	Weight float64
}

// TrainAll trains m on every sample in order.
func (m *Model) TrainAll(samples []Sample) {
	for _, s := range samples {
		m.Train(s.Text, s.Weight)
	}
}

// TrainParallel splits samples into contiguous shards, trains one model per
// shard on up to workers goroutines and merges the shards into a new model.
// Counts are additive, so the result equals training the samples
// sequentially up to floating point rounding of fractional weights.
func TrainParallel(ctx context.Context, order int, samples []Sample, workers int, opts ...Option) (*Model, error) {
	// checkEvery is how many samples a worker trains between context checks.
	const checkEvery = 1024

	if workers < 1 {
		workers = 1
	}
	if workers > len(samples) {
		workers = max(1, len(samples))
	}

	shardSize := (len(samples) + workers - 1) / workers
	shards := make([]*Model, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := min(w*shardSize, len(samples))
		hi := min(lo+shardSize, len(samples))
		shards[w] = New(order)

		wg.Add(1)
		go func(shard *Model, part []Sample, slot int) {
			defer wg.Done()
			for i, s := range part {
				if i%checkEvery == 0 {
					if err := ctx.Err(); err != nil {
						errs[slot] = err
						return
					}
				}
				shard.Train(s.Text, s.Weight)
			}
		}(shards[w], samples[lo:hi], w)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	m := New(order, opts...)
	for _, shard := range shards {
		if err := m.Merge(shard); err != nil {
			return nil, err
		}
	}
	return m, nil
}
