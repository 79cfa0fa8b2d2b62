package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
)

// Source produces raw records for one data split.
type Source interface {
	Len() int
	Record(i int) (Record, error)

	// Fields lists the field names every record carries; dataflow
	// validation runs against them.
	Fields() []string
}

// Pipeline binds a validated spec to per-mode sources. It holds no
// iteration state: every inspection or benchmark call builds a fresh
// iterator.
type Pipeline struct {
	spec    Spec
	sources map[Mode]Source
	logger  *slog.Logger
	seed    int64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used for benchmark progress output. The
// pipeline stays silent without one.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithSeed overrides the shuffle/augmentation seed from the spec.
func WithSeed(seed int64) Option {
	return func(p *Pipeline) { p.seed = seed }
}

// New validates the spec structurally and against every bound source,
// then returns a pipeline ready for inspection and benchmarking.
func New(spec Spec, sources map[Mode]Source, opts ...Option) (*Pipeline, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one source is required")
	}
	for mode, src := range sources {
		if NormalizeMode(string(mode)) == "" {
			return nil, fmt.Errorf("unknown source mode %q", mode)
		}
		if src == nil {
			return nil, fmt.Errorf("source for mode %q is nil", mode)
		}
		if err := spec.ValidateDataflow(mode, src.Fields()); err != nil {
			return nil, err
		}
	}

	p := &Pipeline{
		spec:    spec,
		sources: make(map[Mode]Source, len(sources)),
	}
	if spec.Seed != nil {
		p.seed = *spec.Seed
	}
	for mode, src := range sources {
		p.sources[mode] = src
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Spec returns the pipeline's spec.
func (p *Pipeline) Spec() Spec { return p.spec }

// iterator yields materialized batches for one (epoch, mode) pass. A
// finite source yields ceil(N/B) batches, the last possibly partial;
// there is no wrap-around within one pass.
type iterator struct {
	plan   Plan
	source Source
	order  []int
	state  *ExecState
	pos    int

	prefetch <-chan batchResult
	cancel   context.CancelFunc
}

type batchResult struct {
	batch Batch
	err   error
}

// epochSeed mixes the pipeline seed with the epoch so train order is
// stable for (seed, epoch) and differs across epochs.
func epochSeed(seed int64, epoch int) int64 {
	return seed + int64(epoch)*2654435761
}

func (p *Pipeline) newIterator(ctx context.Context, epoch int, mode Mode) (*iterator, error) {
	mode = NormalizeMode(string(mode))
	if mode == "" {
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
	if epoch < 1 {
		return nil, fmt.Errorf("epoch must be >= 1 (got %d)", epoch)
	}
	source, ok := p.sources[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSource, mode)
	}

	plan, err := p.spec.Compile(mode, epoch, source.Fields())
	if err != nil {
		return nil, err
	}

	n := source.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if mode == ModeTrain {
		rand.New(rand.NewSource(epochSeed(p.seed, epoch))).Shuffle(n, func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}

	it := &iterator{
		plan:   plan,
		source: source,
		order:  order,
		state: &ExecState{
			Mode:  mode,
			Epoch: epoch,
			Rand:  rand.New(rand.NewSource(epochSeed(p.seed, epoch) ^ 0x5eedf00d)),
		},
	}
	if p.spec.Prefetch > 0 {
		it.startPrefetch(ctx, p.spec.Prefetch)
	}
	return it, nil
}

// Next returns the next materialized batch, or io.EOF when the pass is
// exhausted.
func (it *iterator) Next(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	if it.prefetch != nil {
		select {
		case <-ctx.Done():
			return Batch{}, ctx.Err()
		case res, ok := <-it.prefetch:
			if !ok {
				return Batch{}, io.EOF
			}
			return res.batch, res.err
		}
	}
	return it.nextBatch(ctx)
}

func (it *iterator) nextBatch(ctx context.Context) (Batch, error) {
	if it.pos >= len(it.order) {
		return Batch{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}

	end := it.pos + it.plan.BatchSize
	if end > len(it.order) {
		end = len(it.order)
	}
	recs := make([]Record, 0, end-it.pos)
	for _, idx := range it.order[it.pos:end] {
		raw, err := it.source.Record(idx)
		if err != nil {
			return Batch{}, fmt.Errorf("record %d: %w", idx, err)
		}
		rec, err := it.plan.apply(it.state, raw)
		if err != nil {
			return Batch{}, err
		}
		recs = append(recs, rec)
	}
	it.pos = end
	return materializeBatch(recs, it.plan.PadValue)
}

// startPrefetch runs one background goroutine that materializes batches
// into a buffered channel of the given depth. Errors propagate through
// the channel and end iteration; context cancellation stops the worker.
func (it *iterator) startPrefetch(ctx context.Context, depth int) {
	prefetchCtx, cancel := context.WithCancel(ctx)
	ch := make(chan batchResult, depth)
	it.prefetch = ch
	it.cancel = cancel

	go func() {
		defer close(ch)
		for {
			batch, err := it.nextBatch(prefetchCtx)
			if err == io.EOF {
				return
			}
			select {
			case ch <- batchResult{batch: batch, err: err}:
			case <-prefetchCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
}

// Close releases the prefetch worker, if any.
func (it *iterator) Close() {
	if it.cancel != nil {
		it.cancel()
	}
}
