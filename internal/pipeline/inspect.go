package pipeline

import (
	"context"
	"fmt"
	"io"
)

// ShowResults runs the compiled plan over numSteps batches of the
// mode's source and returns the materialized batches for inspection.
// A finite source may end the pass early; the returned slice then holds
// fewer batches. No state persists on the pipeline between calls.
func (p *Pipeline) ShowResults(ctx context.Context, epoch int, mode Mode, numSteps int) ([]Batch, error) {
	if numSteps < 1 {
		return nil, fmt.Errorf("num steps must be >= 1 (got %d)", numSteps)
	}
	it, err := p.newIterator(ctx, epoch, mode)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	batches := make([]Batch, 0, numSteps)
	for len(batches) < numSteps {
		batch, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, nil
}
