package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"
)

// BenchmarkOptions tune a throughput measurement.
type BenchmarkOptions struct {
	// WarmupSteps batches are materialized and discarded before the
	// timer starts; they are excluded from throughput. Negative means
	// the default of 1 (the first batch often pays one-time setup cost).
	WarmupSteps int

	// LogInterval controls progress logging frequency in steps.
	// 0 means the default of 100.
	LogInterval int

	// MinRecordsPerSecond, when > 0, marks the report as failed when
	// the measured throughput falls below it. The run itself does not
	// error.
	MinRecordsPerSecond float64
}

// BenchmarkReport captures one throughput measurement. All rates are
// positive and finite for any completed run with at least one timed
// step.
type BenchmarkReport struct {
	Mode             Mode          `json:"mode"`
	Epoch            int           `json:"epoch"`
	RequestedSteps   int           `json:"requested_steps"`
	CompletedSteps   int           `json:"completed_steps"`
	WarmupSteps      int           `json:"warmup_steps"`
	Records          int           `json:"records"`
	Elapsed          time.Duration `json:"elapsed_ns"`
	StepsPerSecond   float64       `json:"steps_per_second"`
	RecordsPerSecond float64       `json:"records_per_second"`

	MinRecordsPerSecond float64 `json:"min_records_per_second,omitempty"`
	Passed              bool    `json:"passed"`
}

// Benchmark materializes and discards numSteps batches, timing only the
// steps after warm-up, and reports aggregate throughput.
func (p *Pipeline) Benchmark(ctx context.Context, epoch int, mode Mode, numSteps int, opts BenchmarkOptions) (BenchmarkReport, error) {
	if numSteps < 1 {
		return BenchmarkReport{}, fmt.Errorf("num steps must be >= 1 (got %d)", numSteps)
	}
	warmup := opts.WarmupSteps
	if warmup < 0 {
		warmup = 1
	}
	logInterval := opts.LogInterval
	if logInterval <= 0 {
		logInterval = 100
	}

	it, err := p.newIterator(ctx, epoch, mode)
	if err != nil {
		return BenchmarkReport{}, err
	}
	defer it.Close()

	report := BenchmarkReport{
		Mode:                NormalizeMode(string(mode)),
		Epoch:               epoch,
		RequestedSteps:      numSteps,
		WarmupSteps:         warmup,
		MinRecordsPerSecond: opts.MinRecordsPerSecond,
	}

	for i := 0; i < warmup; i++ {
		if _, err := it.Next(ctx); err != nil {
			if err == io.EOF {
				return BenchmarkReport{}, fmt.Errorf("source exhausted during warm-up after %d steps", i)
			}
			return BenchmarkReport{}, err
		}
	}

	start := time.Now()
	for report.CompletedSteps < numSteps {
		batch, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return BenchmarkReport{}, err
		}
		report.CompletedSteps++
		report.Records += batch.Size

		if p.logger != nil && report.CompletedSteps%logInterval == 0 {
			elapsed := time.Since(start)
			p.logger.Info("benchmark progress",
				"mode", string(report.Mode),
				"epoch", epoch,
				"steps", report.CompletedSteps,
				"steps_per_second", rate(report.CompletedSteps, elapsed),
			)
		}
	}
	report.Elapsed = time.Since(start)

	if report.CompletedSteps == 0 {
		return BenchmarkReport{}, fmt.Errorf("source exhausted before any timed step")
	}

	report.StepsPerSecond = rate(report.CompletedSteps, report.Elapsed)
	report.RecordsPerSecond = rate(report.Records, report.Elapsed)
	report.Passed = opts.MinRecordsPerSecond <= 0 || report.RecordsPerSecond >= opts.MinRecordsPerSecond

	if p.logger != nil {
		p.logger.Info("benchmark complete",
			"mode", string(report.Mode),
			"epoch", epoch,
			"steps", report.CompletedSteps,
			"records", report.Records,
			"elapsed_ms", report.Elapsed.Milliseconds(),
			"steps_per_second", report.StepsPerSecond,
			"records_per_second", report.RecordsPerSecond,
			"passed", report.Passed,
		)
	}
	return report, nil
}

// rate guards against a zero elapsed duration on very fast runs so the
// reported throughput stays finite.
func rate(count int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		elapsed = time.Nanosecond
	}
	return float64(count) / elapsed.Seconds()
}
