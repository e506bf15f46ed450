package batch

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/samber/lo"
)

// ErrSkipped may be returned by a ProcessFunc to report that a case needed no
// work, for example because its output already exists.
var ErrSkipped = errors.New("case skipped")

// Status is the outcome of one case.
type Status string

const (
	StatusDone     Status = "done"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
)

// CaseResult is the outcome of one case. Err is set for failed and canceled cases.
type CaseResult struct {
	Case     Case
	Status   Status
	Err      error
	Duration time.Duration
}

// ProcessFunc handles a single case. Cases share no mutable state, so it is
// called concurrently from several workers.
type ProcessFunc func(ctx context.Context, c Case) error

// ProgressCallback reports progress after each finished case. Calls are
// serialized.
type ProgressCallback func(completed, total int, result CaseResult)

// Runner processes cases on a bounded pool of workers.
type Runner struct {
	// Workers is the number of cases processed at once; <= 0 uses every CPU.
	Workers int

	Process    ProcessFunc
	OnProgress ProgressCallback
}

// Run processes every case and returns one result per case, in input order.
// A failing case never stops the batch. Cancellation is only observed
// between cases: a case that has started always runs to completion, and the
// cases not yet started are reported as canceled.
func (r *Runner) Run(ctx context.Context, cases []Case) []CaseResult {
	results := make([]CaseResult, len(cases))
	workers := r.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, len(cases))

	jobs := make(chan int)
	var wg sync.WaitGroup
	var progressMutex sync.Mutex
	completed := 0

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				res := r.runOne(ctx, cases[idx])
				results[idx] = res

				if r.OnProgress != nil {
					progressMutex.Lock()
					completed++
					r.OnProgress(completed, len(cases), res)
					progressMutex.Unlock()
				}
			}
		}()
	}

	for idx := range cases {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()
	return results
}

func (r *Runner) runOne(ctx context.Context, c Case) CaseResult {
	if err := ctx.Err(); err != nil {
		return CaseResult{Case: c, Status: StatusCanceled, Err: err}
	}

	start := time.Now()
	err := r.Process(ctx, c)
	res := CaseResult{Case: c, Err: err, Duration: time.Since(start)}
	switch {
	case err == nil:
		res.Status = StatusDone
	case errors.Is(err, ErrSkipped):
		res.Status = StatusSkipped
		res.Err = nil
	default:
		res.Status = StatusFailed
	}
	return res
}

// Summary counts results by status.
type Summary struct {
	Done     int
	Skipped  int
	Failed   int
	Canceled int
}

// Summarize counts results by status.
func Summarize(results []CaseResult) Summary {
	counts := lo.CountValuesBy(results, func(r CaseResult) Status { return r.Status })
	return Summary{
		Done:     counts[StatusDone],
		Skipped:  counts[StatusSkipped],
		Failed:   counts[StatusFailed],
		Canceled: counts[StatusCanceled],
	}
}

// Failed returns the failed results.
func Failed(results []CaseResult) []CaseResult {
	return lo.Filter(results, func(r CaseResult, _ int) bool { return r.Status == StatusFailed })
}
