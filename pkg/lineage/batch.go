package lineage

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Input is one SQL text to extract, labelled by where it came from (a file
// path, a view name, "stdin").
type Input struct {
	Source string
	SQL    string
}

// BatchResult is the outcome of one Input. Err is set when that input failed
// to parse; other inputs are unaffected.
type BatchResult struct {
	Source string
	Result Result
	Err    error
}

// ExtractAll extracts every input concurrently, running at most limit
// extractions at a time (no limit when limit <= 0). Results are returned in
// input order. Only context cancellation fails the whole batch.
func ExtractAll(ctx context.Context, inputs []Input, limit int) ([]BatchResult, error) {
	results := make([]BatchResult, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, in := range inputs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result, err := Extract(in.SQL)
			results[i] = BatchResult{Source: in.Source, Result: result, Err: err}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
