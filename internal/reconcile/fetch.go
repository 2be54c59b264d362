package reconcile

import (
	"context"

	"revshare-ledger-go/internal/models"
	"revshare-ledger-go/internal/source"

	"golang.org/x/sync/errgroup"
)

type pageResult struct {
	req  source.PageRequest
	page *models.Page
	err  error
}

// fetchWindow fetches reqs concurrently, at most workers at a time, and
// returns the results in request order. A failed page does not cancel its
// neighbours.
func (r *run) fetchWindow(ctx context.Context, reqs []source.PageRequest) []pageResult {
	results := make([]pageResult, len(reqs))

	var g errgroup.Group
	g.SetLimit(r.e.workers)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			page, err := r.e.source.FetchPage(ctx, req)
			results[i] = pageResult{req: req, page: page, err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func offsetRequests(offsets []int, size int) []source.PageRequest {
	reqs := make([]source.PageRequest, len(offsets))
	for i, offset := range offsets {
		reqs[i] = source.PageRequest{Number: offset / size, Offset: offset, Limit: size}
	}
	return reqs
}

func chunk(offsets []int, n int) [][]int {
	var out [][]int
	for len(offsets) > 0 {
		k := min(n, len(offsets))
		out = append(out, offsets[:k])
		offsets = offsets[k:]
	}
	return out
}
