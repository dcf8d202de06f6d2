package mid

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/ardanlabs/evmchain/business/sys/metrics"
	"github.com/ardanlabs/evmchain/foundation/web"
)

// requests counts every request so the goroutine sample can be taken
// periodically.
var requests atomic.Int64

// Metrics updates program counters.
func Metrics() web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			err := handler(ctx, w, r)

			metrics.AddRequests()
			metrics.AddGoroutines(requests.Add(1))

			if err != nil {
				metrics.AddErrors()
			}

			return err
		}

		return h
	}

	return m
}
