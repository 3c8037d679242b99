package mid

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ardanlabs/powchain/foundation/metrics"
	"github.com/ardanlabs/powchain/foundation/web"
)

// Metrics counts handled requests by the status code written. It must wrap
// Errors so failed requests are counted with the status they were answered
// with.
func Metrics(m *metrics.Metrics) web.Middleware {
	mw := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			err := handler(ctx, w, r)

			if m == nil {
				return err
			}

			if v, verr := web.GetValues(ctx); verr == nil && v.StatusCode != 0 {
				m.Requests.WithLabelValues(strconv.Itoa(v.StatusCode)).Inc()
			}

			return err
		}

		return h
	}

	return mw
}
