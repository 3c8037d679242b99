package mid_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ardanlabs/powchain/business/web/errs"
	"github.com/ardanlabs/powchain/business/web/mid"
	"github.com/ardanlabs/powchain/foundation/logger"
	"github.com/ardanlabs/powchain/foundation/metrics"
	"github.com/ardanlabs/powchain/foundation/web"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Middleware(t *testing.T) {
	t.Log("Given the need to handle requests through the middleware chain.")
	{
		log, err := logger.New("TEST", "stderr")
		if err != nil {
			t.Fatalf("Should be able to construct a logger: %s", err)
		}

		m := metrics.New()
		app := web.NewApp(nil,
			mid.Logger(log),
			mid.Metrics(m),
			mid.Errors(log),
			mid.Cors("*"),
			mid.Panics(m),
		)

		app.Handle(http.MethodGet, "v1", "/ok", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			return web.Respond(ctx, w, map[string]string{"status": "ok"}, http.StatusOK)
		})
		app.Handle(http.MethodGet, "v1", "/trusted", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			return errs.NewFieldsError(errors.New("bad amount"), http.StatusBadRequest, map[string]string{"amount": "amount must be positive"})
		})
		app.Handle(http.MethodGet, "v1", "/broken", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			return errors.New("database on fire")
		})
		app.Handle(http.MethodGet, "v1", "/panic", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			panic("boom")
		})

		tt := []struct {
			name   string
			path   string
			status int
			msg    string
		}{
			{name: "ok", path: "/v1/ok", status: http.StatusOK},
			{name: "trusted", path: "/v1/trusted", status: http.StatusBadRequest, msg: "bad amount"},
			{name: "untrusted", path: "/v1/broken", status: http.StatusInternalServerError, msg: http.StatusText(http.StatusInternalServerError)},
			{name: "panic", path: "/v1/panic", status: http.StatusInternalServerError, msg: http.StatusText(http.StatusInternalServerError)},
		}

		for testID, tst := range tt {
			f := func(t *testing.T) {
				t.Logf("\tTest %d:\tWhen calling %s.", testID, tst.path)
				{
					r := httptest.NewRequest(http.MethodGet, tst.path, nil)
					w := httptest.NewRecorder()
					app.ServeHTTP(w, r)

					if w.Code != tst.status {
						t.Fatalf("\t%s\tTest %d:\tShould receive status %d : got %d", failed, testID, tst.status, w.Code)
					}
					t.Logf("\t%s\tTest %d:\tShould receive status %d.", success, testID, tst.status)

					if w.Header().Get("Access-Control-Allow-Origin") != "*" && tst.status == http.StatusOK {
						t.Fatalf("\t%s\tTest %d:\tShould set the CORS headers.", failed, testID)
					}

					if tst.msg == "" {
						return
					}

					var resp errs.Response
					if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould receive an error response : %s", failed, testID, err)
					}
					if resp.Error != tst.msg {
						t.Fatalf("\t%s\tTest %d:\tShould receive the message %q : got %q", failed, testID, tst.msg, resp.Error)
					}
					t.Logf("\t%s\tTest %d:\tShould receive the message %q.", success, testID, tst.msg)
				}
			}

			t.Run(tst.name, f)
		}

		t.Logf("\tTest %d:\tWhen a browser sends a preflight request.", len(tt))
		{
			r := httptest.NewRequest(http.MethodOptions, "/v1/ok", nil)
			w := httptest.NewRecorder()

			var reached bool
			h := mid.Cors("https://wallet.example")(func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
				reached = true
				return nil
			})
			if err := h(context.Background(), w, r); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould answer the preflight : %s", failed, len(tt), err)
			}

			if reached || w.Code != http.StatusNoContent {
				t.Fatalf("\t%s\tTest %d:\tShould answer 204 without the handler : got %d", failed, len(tt), w.Code)
			}
			if w.Header().Get("Access-Control-Allow-Origin") != "https://wallet.example" {
				t.Fatalf("\t%s\tTest %d:\tShould allow the configured origin.", failed, len(tt))
			}
			t.Logf("\t%s\tTest %d:\tShould answer 204 with the CORS headers.", success, len(tt))
		}

		if got := testutil.ToFloat64(m.Requests.WithLabelValues("500")); got != 2 {
			t.Fatalf("\t%s\tShould count the failed requests : got %v", failed, got)
		}
		t.Logf("\t%s\tShould count the failed requests.", success)

		if got := testutil.ToFloat64(m.Panics); got != 1 {
			t.Fatalf("\t%s\tShould count the panic : got %v", failed, got)
		}
		t.Logf("\t%s\tShould count the panic.", success)
	}
}
