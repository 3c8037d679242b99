package web_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/ardanlabs/powchain/foundation/web"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func TestApp(t *testing.T) {
	t.Log("Given the need to route requests through middleware.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen handling a parameterized route.", testID)
		{
			var order []string
			mw := func(name string) web.Middleware {
				return func(handler web.Handler) web.Handler {
					return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
						order = append(order, name)
						return handler(ctx, w, r)
					}
				}
			}

			app := web.NewApp(nil, mw("app"))
			app.Handle(http.MethodGet, "v1", "/echo/:name", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
				v, err := web.GetValues(ctx)
				if err != nil {
					return err
				}
				resp := map[string]string{"name": web.Param(r, "name"), "traceId": v.TraceID}
				return web.Respond(ctx, w, resp, http.StatusOK)
			}, mw("route"))

			r := httptest.NewRequest(http.MethodGet, "/v1/echo/bill", nil)
			w := httptest.NewRecorder()
			app.ServeHTTP(w, r)

			if w.Code != http.StatusOK {
				t.Fatalf("\t%s\tTest %d:\tShould receive a 200 status, got %d.", failed, testID, w.Code)
			}
			t.Logf("\t%s\tTest %d:\tShould receive a 200 status.", success, testID)

			var resp map[string]string
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to decode the response: %s", failed, testID, err)
			}
			if resp["name"] != "bill" || resp["traceId"] == "" {
				t.Fatalf("\t%s\tTest %d:\tShould see the route parameter and trace id: %v", failed, testID, resp)
			}
			t.Logf("\t%s\tTest %d:\tShould see the route parameter and trace id.", success, testID)

			if len(order) != 2 || order[0] != "app" || order[1] != "route" {
				t.Fatalf("\t%s\tTest %d:\tShould run app middleware before route middleware: %v", failed, testID, order)
			}
			t.Logf("\t%s\tTest %d:\tShould run app middleware before route middleware.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen a handler reports an integrity issue.", testID)
		{
			shutdown := make(chan os.Signal, 1)
			app := web.NewApp(shutdown)
			app.Handle(http.MethodGet, "", "/fail", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
				return web.NewShutdownError("integrity issue")
			})

			app.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fail", nil))

			select {
			case <-shutdown:
				t.Logf("\t%s\tTest %d:\tShould signal a shutdown.", success, testID)
			default:
				t.Fatalf("\t%s\tTest %d:\tShould signal a shutdown.", failed, testID)
			}

			if !web.IsShutdown(errors.Join(errors.New("other"), web.NewShutdownError("x"))) {
				t.Fatalf("\t%s\tTest %d:\tShould find a wrapped shutdown error.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould find a wrapped shutdown error.", success, testID)
		}
	}
}
