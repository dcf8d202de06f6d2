package mid_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/ardanlabs/evmchain/business/web/errs"
	"github.com/ardanlabs/evmchain/business/web/mid"
	"github.com/ardanlabs/evmchain/foundation/logger"
	"github.com/ardanlabs/evmchain/foundation/web"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Middleware(t *testing.T) {
	log := logger.NewTest()

	app := web.NewApp(make(chan os.Signal, 1), mid.Logger(log), mid.Errors(log), mid.Metrics(), mid.Cors("*"), mid.Panics())

	app.Handle(http.MethodGet, "v1", "/trusted", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return errs.NewTrusted(errors.New("bad account"), http.StatusBadRequest)
	})
	app.Handle(http.MethodGet, "v1", "/internal", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return errors.New("database exploded")
	})
	app.Handle(http.MethodGet, "v1", "/panic", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		panic("boom")
	})
	app.Handle(http.MethodGet, "v1", "/ok", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return web.Respond(ctx, w, struct{ Status string }{"ok"}, http.StatusOK)
	})

	tt := []struct {
		name   string
		path   string
		status int
		body   string
	}{
		{"trusted", "/v1/trusted", http.StatusBadRequest, "bad account"},
		{"internal", "/v1/internal", http.StatusInternalServerError, "Internal Server Error"},
		{"panic", "/v1/panic", http.StatusInternalServerError, "Internal Server Error"},
		{"ok", "/v1/ok", http.StatusOK, "ok"},
	}

	t.Log("Given the need to convert handler errors into responses.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen handling the %s route.", testID, tst.name)
			{
				r := httptest.NewRequest(http.MethodGet, tst.path, nil)
				w := httptest.NewRecorder()
				app.ServeHTTP(w, r)

				if w.Code != tst.status {
					t.Fatalf("\t%s\tTest %d:\tShould get status %d, got %d.", failed, testID, tst.status, w.Code)
				}
				t.Logf("\t%s\tTest %d:\tShould get status %d.", success, testID, tst.status)

				if !strings.Contains(w.Body.String(), tst.body) {
					t.Fatalf("\t%s\tTest %d:\tShould get a body containing %q: %s", failed, testID, tst.body, w.Body.String())
				}
				t.Logf("\t%s\tTest %d:\tShould get a body containing %q.", success, testID, tst.body)

				if w.Header().Get("Access-Control-Allow-Origin") != "*" {
					t.Fatalf("\t%s\tTest %d:\tShould set the cors header.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould set the cors header.", success, testID)
			}
		}
	}
}
