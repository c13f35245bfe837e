package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/angelmondragon/akua-anchor/pkg/logger"
)

func TestLoggingRecordsStatusAndSkipsProbes(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "publisher", Output: buf})
	handler := Logging(logg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/publish", nil))
	entry := buf.String()
	for _, want := range []string{`"status":202`, `"bytes":2`, `"path":"/publish"`, `"request.complete"`} {
		if !strings.Contains(entry, want) {
			t.Fatalf("missing %s in %s", want, entry)
		}
	}

	buf.Reset()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if buf.Len() != 0 {
		t.Fatalf("expected probe request to stay quiet, got %s", buf.String())
	}
}
