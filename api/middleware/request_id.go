package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/akua-anchor/pkg/logger"
)

const (
	RequestIDHeader     = "X-Request-Id"
	CorrelationIDHeader = "X-Correlation-Id"

	maxTraceHeaderLen = 128
)

// RequestID tags every request with an id echoed back to the caller. A
// correlation id forwarded by the hash service is carried into the log
// context as well so one payload can be followed across services.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := traceHeader(r, RequestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, reqID)

			correlationID := traceHeader(r, CorrelationIDHeader)
			if correlationID != "" {
				w.Header().Set(CorrelationIDHeader, correlationID)
			}

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
				if correlationID != "" {
					ctx = logg.WithCorrelationID(ctx, correlationID)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// traceHeader drops oversized or non-printable values instead of logging them.
func traceHeader(r *http.Request, name string) string {
	v := strings.TrimSpace(r.Header.Get(name))
	if len(v) > maxTraceHeaderLen {
		return ""
	}
	for i := 0; i < len(v); i++ {
		if v[i] < 0x21 || v[i] > 0x7e {
			return ""
		}
	}
	return v
}
