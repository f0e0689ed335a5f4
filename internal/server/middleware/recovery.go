package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/cambiowatch/cambiowatch/internal/metrics"
	"github.com/cambiowatch/cambiowatch/internal/observability"
)

// Recovery turns a handler panic into a 500 envelope. http.ErrAbortHandler
// is re-raised so net/http can abort the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			metrics.RecordPanic()

			requestID := GetRequestID(r.Context())
			if observability.ServerLogger != nil {
				observability.ServerLogger.Error("Recovered from handler panic",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("request_id", requestID),
					zap.String("panic", fmt.Sprint(rec)),
					zap.ByteString("stack", debug.Stack()))
			}

			env := errors.NewErrorEnvelope("INTERNAL_ERROR", "internal server error").
				WithCorrelationID(requestID)
			if withSeverity, err := env.WithSeverity(errors.SeverityCritical); err == nil {
				env = withSeverity
			}
			writeEnvelope(w, env, http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

// errorBody mirrors the API error shape. Middleware sits below the errors
// package, so it renders envelopes itself.
type errorBody struct {
	Error struct {
		Code      string                 `json:"code"`
		Message   string                 `json:"message"`
		Details   map[string]interface{} `json:"details,omitempty"`
		RequestID string                 `json:"request_id,omitempty"`
	} `json:"error"`
}

func writeEnvelope(w http.ResponseWriter, env *errors.ErrorEnvelope, status int) {
	var body errorBody
	body.Error.Code = env.Code
	body.Error.Message = env.Message
	body.Error.Details = env.Details
	body.Error.RequestID = env.CorrelationID

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
