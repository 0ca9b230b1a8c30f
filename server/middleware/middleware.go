package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veritas-care/evv/common/evverrors"
	"github.com/veritas-care/evv/metrics"
)

// HandlerFn is the error-returning handler shape used by every route. The
// middleware chain owns status mapping and response logging; handlers only
// produce a value or an error.
type HandlerFn func(http.ResponseWriter, *http.Request) error

// Used to capture the status code of the response, so that we can use it in
// middlewares. See https://github.com/golang/go/issues/18997
type statusCaptureWriter struct {
	http.ResponseWriter
	status int
}

func (scw *statusCaptureWriter) WriteHeader(status int) {
	scw.status = status
	scw.ResponseWriter.WriteHeader(status)
}

func newStatusCaptureWriter(w http.ResponseWriter) *statusCaptureWriter {
	return &statusCaptureWriter{
		ResponseWriter: w,
		// handlers rarely call WriteHeader(200) themselves, so initialize to
		// 200 and let any explicit call override it
		status: http.StatusOK,
	}
}

// RequestIDHeader carries the request correlation id on both directions.
const RequestIDHeader = "X-Request-Id"

// contextKey is used to store the request id in the request context.
type contextKey string

const requestIDKey contextKey = "request_id"

// GetRequestID retrieves the correlation id assigned by the outermost
// middleware.
func GetRequestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// withRequestID assigns a correlation id to the request (outermost
// middleware). An inbound X-Request-Id from a trusted proxy is honored so ids
// correlate across hops; otherwise a fresh one is minted. The id is echoed on
// the response.
func withRequestID(handleFn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey, id))
		handleFn(w, r)
	}
}

// errorBody is the JSON error envelope returned on every failed request.
type errorBody struct {
	Error  string   `json:"error"`
	Kind   string   `json:"kind"`
	Fields []string `json:"fields,omitempty"`
}

// StatusForKind maps the stable error kinds onto HTTP statuses.
func StatusForKind(kind evverrors.Kind) int {
	switch kind {
	case evverrors.KindInputValidation:
		return http.StatusBadRequest
	case evverrors.KindNotFound:
		return http.StatusNotFound
	case evverrors.KindConflict, evverrors.KindInvalidTransition:
		return http.StatusConflict
	case evverrors.KindLocked, evverrors.KindTamperDetected:
		return http.StatusLocked
	case evverrors.KindVerificationFailed:
		return http.StatusUnprocessableEntity
	case evverrors.KindPermissionDenied:
		return http.StatusForbidden
	case evverrors.KindAuthenticationFailed, evverrors.KindAggregatorRetriable, evverrors.KindAggregatorTerminal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// withErrorMapping converts a handler error into the JSON error envelope with
// the kind-mapped status. Handlers that already wrote a response return nil.
func withErrorMapping(handleFn HandlerFn) HandlerFn {
	return func(w http.ResponseWriter, r *http.Request) error {
		err := handleFn(w, r)
		if err == nil {
			return nil
		}
		kind := evverrors.KindOf(err)
		body := errorBody{Error: err.Error(), Kind: kind.String()}
		if fe, ok := err.(*evverrors.Error); ok {
			body.Fields = fe.Fields
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(StatusForKind(kind))
		_ = json.NewEncoder(w).Encode(body)
		return err
	}
}

// withMetrics times the request and labels the counter with the route name
// and final status.
func withMetrics(handleFn HandlerFn, m metrics.Metricer, route string) HandlerFn {
	return func(w http.ResponseWriter, r *http.Request) error {
		recordDur := m.RecordRPCServerRequest(route)
		scw := newStatusCaptureWriter(w)
		err := handleFn(scw, r)
		recordDur(strconv.Itoa(scw.status))
		return err
	}
}

// withLogging logs one line per request with the final status. It does not
// write anything to the response, that is the job of the handlers.
func withLogging(handleFn HandlerFn, log *zap.SugaredLogger, route string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		scw := newStatusCaptureWriter(w)
		err := handleFn(scw, r)
		if err != nil {
			log.Infow("request",
				"request_id", GetRequestID(r), "route", route, "method", r.Method,
				"url", r.URL.Path, "status", scw.status, "duration", time.Since(start),
				"err", err)
			return
		}
		log.Infow("request",
			"request_id", GetRequestID(r), "route", route, "method", r.Method,
			"url", r.URL.Path, "status", scw.status, "duration", time.Since(start))
	}
}

// Chain assembles the standard stack: error mapping innermost, then metrics,
// then logging, with request id assignment outermost.
func Chain(handleFn HandlerFn, log *zap.SugaredLogger, m metrics.Metricer, route string) http.HandlerFunc {
	return withRequestID(withLogging(withMetrics(withErrorMapping(handleFn), m, route), log, route))
}
