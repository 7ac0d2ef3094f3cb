// internal/devserver/middleware.go
//
// Request instrumentation for the reference intake API.
//
// Context
//   One middleware covers both observability concerns: a structured zap log
//   line per request and the Prometheus counters/histograms declared in
//   metrics.go.  The client class (desktop, mobile, bot) is derived from the
//   User-Agent header so the office can tell kiosk traffic from phones in
//   the logs.
//
//------------------------------------------------------------------------------

package devserver

import (
	"net/http"
	"strconv"
	"time"

	surfer "github.com/avct/uasurfer"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Instrument wraps a handler with request logging and metrics.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		route := routePattern(r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())

		ua := surfer.Parse(r.UserAgent())
		zap.S().Infow("request",
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"status", status,
			"bytes", ww.BytesWritten(),
			"elapsed_ms", elapsed.Milliseconds(),
			"device", deviceClass(ua),
			"browser", ua.Browser.Name.String(),
			"bot", ua.IsBot(),
		)
	})
}

// routePattern resolves the chi route template ("/api/forms/{form}/") so
// metrics labels stay low-cardinality.  Unmatched paths collapse to "".
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return ""
}

func deviceClass(ua *surfer.UserAgent) string {
	switch ua.DeviceType {
	case surfer.DeviceComputer:
		return "Desktop"
	case surfer.DeviceTablet:
		return "Tablet"
	case surfer.DevicePhone, surfer.DeviceWearable:
		return "Mobile"
	default:
		return "Other"
	}
}
