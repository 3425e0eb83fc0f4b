package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Traced wraps handler with an OpenTelemetry span per request, named after
// the route pattern so spans for "/api/v1/chat/completions" aren't bucketed
// under a single high-cardinality "/" operation.
func Traced(routeName string, handler http.Handler) http.Handler {
	return otelhttp.NewHandler(handler, routeName)
}
