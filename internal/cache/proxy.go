package cache

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/kimhsiao/ridelink/backend/internal/logging"
)

// NewProxy returns a reverse proxy that serves window requests from origin
// through transport, normally a Manager. Incoming paths are appended to the
// origin's base path.
func NewProxy(origin *url.URL, transport http.RoundTripper, logger *logging.Logger) *httputil.ReverseProxy {
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With("cache_proxy")

	return &httputil.ReverseProxy{
		Transport: transport,
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(origin)
			r.Out.Host = origin.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("origin unreachable", map[string]interface{}{
				"path":  r.URL.Path,
				"error": err.Error(),
			})
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(HeaderCache, CacheOffline)
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"error":"origin unreachable"}`))
		},
	}
}
