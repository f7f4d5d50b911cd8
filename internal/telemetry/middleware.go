package telemetry

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// Middleware returns mux middleware that records every request on t
func Middleware(t *StorefrontTelemetry) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapper := &responseWriterWrapper{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapper, r)

			t.RecordHTTPRequest(r.Context(), HTTPMetrics{
				Method:       r.Method,
				Endpoint:     endpointTemplate(r),
				StatusCode:   wrapper.statusCode,
				Duration:     time.Since(start),
				ClientIPType: NormalizeClientIP(getClientIP(r)),
			})
		})
	}
}

// endpointTemplate uses the matched route template ("/v1/cart/items/{id}")
// so item ids never become metric labels
func endpointTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		w.statusCode = statusCode
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

// Flush keeps streaming responses working through the wrapper
func (w *responseWriterWrapper) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs, take the first one
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(ip) != nil {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if net.ParseIP(xri) != nil {
			return xri
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

var privateNetworks = func() []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"fc00::/7",
		"fe80::/10",
	} {
		if _, network, err := net.ParseCIDR(cidr); err == nil {
			nets = append(nets, network)
		}
	}
	return nets
}()

// NormalizeClientIP categorizes client IPs to control cardinality
func NormalizeClientIP(clientIP string) string {
	if clientIP == "" {
		return "unknown"
	}

	ip := net.ParseIP(clientIP)
	if ip == nil {
		return "invalid"
	}
	if ip.IsLoopback() {
		return "localhost"
	}
	for _, network := range privateNetworks {
		if network.Contains(ip) {
			return "internal"
		}
	}
	return "external"
}
