package handlers

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/diagnosis/coworking-spaces/pkg/logger"
	"github.com/diagnosis/coworking-spaces/pkg/response"
	"github.com/diagnosis/coworking-spaces/services/gateway/internal/proxy"
	"github.com/go-chi/chi/v5"
)

type Handlers struct {
	availabilityProxy *proxy.ServiceProxy
}

func New(availabilityProxy *proxy.ServiceProxy) *Handlers {
	return &Handlers{availabilityProxy: availabilityProxy}
}

// Routes mounts every public /v1 path on the availability service.
func (h *Handlers) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/spaces/{spaceID}/availability/stream", h.Stream)
		r.HandleFunc("/*", h.Forward)
	})
}

func (h *Handlers) Forward(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.availabilityProxy, false)
}

// Stream forwards a server-sent event stream, flushing after every chunk.
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.availabilityProxy, true)
}

func (h *Handlers) proxyRequest(w http.ResponseWriter, r *http.Request, serviceProxy *proxy.ServiceProxy, streaming bool) {
	defer r.Body.Close()

	// Copy relevant headers
	headers := make(http.Header)
	for key, values := range r.Header {
		if shouldCopyHeader(key) {
			headers[key] = values
		}
	}

	resp, err := serviceProxy.ProxyRequest(r.Context(), r.Method, r.URL.RequestURI(), r.Body, headers, streaming)
	if err != nil {
		logger.ErrorContext(r.Context(), "Service proxy error", "error", err, "service", serviceProxy.Name(), "path", r.URL.Path)
		response.WriteError(w, http.StatusServiceUnavailable, "Service unavailable", response.CodeInternalError)
		return
	}
	defer resp.Body.Close()

	// Copy response headers
	for key, values := range resp.Header {
		if !shouldCopyHeader(key) {
			continue
		}
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if !streaming {
		if _, err := io.Copy(w, resp.Body); err != nil {
			logger.ErrorContext(r.Context(), "Failed to copy response body", "error", err)
		}
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	_ = rc.Flush()

	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if ferr := rc.Flush(); ferr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

var hopByHop = map[string]bool{
	"host":                true,
	"connection":          true,
	"keep-alive":          true,
	"upgrade":             true,
	"proxy-connection":    true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"transfer-encoding":   true,
	"content-length":      true,
}

func shouldCopyHeader(key string) bool {
	return !hopByHop[strings.ToLower(key)]
}
