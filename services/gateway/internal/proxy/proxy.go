package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/diagnosis/coworking-spaces/pkg/logger"
)

type ServiceProxy struct {
	name    string
	baseURL string
	client  *http.Client
	// stream has no overall timeout; SSE responses stay open
	stream *http.Client
}

func NewServiceProxy(name, baseURL string) *ServiceProxy {
	return &ServiceProxy{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		stream: &http.Client{},
	}
}

func (p *ServiceProxy) Name() string { return p.name }

// ProxyRequest forwards a request to the service. pathAndQuery must start
// with "/". Set streaming for responses that are not bounded in time.
func (p *ServiceProxy) ProxyRequest(ctx context.Context, method, pathAndQuery string, body io.Reader, headers http.Header, streaming bool) (*http.Response, error) {
	url := p.baseURL + pathAndQuery

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Copy headers
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	// Add request ID for tracing
	if requestID, ok := ctx.Value(logger.RequestIDKey).(string); ok && requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}
	req.Header.Set("X-Gateway-Forwarded", "true")
	req.Header.Set("X-Gateway-Service", "coworking-gateway")

	logger.DebugContext(ctx, "Proxying request",
		"service", p.name,
		"method", method,
		"url", url,
	)

	client := p.client
	if streaming {
		client = p.stream
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", p.name, err)
	}
	return resp, nil
}
