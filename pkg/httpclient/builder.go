package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Ramsey-B/vine/pkg/expressions"
	"github.com/Ramsey-B/vine/pkg/models"
)

// BuildRequest turns a rendered module request into an HTTP request against baseURL
func BuildRequest(ctx context.Context, baseURL string, req models.ModuleRequest) (*http.Request, error) {
	reqURL, err := buildURL(baseURL, req.Endpoint, req.Params)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if req.Body != nil {
		bodyBytes, err := buildBody(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to build body: %w", err)
		}
		if len(bodyBytes) > MaxRequestSize {
			return nil, fmt.Errorf("request body too large: %d bytes (max %d)", len(bodyBytes), MaxRequestSize)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	return httpReq, nil
}

// buildURL joins the module base URL and endpoint and appends query parameters.
// Sequence parameters are repeated, nil parameters are dropped.
func buildURL(baseURL, endpoint string, params map[string]any) (string, error) {
	joined := strings.TrimRight(baseURL, "/")
	if endpoint != "" {
		joined += "/" + strings.TrimLeft(endpoint, "/")
	}

	parsed, err := url.Parse(joined)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", joined, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("invalid URL %q: scheme and host are required", joined)
	}

	if len(params) > 0 {
		query := parsed.Query()
		for key, value := range params {
			switch v := value.(type) {
			case nil:
			case []any:
				for _, item := range v {
					query.Add(key, expressions.Stringify(item))
				}
			default:
				query.Set(key, expressions.Stringify(v))
			}
		}
		parsed.RawQuery = query.Encode()
	}

	return parsed.String(), nil
}

func buildBody(body any) ([]byte, error) {
	if s, ok := body.(string); ok {
		return []byte(s), nil
	}
	return json.Marshal(body)
}
