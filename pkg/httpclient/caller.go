package httpclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/vine/pkg/metrics"
	"github.com/Ramsey-B/vine/pkg/models"
	"github.com/Ramsey-B/vine/pkg/tracing"
)

// ModuleCaller performs module endpoint calls over HTTP
type ModuleCaller struct {
	registry Registry
	client   *Client
	logger   ectologger.Logger
}

func NewModuleCaller(registry Registry, client *Client, logger ectologger.Logger) *ModuleCaller {
	return &ModuleCaller{
		registry: registry,
		client:   client,
		logger:   logger,
	}
}

// Call resolves the module, sends the request and decodes the body. Any HTTP status
// is returned as a response. Only resolution, transport and read failures are errors.
func (m *ModuleCaller) Call(ctx context.Context, req models.ModuleRequest) (*models.ModuleResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "ModuleCaller.Call")
	defer span.End()

	baseURL, err := m.registry.BaseURL(ctx, req.Module)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to resolve module %s: %w", req.Module, err)
	}

	httpReq, err := BuildRequest(ctx, baseURL, req)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	carrier := map[string]string{}
	tracing.InjectHeaders(ctx, carrier)
	for key, value := range carrier {
		if httpReq.Header.Get(key) == "" {
			httpReq.Header.Set(key, value)
		}
	}

	start := time.Now()
	resp, err := m.client.Do(ctx, httpReq)
	if err != nil {
		metrics.RecordHTTPRequest(req.Module, httpReq.Method, "error", time.Since(start).Seconds())
		tracing.RecordError(span, err)
		m.logger.WithContext(ctx).WithError(err).Warnf("Module call failed: %s %s", httpReq.Method, httpReq.URL.String())
		return nil, err
	}
	metrics.RecordHTTPRequest(req.Module, httpReq.Method, strconv.Itoa(resp.StatusCode), resp.Duration.Seconds())
	if !IsSuccessStatus(resp.StatusCode) {
		m.logger.WithContext(ctx).Infof("Module %s returned status %d for %s %s", req.Module, resp.StatusCode, httpReq.Method, httpReq.URL.Path)
	}

	body, err := ParseBody(resp)
	if err != nil {
		// Keep the raw text so the step still records what the module said
		m.logger.WithContext(ctx).WithError(err).Warnf("Failed to decode response from module %s", req.Module)
	}

	return &models.ModuleResponse{
		URL:        httpReq.URL.String(),
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		Body:       body,
	}, nil
}
