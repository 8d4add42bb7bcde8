package httpclient

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/Gobusters/ectoerror/httperror"
)

// Registry resolves a module name to its base URL. An unknown module is an
// httperror with status 404.
type Registry interface {
	BaseURL(ctx context.Context, module string) (string, error)
}

// StaticRegistry is an in-memory module registry
type StaticRegistry struct {
	mu      sync.RWMutex
	modules map[string]string
}

func NewStaticRegistry(modules map[string]string) *StaticRegistry {
	r := &StaticRegistry{modules: make(map[string]string, len(modules))}
	for name, baseURL := range modules {
		r.modules[name] = baseURL
	}
	return r
}

// ParseModuleList parses "name=url,name=url" pairs
func ParseModuleList(value string) map[string]string {
	modules := map[string]string{}
	for _, pair := range strings.Split(value, ",") {
		name, baseURL, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found || name == "" || baseURL == "" {
			continue
		}
		modules[strings.TrimSpace(name)] = strings.TrimSpace(baseURL)
	}
	return modules
}

func (r *StaticRegistry) Register(module, baseURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[module] = baseURL
}

func (r *StaticRegistry) BaseURL(_ context.Context, module string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	baseURL, ok := r.modules[module]
	if !ok {
		return "", httperror.NewHTTPErrorf(http.StatusNotFound, "module %s not found", module)
	}
	return baseURL, nil
}

// Registries consults each registry in order and returns the first match
type Registries []Registry

func (rs Registries) BaseURL(ctx context.Context, module string) (string, error) {
	for _, r := range rs {
		baseURL, err := r.BaseURL(ctx, module)
		if err == nil {
			return baseURL, nil
		}
		if !isNotFound(err) {
			return "", err
		}
	}
	return "", httperror.NewHTTPErrorf(http.StatusNotFound, "module %s not found", module)
}

func isNotFound(err error) bool {
	return httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound
}
