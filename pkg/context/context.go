package context

import "context"

type ContextKey string

var (
	RequestIDKey   = ContextKey("X-Request-Id")
	MethodKey      = ContextKey("X-Method")
	RouteKey       = ContextKey("X-Route")
	RemoteIPKey    = ContextKey("X-Remote-Ip")
	UserIDKey      = ContextKey("X-User-Id")
	ExecutionIDKey = ContextKey("X-Execution-Id")
	ChainIDKey     = ContextKey("X-Chain-Id")
)

// LogKeys lists the context keys copied into log entries
var LogKeys = []string{
	string(RequestIDKey),
	string(MethodKey),
	string(RouteKey),
	string(RemoteIPKey),
	string(UserIDKey),
	string(ExecutionIDKey),
	string(ChainIDKey),
}

func getString(ctx context.Context, key ContextKey) string {
	value, ok := ctx.Value(key).(string)
	if !ok {
		return ""
	}
	return value
}

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

func SetMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, MethodKey, method)
}

func GetMethod(ctx context.Context) string {
	return getString(ctx, MethodKey)
}

func SetRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, RouteKey, route)
}

func GetRoute(ctx context.Context) string {
	return getString(ctx, RouteKey)
}

func SetRemoteIP(ctx context.Context, remoteIP string) context.Context {
	return context.WithValue(ctx, RemoteIPKey, remoteIP)
}

func GetRemoteIP(ctx context.Context) string {
	return getString(ctx, RemoteIPKey)
}

// SetUserID records the caller identity. It is attribution only, never authorization.
func SetUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func GetUserID(ctx context.Context) string {
	return getString(ctx, UserIDKey)
}

func SetExecutionID(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, ExecutionIDKey, executionID)
}

func GetExecutionID(ctx context.Context) string {
	return getString(ctx, ExecutionIDKey)
}

func SetChainID(ctx context.Context, chainID string) context.Context {
	return context.WithValue(ctx, ChainIDKey, chainID)
}

func GetChainID(ctx context.Context) string {
	return getString(ctx, ChainIDKey)
}
