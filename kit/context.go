package kit

import "context"

// Transport names how an endpoint was reached.
const (
	TransportHTTP = "http"
	TransportMCP  = "mcp"
)

// Caller describes who invoked an endpoint. It travels in the context so
// endpoints and their middlewares stay transport-agnostic.
type Caller struct {
	Transport  string
	RequestID  string
	RemoteAddr string
}

type callerKey struct{}

// WithCaller attaches c to ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the Caller attached to ctx. Transport defaults to
// TransportHTTP.
func CallerFrom(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey{}).(Caller)
	if c.Transport == "" {
		c.Transport = TransportHTTP
	}
	return c
}
