package authcore

import "context"

type clientIPContextKey struct{}
type originContextKey struct{}
type deviceContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. Recorded on sessions
// and used to scope requester-side rate limits.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithOrigin attaches the origin site (shopper, seller, admin) the request
// claims to come from. The OAuth flows require it.
func WithOrigin(ctx context.Context, origin Origin) context.Context {
	return context.WithValue(ctx, originContextKey{}, origin)
}

// WithDevice attaches the device fingerprint recorded on new sessions.
func WithDevice(ctx context.Context, device string) context.Context {
	return context.WithValue(ctx, deviceContextKey{}, device)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func originFromContext(ctx context.Context) (Origin, bool) {
	if ctx == nil {
		return "", false
	}

	origin, ok := ctx.Value(originContextKey{}).(Origin)
	if !ok || !origin.Valid() {
		return "", false
	}
	return origin, true
}

func deviceFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	device, _ := ctx.Value(deviceContextKey{}).(string)
	return device
}
