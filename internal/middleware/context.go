package middleware

import (
	"context"
	"net/http"

	"storefront/internal/model"
	"storefront/internal/transport"
)

type contextKey string

const (
	requestInfoContextKey contextKey = "request_info"
	identityContextKey    contextKey = "identity"
)

// RequestInfo is everything the auth chain needs from the raw request,
// assembled once so later stages never touch headers or cookies.
type RequestInfo struct {
	RequestID        string
	Client           model.ClientInfo
	AccessToken      string
	AccessFromCookie bool
	RefreshToken     string
}

func RequestContext(cookies *transport.Cookies, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access, fromCookie := cookies.AccessToken(r)
			info := RequestInfo{
				RequestID: w.Header().Get(requestIDHeader),
				Client: model.ClientInfo{
					IP:        transport.ClientIP(r, trustProxy),
					UserAgent: r.UserAgent(),
				},
				AccessToken:      access,
				AccessFromCookie: fromCookie,
				RefreshToken:     cookies.RefreshToken(r),
			}

			ctx := context.WithValue(r.Context(), requestInfoContextKey, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestInfoFromContext returns the request info, or a zero value with
// only the remote address when the middleware did not run.
func RequestInfoFromContext(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(requestInfoContextKey).(RequestInfo)
	return info, ok
}

func requestInfo(r *http.Request) RequestInfo {
	if info, ok := RequestInfoFromContext(r.Context()); ok {
		return info
	}
	return RequestInfo{
		Client:      model.ClientInfo{IP: transport.ClientIP(r, false), UserAgent: r.UserAgent()},
		AccessToken: transport.BearerToken(r),
	}
}

func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

func IdentityFromContext(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(model.Identity)
	return id, ok
}
