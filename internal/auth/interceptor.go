package auth

import (
	"context"
	"errors"
	"strings"

	"connectrpc.com/connect"
	"github.com/castlemilk/pfinance-insights/internal/logger"
	"github.com/rs/zerolog"
)

// UserIDHeader carries the caller's opaque user id.
const UserIDHeader = "X-User-Id"

const maxUserIDLength = 128

// UserIDInterceptor puts the caller named by the X-User-Id header into the
// request context. When the header is absent, devUserID is used instead if it
// is set (local development); otherwise the request is unauthenticated.
func UserIDInterceptor(devUserID string, log zerolog.Logger) connect.UnaryInterceptorFunc {
	log = logger.Component(log, "auth")
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			// Skip auth for health checks or other public endpoints
			if isPublicEndpoint(req.Spec().Procedure) {
				return next(ctx, req)
			}

			uid, err := ExtractUserID(req.Header().Get(UserIDHeader))
			if err != nil {
				if devUserID == "" {
					log.Debug().Err(err).Str("procedure", req.Spec().Procedure).Msg("rejected request without user")
					return nil, connect.NewError(connect.CodeUnauthenticated, err)
				}
				uid = devUserID
			}

			ctx = withUserClaims(ctx, &UserClaims{UID: uid})
			ctx = logger.WithContext(ctx, logger.WithFields(log, map[string]interface{}{
				"user_id":   uid,
				"procedure": req.Spec().Procedure,
			}))
			return next(ctx, req)
		}
	}
}

// ExtractUserID validates a raw X-User-Id header value.
func ExtractUserID(header string) (string, error) {
	uid := strings.TrimSpace(header)
	switch {
	case uid == "":
		return "", errors.New("X-User-Id header is required")
	case len(uid) > maxUserIDLength:
		return "", errors.New("X-User-Id header is too long")
	case strings.ContainsAny(uid, "/\x00"):
		return "", errors.New("X-User-Id header contains invalid characters")
	}
	return uid, nil
}

// isPublicEndpoint checks if an endpoint should be accessible without authentication
func isPublicEndpoint(procedure string) bool {
	publicEndpoints := []string{
		"/health",
		"/ping",
	}

	for _, endpoint := range publicEndpoints {
		if procedure == endpoint {
			return true
		}
	}

	return false
}
