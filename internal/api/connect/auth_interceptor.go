package connect

import (
	"context"
	"crypto/subtle"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

const (
	// AdminTokenHeader is the header name for admin authentication token.
	AdminTokenHeader = "X-Admin-Token"
	// RequestIDHeader carries the correlation id of an admin call.
	RequestIDHeader = "X-Request-Id"
)

// NewAdminAuthInterceptor creates an interceptor that validates the admin
// token of every call and tags it with a request id.
func NewAdminAuthInterceptor(token string) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			requestID := req.Header().Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.New().String()
			}

			got := req.Header().Get(AdminTokenHeader)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				zlog.Warn().Msgf("admin call rejected: procedure=%s request_id=%s peer=%s",
					req.Spec().Procedure, requestID, req.Peer().Addr)
				return nil, connect.NewError(connect.CodeUnauthenticated, nil)
			}

			start := time.Now()
			resp, err := next(ctx, req)
			zlog.Debug().Msgf("admin call: procedure=%s request_id=%s took=%v err=%v",
				req.Spec().Procedure, requestID, time.Since(start), err)
			if resp != nil {
				resp.Header().Set(RequestIDHeader, requestID)
			}
			return resp, err
		}
	}
}
