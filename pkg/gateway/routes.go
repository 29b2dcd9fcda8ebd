package gateway

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/openinterp/code-interpreter/pkg/gateway/metrics"
	"github.com/openinterp/code-interpreter/pkg/gateway/web"
)

const authHeader = "X-Auth-Token"

func (c *Controller) registerRoutes() {
	web.RegisterRoute(c.mux, http.MethodPost, "/execute", c.Execute, c.CheckAuthToken)
	web.RegisterRoute(c.mux, http.MethodPost, "/release", c.Release, c.CheckAuthToken)
	web.RegisterRoute(c.mux, http.MethodGet, "/status", c.Status, c.CheckAuthToken)
	c.mux.Handle("GET /metrics", metrics.Handler())
}

// CheckAuthToken validates the caller's token in constant time.
func (c *Controller) CheckAuthToken(ctx context.Context, r *http.Request) (context.Context, *web.ApiError) {
	token := r.Header.Get(authHeader)
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(c.opts.AuthToken)) != 1 {
		return ctx, &web.ApiError{
			Code:    http.StatusUnauthorized,
			Kind:    "AuthInvalid",
			Message: "invalid or missing authentication token",
		}
	}
	return ctx, nil
}
