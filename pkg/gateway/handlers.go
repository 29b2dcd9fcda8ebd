package gateway

import (
	"encoding/json"
	goerrors "errors"
	"fmt"
	"net/http"

	"k8s.io/klog/v2"

	"github.com/openinterp/code-interpreter/pkg/gateway/errors"
	"github.com/openinterp/code-interpreter/pkg/gateway/pool"
	"github.com/openinterp/code-interpreter/pkg/gateway/web"
)

// Execute acquires (or reuses) the session's worker and forwards the code to
// it. A pure user-code error keeps the binding; any other failure destroys
// the worker and unbinds the session. Contaminated workers are never healed.
func (c *Controller) Execute(r *http.Request) (web.ApiResponse[ExecuteResponse], *web.ApiError) {
	ctx := r.Context()
	log := klog.FromContext(ctx)

	var request ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		return web.ApiResponse[ExecuteResponse]{}, &web.ApiError{
			Code:    http.StatusBadRequest,
			Message: fmt.Sprintf("invalid request body: %v", err),
		}
	}
	if request.UserUUID == "" {
		return web.ApiResponse[ExecuteResponse]{}, &web.ApiError{
			Code:    http.StatusBadRequest,
			Message: "user_uuid is required",
		}
	}

	worker, err := c.pool.Acquire(ctx, request.UserUUID)
	if err != nil {
		return web.ApiResponse[ExecuteResponse]{}, apiError(err)
	}

	result, err := c.forwarder.Execute(ctx, worker.InternalURL, request.Code)
	if err != nil {
		code := errors.GetErrCode(err)
		if code == errors.ErrorUserCodeError {
			// The worker survived the run; only the user's code failed.
			return web.ApiResponse[ExecuteResponse]{}, apiError(err)
		}
		log.Info("destroying worker after failed execute",
			"worker", worker.Name, "session", request.UserUUID, "kind", code)
		c.pool.RecordFailure(ctx, request.UserUUID)
		return web.ApiResponse[ExecuteResponse]{}, apiError(err)
	}

	c.pool.Touch(request.UserUUID)
	return web.ApiResponse[ExecuteResponse]{
		Body: ExecuteResponse{
			ResultText:   result.ResultText,
			ResultBase64: result.ResultBase64,
		},
	}, nil
}

// Release destroys the session's worker. Unknown sessions are a no-op so the
// operation is idempotent.
func (c *Controller) Release(r *http.Request) (web.ApiResponse[ReleaseResponse], *web.ApiError) {
	ctx := r.Context()

	var request ReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		return web.ApiResponse[ReleaseResponse]{}, &web.ApiError{
			Code:    http.StatusBadRequest,
			Message: fmt.Sprintf("invalid request body: %v", err),
		}
	}
	if request.UserUUID == "" {
		return web.ApiResponse[ReleaseResponse]{}, &web.ApiError{
			Code:    http.StatusBadRequest,
			Message: "user_uuid is required",
		}
	}

	c.pool.Release(ctx, request.UserUUID)
	return web.ApiResponse[ReleaseResponse]{
		Body: ReleaseResponse{
			Status: "ok",
			Detail: fmt.Sprintf("session %s released", request.UserUUID),
		},
	}, nil
}

func (c *Controller) Status(_ *http.Request) (web.ApiResponse[pool.Stats], *web.ApiError) {
	return web.ApiResponse[pool.Stats]{
		Body: c.pool.Snapshot(),
	}, nil
}

func apiError(err error) *web.ApiError {
	code := errors.GetErrCode(err)
	message := err.Error()
	var typed *errors.Error
	if goerrors.As(err, &typed) {
		message = typed.Message
	}
	return &web.ApiError{
		Code:    errors.HTTPStatus(code),
		Kind:    string(code),
		Message: message,
	}
}
