package worker

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/openinterp/code-interpreter/pkg/logs"
	"github.com/openinterp/code-interpreter/pkg/worker/host"
	"github.com/openinterp/code-interpreter/pkg/worker/kernel"
)

const (
	ErrorKindUserCode = "user_code_error"
	ErrorKindTimeout  = "user_code_timeout"
)

type executeRequest struct {
	Code string `json:"code" binding:"required"`
}

type executeResponse struct {
	ResultText   *string `json:"result_text"`
	ResultBase64 *string `json:"result_base64"`
}

type executeError struct {
	ErrorKind string `json:"error_kind"`
	Detail    string `json:"detail"`
}

// Health reports ok only while the kernel stream answers pings.
func (s *Server) Health(c *gin.Context) {
	if !s.kernel.Healthy() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Execute runs one snippet in the kernel. The response carries either text
// or an image, never both; errors dominate both.
func (s *Server) Execute(c *gin.Context) {
	ctx := logs.NewContext()
	log := klog.FromContext(ctx)

	var request executeRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusUnprocessableEntity, executeError{
			ErrorKind: ErrorKindUserCode,
			Detail:    "invalid request body: " + err.Error(),
		})
		return
	}

	result := s.kernel.Execute(ctx, request.Code)
	switch result.Status {
	case kernel.StatusOK:
		var response executeResponse
		if result.Kind == kernel.KindImagePNG {
			response.ResultBase64 = &result.Value
		} else if result.Value != "" {
			response.ResultText = &result.Value
		}
		c.JSON(http.StatusOK, response)
	case kernel.StatusTimeout:
		// The run overshot its budget; the kernel may still be spinning on
		// user code, so recycle it in the background while the gateway
		// replaces this worker.
		log.Info("execution timed out, scheduling kernel recycle")
		go func() {
			recycleCtx := logs.NewContext()
			if err := s.kernel.Reset(recycleCtx); err != nil {
				klog.FromContext(recycleCtx).Error(err, "kernel recycle after timeout failed")
			}
		}()
		c.JSON(http.StatusBadRequest, executeError{
			ErrorKind: ErrorKindTimeout,
			Detail:    result.Value,
		})
	case kernel.StatusError:
		if result.Kind == kernel.KindExecution {
			c.JSON(http.StatusBadRequest, executeError{
				ErrorKind: ErrorKindUserCode,
				Detail:    result.Value,
			})
			return
		}
		log.Error(nil, "execution failed", "kind", result.Kind, "detail", result.Value)
		c.JSON(http.StatusInternalServerError, executeError{
			ErrorKind: string(result.Kind),
			Detail:    result.Value,
		})
	default:
		log.Error(nil, "kernel is dead", "detail", result.Value)
		c.JSON(http.StatusInternalServerError, executeError{
			ErrorKind: string(result.Kind),
			Detail:    result.Value,
		})
	}
}

// Reset restarts the kernel, dropping all session state. Exists for operator
// use; the gateway itself replaces workers instead of resetting them.
func (s *Server) Reset(c *gin.Context) {
	ctx := logs.NewContext()
	if err := s.kernel.Reset(ctx); err != nil {
		klog.FromContext(ctx).Error(err, "kernel reset failed")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "kernel reset failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Metrics returns host-level resource usage of the sandbox.
func (s *Server) Metrics(c *gin.Context) {
	metrics, err := host.GetMetrics()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to collect metrics"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, metrics)
}
