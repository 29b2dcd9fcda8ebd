// Package logs builds contexts whose logger carries a stable contextID, so
// every line of one logical operation can be correlated.
package logs

import (
	"context"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// NewContext returns a fresh background context with a generated contextID.
// Use it for work that is not tied to a caller, like background loops.
func NewContext(keysAndValues ...any) context.Context {
	return WithContextID(context.Background(), uuid.NewString(), keysAndValues...)
}

// WithContextID attaches a contextID-tagged logger to ctx. The parent's
// cancellation and deadline are preserved, so request-scoped work dies with
// the request.
func WithContextID(ctx context.Context, contextID string, keysAndValues ...any) context.Context {
	logger := klog.LoggerWithValues(klog.Background(), "contextID", contextID)
	return klog.NewContext(ctx, logger.WithValues(keysAndValues...))
}
