// Package proxy forwards execute requests to a worker and classifies the
// outcome into the gateway's error taxonomy.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"k8s.io/klog/v2"

	"github.com/openinterp/code-interpreter/pkg/gateway/errors"
)

const (
	KindUserCodeError   = "user_code_error"
	KindUserCodeTimeout = "user_code_timeout"
)

type Result struct {
	ResultText   *string `json:"result_text"`
	ResultBase64 *string `json:"result_base64"`
}

type executeRequest struct {
	Code string `json:"code"`
}

type agentError struct {
	ErrorKind string `json:"error_kind"`
	Detail    string `json:"detail"`
}

type Forwarder struct {
	client *http.Client
}

// NewForwarder builds a forwarder whose round-trip deadline must strictly
// exceed the worker's in-sandbox execution budget; config validation
// guarantees that.
func NewForwarder(timeout time.Duration) *Forwarder {
	return &Forwarder{
		client: &http.Client{Timeout: timeout},
	}
}

// Execute forwards the code to the worker and returns its result verbatim.
// Failures come back as typed errors:
//   - UserCodeError: the code failed, the worker is still trustworthy.
//   - UserCodeTimeout: the worker killed the run, treat it as contaminated.
//   - Internal: the worker answered 5xx or something unclassifiable.
//   - TransportFailure: the call never completed, including cancellation.
func (f *Forwarder) Execute(ctx context.Context, workerURL, code string) (*Result, error) {
	log := klog.FromContext(ctx)
	body, err := json.Marshal(executeRequest{Code: code})
	if err != nil {
		return nil, errors.Newf(errors.ErrorInternal, "failed to encode execute request: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, workerURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Newf(errors.ErrorInternal, "failed to build execute request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		log.Error(err, "failed to reach worker", "url", workerURL)
		return nil, errors.NewError(errors.ErrorTransportFailure,
			"could not connect to the execution worker, the environment has been reset")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var result Result
		if decodeErr := json.NewDecoder(resp.Body).Decode(&result); decodeErr != nil {
			return nil, errors.Newf(errors.ErrorInternal, "failed to decode worker response: %v", decodeErr)
		}
		return &result, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var ae agentError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&ae); decodeErr != nil {
			return nil, errors.Newf(errors.ErrorInternal,
				"worker returned %d with unreadable body", resp.StatusCode)
		}
		if ae.ErrorKind == KindUserCodeTimeout {
			return nil, errors.NewError(errors.ErrorUserCodeTimeout, ae.Detail)
		}
		return nil, errors.NewError(errors.ErrorUserCodeError, ae.Detail)
	default:
		log.Info("worker returned server error", "url", workerURL, "status", resp.StatusCode)
		return nil, errors.NewError(errors.ErrorInternal,
			fmt.Sprintf("worker returned unexpected status %d", resp.StatusCode))
	}
}
