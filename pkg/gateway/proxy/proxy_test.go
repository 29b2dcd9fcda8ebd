package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openinterp/code-interpreter/pkg/gateway/errors"
)

func TestForwarder_Execute(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       any
		rawBody    string
		expectCode errors.ErrorCode
		expectText string
		expectB64  string
	}{
		{
			name:       "text result",
			status:     http.StatusOK,
			body:       map[string]any{"result_text": "4", "result_base64": nil},
			expectText: "4",
		},
		{
			name:      "image result",
			status:    http.StatusOK,
			body:      map[string]any{"result_text": nil, "result_base64": "iVBORw0KGgo="},
			expectB64: "iVBORw0KGgo=",
		},
		{
			name:   "empty result",
			status: http.StatusOK,
			body:   map[string]any{"result_text": nil, "result_base64": nil},
		},
		{
			name:       "user code error",
			status:     http.StatusBadRequest,
			body:       map[string]any{"error_kind": "user_code_error", "detail": "NameError: name 'x' is not defined"},
			expectCode: errors.ErrorUserCodeError,
		},
		{
			name:       "user code timeout",
			status:     http.StatusBadRequest,
			body:       map[string]any{"error_kind": "user_code_timeout", "detail": "execution exceeded 10s"},
			expectCode: errors.ErrorUserCodeTimeout,
		},
		{
			name:       "unknown 4xx kind treated as user code error",
			status:     http.StatusUnprocessableEntity,
			body:       map[string]any{"error_kind": "something_else", "detail": "bad payload"},
			expectCode: errors.ErrorUserCodeError,
		},
		{
			name:       "4xx with unreadable body",
			status:     http.StatusBadRequest,
			rawBody:    "not json",
			expectCode: errors.ErrorInternal,
		},
		{
			name:       "worker 5xx",
			status:     http.StatusInternalServerError,
			body:       map[string]any{"error_kind": "kernel_error", "detail": "kernel is dead"},
			expectCode: errors.ErrorInternal,
		},
		{
			name:       "2xx with corrupt body",
			status:     http.StatusOK,
			rawBody:    "{{{",
			expectCode: errors.ErrorInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/execute", r.URL.Path)
				var req executeRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.NotEmpty(t, req.Code)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				if tt.rawBody != "" {
					_, _ = w.Write([]byte(tt.rawBody))
					return
				}
				_ = json.NewEncoder(w).Encode(tt.body)
			}))
			defer server.Close()

			f := NewForwarder(5 * time.Second)
			result, err := f.Execute(context.Background(), server.URL, "print(2+2)")

			if tt.expectCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.expectCode, errors.GetErrCode(err))
				return
			}
			require.NoError(t, err)
			if tt.expectText != "" {
				require.NotNil(t, result.ResultText)
				assert.Equal(t, tt.expectText, *result.ResultText)
				assert.Nil(t, result.ResultBase64)
			}
			if tt.expectB64 != "" {
				require.NotNil(t, result.ResultBase64)
				assert.Equal(t, tt.expectB64, *result.ResultBase64)
				assert.Nil(t, result.ResultText)
			}
		})
	}
}

func TestForwarder_ExecuteTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing listens anymore

	f := NewForwarder(time.Second)
	_, err := f.Execute(context.Background(), server.URL, "print(1)")
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTransportFailure, errors.GetErrCode(err))
}

func TestForwarder_ExecuteCancelledCallerIsTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server starts its background read and can
		// observe the client disconnect; otherwise r.Context() never fires
		// and this handler (and the deferred Close) deadlocks.
		_, _ = io.Copy(io.Discard, r.Body)
		// Hold the request open until the caller goes away.
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	f := NewForwarder(10 * time.Second)
	_, err := f.Execute(ctx, server.URL, "print(1)")
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTransportFailure, errors.GetErrCode(err),
		"a client disconnect mid-execute is a transport failure")
}

func TestForwarder_ExecuteDeadlineIsTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer server.Close()

	f := NewForwarder(50 * time.Millisecond)
	_, err := f.Execute(context.Background(), server.URL, "while True: pass")
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTransportFailure, errors.GetErrCode(err))
}
