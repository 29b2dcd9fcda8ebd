package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFakeJupyter runs a scripted kernel backend: stream output for print
// snippets, an execution error for division by zero, silence for hang.
func newFakeJupyter(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/kernels", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"kernel-1"}`))
	})
	mux.HandleFunc("/api/kernels/kernel-1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/kernels/kernel-1/channels", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req struct {
				Header struct {
					MsgID string `json:"msg_id"`
				} `json:"header"`
				Content struct {
					Code string `json:"code"`
				} `json:"content"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			msgID := req.Header.MsgID
			var replies []map[string]any
			switch {
			case strings.Contains(req.Content.Code, "print('hi')"):
				replies = []map[string]any{
					reply("stream", msgID, map[string]any{"text": "hi\n"}),
					reply("status", msgID, map[string]any{"execution_state": "idle"}),
				}
			case strings.Contains(req.Content.Code, "1/0"):
				replies = []map[string]any{
					reply("error", msgID, map[string]any{"ename": "ZeroDivisionError", "evalue": "division by zero"}),
				}
			case strings.Contains(req.Content.Code, "hang"):
				replies = nil
			default:
				replies = []map[string]any{
					reply("status", msgID, map[string]any{"execution_state": "idle"}),
				}
			}
			for _, msg := range replies {
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			}
		}
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return strings.TrimPrefix(server.URL, "http://")
}

func reply(msgType, parentID string, content map[string]any) map[string]any {
	return map[string]any{
		"header":        map[string]any{"msg_type": msgType},
		"parent_header": map[string]any{"msg_id": parentID},
		"content":       content,
	}
}

func newStartedServer(t *testing.T, timeout time.Duration) *Server {
	t.Helper()
	s := NewServer(ServerConfig{
		JupyterHost:      newFakeJupyter(t),
		ExecutionTimeout: timeout,
	})
	require.NoError(t, s.kernel.Start(context.Background()))
	t.Cleanup(func() { s.kernel.Close(context.Background()) })
	return s
}

func postExecute(s *Server, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func TestServerExecute(t *testing.T) {
	s := newStartedServer(t, 5*time.Second)

	t.Run("text result", func(t *testing.T) {
		rec := postExecute(s, `{"code":"print('hi')"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp executeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.ResultText)
		assert.Equal(t, "hi\n", *resp.ResultText)
		assert.Nil(t, resp.ResultBase64)
	})

	t.Run("user code error", func(t *testing.T) {
		rec := postExecute(s, `{"code":"1/0"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		var errResp executeError
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
		assert.Equal(t, ErrorKindUserCode, errResp.ErrorKind)
		assert.Contains(t, errResp.Detail, "ZeroDivisionError")
	})

	t.Run("missing code field", func(t *testing.T) {
		rec := postExecute(s, `{}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("corrupt body", func(t *testing.T) {
		rec := postExecute(s, `{{{`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestServerExecuteTimeout(t *testing.T) {
	s := newStartedServer(t, 100*time.Millisecond)

	rec := postExecute(s, `{"code":"hang"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var errResp executeError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, ErrorKindTimeout, errResp.ErrorKind)
}

func TestServerHealth(t *testing.T) {
	t.Run("unhealthy before kernel start", func(t *testing.T) {
		s := NewServer(ServerConfig{JupyterHost: "127.0.0.1:1"})
		rec := httptest.NewRecorder()
		s.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("healthy with live kernel", func(t *testing.T) {
		s := newStartedServer(t, 2*time.Second)
		rec := httptest.NewRecorder()
		s.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	})
}

func TestServerReset(t *testing.T) {
	s := newStartedServer(t, 2*time.Second)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reset", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestServerMetrics(t *testing.T) {
	s := NewServer(ServerConfig{JupyterHost: "127.0.0.1:1"})
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var metrics map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metrics))
	assert.Contains(t, metrics, "cpu_count")
	assert.Contains(t, metrics, "mem_total_mib")
	assert.Contains(t, metrics, "disk_total")
}

func TestServerConfigDefaults(t *testing.T) {
	s := NewServer(ServerConfig{})
	assert.Equal(t, 8000, s.config.Port)
	assert.Equal(t, "127.0.0.1:8888", s.config.JupyterHost)
	assert.Equal(t, 10*time.Second, s.config.ExecutionTimeout)
}
