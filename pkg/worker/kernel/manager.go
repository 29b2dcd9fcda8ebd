// Package kernel manages one stateful Jupyter kernel and the bidirectional
// message stream the worker executes code through.
package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"
)

const (
	startMaxRetries = 10
	startRetryDelay = time.Second
	pingTimeout     = 2 * time.Second
)

// initCode prepares the plotting environment once per kernel so user code
// renders CJK labels without tofu glyphs.
const initCode = "import matplotlib\n" +
	"matplotlib.rcParams['font.family'] = ['SimHei']\n" +
	"matplotlib.rcParams['axes.unicode_minus'] = False\n"

// Manager owns exactly one kernel and one websocket stream per worker
// lifetime. Executes are serialized on a mutex; there is at most one
// in-flight run at any time. Health pings ride the websocket control channel
// and never interfere with message assembly.
type Manager struct {
	apiURL           string
	wsURL            string
	executionTimeout time.Duration

	client *http.Client

	mu       sync.Mutex
	kernelID string
	conn     *websocket.Conn
	msgCh    chan *message
	deadCh   chan struct{}
	pongCh   chan struct{}
}

func NewManager(host string, executionTimeout time.Duration) *Manager {
	return &Manager{
		apiURL:           "http://" + host,
		wsURL:            "ws://" + host,
		executionTimeout: executionTimeout,
		client:           &http.Client{Timeout: 5 * time.Second},
	}
}

// Start creates a kernel through the Jupyter REST API, retrying while the
// server boots, then opens the channel stream and warms up the environment.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(ctx)
}

func (m *Manager) startLocked(ctx context.Context) error {
	log := klog.FromContext(ctx)
	if m.kernelID != "" {
		log.Info("kernel is already running", "kernelID", m.kernelID)
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < startMaxRetries; attempt++ {
		kernelID, err := m.createKernel(ctx)
		if err != nil {
			lastErr = err
			log.Info("jupyter server not ready yet, retrying",
				"attempt", attempt+1, "maxRetries", startMaxRetries, "error", err.Error())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(startRetryDelay):
			}
			continue
		}
		m.kernelID = kernelID
		if err := m.connectLocked(ctx); err != nil {
			m.shutdownLocked(ctx)
			return err
		}
		log.Info("kernel started", "kernelID", kernelID)

		if res := m.executeLocked(ctx, initCode); res.Status != StatusOK {
			log.Error(fmt.Errorf("%s", res.Value), "kernel environment initialization failed")
			m.shutdownLocked(ctx)
			return fmt.Errorf("kernel environment initialization failed: %s", res.Value)
		}
		return nil
	}
	return fmt.Errorf("unable to connect to jupyter server after %d attempts: %w", startMaxRetries, lastErr)
}

func (m *Manager) createKernel(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{"name": "python"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL+"/api/kernels", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("kernel creation returned status %d", resp.StatusCode)
	}
	var kernelData struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&kernelData); err != nil {
		return "", err
	}
	return kernelData.ID, nil
}

// connectLocked dials the channel stream and starts the read pump.
func (m *Manager) connectLocked(ctx context.Context) error {
	if m.conn != nil {
		_ = m.conn.Close()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx,
		fmt.Sprintf("%s/api/kernels/%s/channels", m.wsURL, m.kernelID), nil)
	if err != nil {
		m.conn = nil
		return fmt.Errorf("failed to establish kernel stream: %w", err)
	}
	m.conn = conn
	m.msgCh = make(chan *message, 64)
	m.deadCh = make(chan struct{})
	m.pongCh = make(chan struct{}, 1)
	conn.SetPongHandler(func(string) error {
		select {
		case m.pongCh <- struct{}{}:
		default:
		}
		return nil
	})
	go readPump(conn, m.msgCh, m.deadCh)
	return nil
}

func readPump(conn *websocket.Conn, msgCh chan<- *message, deadCh chan struct{}) {
	defer close(deadCh)
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		msgCh <- &msg
	}
}

// Healthy reports whether the kernel stream answers a control ping in time.
func (m *Manager) Healthy() bool {
	m.mu.Lock()
	conn, pongCh, deadCh := m.conn, m.pongCh, m.deadCh
	m.mu.Unlock()
	if conn == nil {
		return false
	}
	select {
	case <-deadCh:
		return false
	default:
	}
	if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingTimeout)); err != nil {
		return false
	}
	select {
	case <-pongCh:
		return true
	case <-deadCh:
		return false
	case <-time.After(pingTimeout):
		return false
	}
}

// Execute runs code in the kernel and assembles the reply stream into one
// result, bounded by the execution timeout.
func (m *Manager) Execute(ctx context.Context, code string) ExecutionResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executeLocked(ctx, code)
}

func (m *Manager) executeLocked(ctx context.Context, code string) ExecutionResult {
	log := klog.FromContext(ctx)
	if m.conn == nil {
		return ExecutionResult{Status: StatusError, Kind: KindConnection, Value: "execution engine connection lost"}
	}
	select {
	case <-m.deadCh:
		// The stream died since the last run; try once to re-dial it.
		if err := m.connectLocked(ctx); err != nil {
			return ExecutionResult{Status: StatusError, Kind: KindConnection, Value: "execution engine connection lost"}
		}
	default:
	}

	msgID := uuid.NewString()
	payload, err := newExecuteRequest(msgID, code)
	if err != nil {
		return ExecutionResult{Status: StatusError, Kind: KindProcessing, Value: err.Error()}
	}
	start := time.Now()
	if err := m.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return ExecutionResult{Status: StatusError, Kind: KindConnection, Value: "execution engine connection lost"}
	}

	asm := newAssembler(msgID)
	timer := time.NewTimer(m.executionTimeout)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			log.Info("code execution timed out", "budget", m.executionTimeout)
			return ExecutionResult{
				Status: StatusTimeout,
				Kind:   KindTimeout,
				Value:  fmt.Sprintf("code execution timed out (exceeded %v)", m.executionTimeout),
			}
		case <-m.deadCh:
			return ExecutionResult{Status: StatusError, Kind: KindConnection, Value: "execution engine connection lost"}
		case msg := <-m.msgCh:
			if asm.feed(msg) {
				result := asm.result()
				log.V(4).Info("code execution completed",
					"status", result.Status, "cost", time.Since(start))
				return result
			}
		}
	}
}

// Reset tears the kernel down and starts a fresh one, dropping all state.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	klog.FromContext(ctx).Info("resetting kernel", "kernelID", m.kernelID)
	m.shutdownLocked(ctx)
	return m.startLocked(ctx)
}

// Close shuts the kernel down without restarting it.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownLocked(ctx)
}

func (m *Manager) shutdownLocked(ctx context.Context) {
	log := klog.FromContext(ctx)
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	if m.kernelID == "" {
		return
	}
	kernelID := m.kernelID
	m.kernelID = ""
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/api/kernels/%s", m.apiURL, kernelID), nil)
	if err != nil {
		return
	}
	resp, err := m.client.Do(req)
	if err != nil {
		log.Info("failed to shut down kernel", "kernelID", kernelID, "error", err.Error())
		return
	}
	_ = resp.Body.Close()
	log.Info("kernel shut down", "kernelID", kernelID)
}
