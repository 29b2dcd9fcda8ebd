package kernel

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Jupyter wire protocol 5.3, reduced to the fields the channel consumes.

type header struct {
	MsgID    string `json:"msg_id"`
	Username string `json:"username,omitempty"`
	Session  string `json:"session,omitempty"`
	MsgType  string `json:"msg_type"`
	Version  string `json:"version,omitempty"`
}

type message struct {
	Header       header         `json:"header"`
	ParentHeader header         `json:"parent_header"`
	Metadata     map[string]any `json:"metadata"`
	Content      content        `json:"content"`
	Channel      string         `json:"channel,omitempty"`
}

type content struct {
	// stream
	Text string `json:"text,omitempty"`
	// execute_result / display_data, keyed by mimetype
	Data map[string]any `json:"data,omitempty"`
	// error
	Ename  string `json:"ename,omitempty"`
	Evalue string `json:"evalue,omitempty"`
	// status
	ExecutionState string `json:"execution_state,omitempty"`
}

type executeRequestContent struct {
	Code            string         `json:"code"`
	Silent          bool           `json:"silent"`
	StoreHistory    bool           `json:"store_history"`
	UserExpressions map[string]any `json:"user_expressions"`
	AllowStdin      bool           `json:"allow_stdin"`
}

type executeRequest struct {
	Header       header                `json:"header"`
	ParentHeader map[string]any        `json:"parent_header"`
	Metadata     map[string]any        `json:"metadata"`
	Content      executeRequestContent `json:"content"`
	Buffers      []any                 `json:"buffers"`
	Channel      string                `json:"channel"`
}

func newExecuteRequest(msgID, code string) ([]byte, error) {
	return json.Marshal(executeRequest{
		Header: header{
			MsgID:    msgID,
			Username: "api",
			Session:  uuid.NewString(),
			MsgType:  "execute_request",
			Version:  "5.3",
		},
		ParentHeader: map[string]any{},
		Metadata:     map[string]any{},
		Content: executeRequestContent{
			Code:            code,
			UserExpressions: map[string]any{},
		},
		Buffers: []any{},
		Channel: "shell",
	})
}

func (c content) dataString(mimetype string) (string, bool) {
	v, ok := c.Data[mimetype]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
