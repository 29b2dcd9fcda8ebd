package kernel

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusOK      = Status("ok")
	StatusError   = Status("error")
	StatusTimeout = Status("timeout")
	StatusKernel  = Status("kernel_error")
)

type ResultKind string

const (
	KindText       = ResultKind("text")
	KindImagePNG   = ResultKind("image_png_base64")
	KindExecution  = ResultKind("execution_error")
	KindTimeout    = ResultKind("timeout_error")
	KindConnection = ResultKind("connection_error")
	KindProcessing = ResultKind("processing_error")
)

// ExecutionResult is what one execute run reduces to. Precedence is fixed:
// an error dominates, then an image, then the accumulated text.
type ExecutionResult struct {
	Status Status
	Kind   ResultKind
	Value  string
}

// assembler folds the kernel's reply stream for one message ID into a single
// result. It is a pure state reducer: feed returns true once the stream is
// terminal, and result materializes the outcome.
type assembler struct {
	msgID      string
	textParts  []string
	imageB64   string
	errText    string
	kernelDead bool
}

func newAssembler(msgID string) *assembler {
	return &assembler{msgID: msgID}
}

// feed consumes one kernel message. Messages answering a different request
// are discarded.
func (a *assembler) feed(msg *message) (done bool) {
	if msg.Content.ExecutionState == "dead" {
		a.kernelDead = true
		return true
	}
	if msg.ParentHeader.MsgID != a.msgID {
		return false
	}
	switch msg.Header.MsgType {
	case "stream":
		a.textParts = append(a.textParts, msg.Content.Text)
	case "execute_result":
		if text, ok := msg.Content.dataString("text/plain"); ok {
			a.textParts = append(a.textParts, text)
		}
	case "display_data":
		// Last image wins.
		if img, ok := msg.Content.dataString("image/png"); ok {
			a.imageB64 = img
		}
	case "error":
		a.errText = fmt.Sprintf("%s: %s", ename(msg.Content.Ename), msg.Content.Evalue)
		return true
	case "status":
		if msg.Content.ExecutionState == "idle" {
			return true
		}
	}
	return false
}

func (a *assembler) result() ExecutionResult {
	if a.kernelDead {
		return ExecutionResult{Status: StatusKernel, Kind: KindProcessing, Value: "kernel dead"}
	}
	if a.errText != "" {
		return ExecutionResult{Status: StatusError, Kind: KindExecution, Value: a.errText}
	}
	if a.imageB64 != "" {
		return ExecutionResult{Status: StatusOK, Kind: KindImagePNG, Value: a.imageB64}
	}
	return ExecutionResult{Status: StatusOK, Kind: KindText, Value: strings.Join(a.textParts, "")}
}

func ename(name string) string {
	if name == "" {
		return "Error"
	}
	return name
}
