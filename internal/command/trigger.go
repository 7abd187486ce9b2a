package command

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog"
)

// FailureLevel is the level a control surface logs a failed action at.
// ErrNotConnected has already been logged by the dispatcher.
func FailureLevel(err error) zerolog.Level {
	if errors.Is(err, ErrNotConnected) {
		return zerolog.DebugLevel
	}
	return zerolog.WarnLevel
}

// ParseTrigger reads a control payload. Empty payloads and true fire the
// action with no argument; false is ignored. A JSON string, a number, an
// object with "value" or plain text becomes the argument.
func ParseTrigger(data []byte) (arg string, fire bool) {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", true
	}

	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return text, true
	}

	switch val := v.(type) {
	case bool:
		return "", val
	case string:
		return val, true
	case float64:
		return text, true
	case map[string]any:
		if inner, ok := val["value"]; ok {
			switch iv := inner.(type) {
			case string:
				return iv, true
			case bool:
				return "", iv
			case nil:
				return "", true
			default:
				b, _ := json.Marshal(iv)
				return string(b), true
			}
		}
		return "", true
	case nil:
		return "", true
	}
	return text, true
}
