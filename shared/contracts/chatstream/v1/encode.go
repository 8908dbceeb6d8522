package v1

import (
	"bytes"
	"encoding/json"
	"io"
)

// Encode writes e to w as one Server-Sent Events frame.
func Encode(w io.Writer, e Event) error {
	b, err := EncodeBytes(e)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// EncodeBytes returns the SSE frame for e. Snapshot and error events carry
// an event line; deltas use the default message type.
func EncodeBytes(e Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e.payload())
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(data) + 32)
	if e.Type != TypeDelta {
		buf.WriteString("event: ")
		buf.WriteString(e.Type)
		buf.WriteByte('\n')
	}
	buf.WriteString("data: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}
