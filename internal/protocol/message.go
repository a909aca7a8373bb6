// Package protocol implements the JSON signaling frames exchanged with clients
// over the WebSocket connection.
//
// Every frame is a Message. A Message with a non-null id is a request and is
// answered with exactly one "response" frame carrying the same id. A Message
// with a null id is a notification and is never answered.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

const (
	MethodGetRouterRTPCapabilities = "getRouterRtpCapabilities"
	MethodCreateWebRTCTransport    = "createWebRtcTransport"
	MethodConnectTransport         = "connectTransport"
	MethodProduce                  = "produce"
	MethodConsume                  = "consume"
	MethodPauseProducer            = "pauseProducer"
	MethodResumeProducer           = "resumeProducer"

	// MethodResponse is the method carried by every answer to a request.
	MethodResponse = "response"

	NotificationNewProducer    = "newProducer"
	NotificationProducerClosed = "producerClosed"
)

var ErrMalformedMessage = errors.New("malformed signaling message")

type Message struct {
	ID     *string         `json:"id"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data"`
}

// IsRequest reports whether the message carries a correlation id.
func (m Message) IsRequest() bool {
	return m.ID != nil
}

func (m Message) IsNotification() bool {
	return m.ID == nil
}

// RequestID returns the correlation id, or "" for notifications.
func (m Message) RequestID() string {
	if m.ID == nil {
		return ""
	}
	return *m.ID
}

// NewRequest builds a request with a random correlation id.
func NewRequest(method string, data any) (Message, error) {
	raw, err := marshalData(data)
	if err != nil {
		return Message{}, err
	}
	id := uuid.NewString()
	return Message{ID: &id, Method: method, Data: raw}, nil
}

func NewNotification(method string, data any) (Message, error) {
	raw, err := marshalData(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Method: method, Data: raw}, nil
}

// NewResponse answers request id with payload.
func NewResponse(id string, payload any) (Message, error) {
	raw, err := marshalData(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{ID: &id, Method: MethodResponse, Data: raw}, nil
}

// NewErrorResponse answers request id with {"error": msg}.
func NewErrorResponse(id, msg string) Message {
	raw, _ := json.Marshal(ErrorPayload{Error: msg})
	return Message{ID: &id, Method: MethodResponse, Data: raw}
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// ErrorText returns the error string of a response, if it carries one.
func (m Message) ErrorText() (string, bool) {
	if m.Method != MethodResponse || len(m.Data) == 0 {
		return "", false
	}
	var p struct {
		Error *string `json:"error"`
	}
	if err := json.Unmarshal(m.Data, &p); err != nil || p.Error == nil {
		return "", false
	}
	return *p.Error, true
}

func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses one wire frame. The method is mandatory; a null or missing
// data field decodes to nil Data.
func Decode(b []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(b))

	var m Message
	if err := dec.Decode(&m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("%w: unexpected trailing data", ErrMalformedMessage)
	}
	if m.Method == "" {
		return Message{}, fmt.Errorf("%w: missing method", ErrMalformedMessage)
	}
	if isNull(m.Data) {
		m.Data = nil
	}
	return m, nil
}

// DecodeData unmarshals a message payload into v. A missing payload is
// treated as an empty object.
func DecodeData(data json.RawMessage, v any) error {
	if isNull(data) {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid data: %w", err)
	}
	return nil
}

func marshalData(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
