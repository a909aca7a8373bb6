package protocol

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest marks a request whose payload is malformed, misses a
// required field, or names an unsupported value.
var ErrInvalidRequest = errors.New("invalid request")

type UnknownMethodError struct {
	Method string
}

func (e *UnknownMethodError) Error() string { return "Unknown method: " + e.Method }

// Request is a decoded, validated client request payload. Each method has
// exactly one payload type.
type Request interface {
	Method() string
}

type GetRouterRTPCapabilitiesRequest struct{}

type PauseProducerRequest struct {
	ProducerRequest
}

type ResumeProducerRequest struct {
	ProducerRequest
}

func (GetRouterRTPCapabilitiesRequest) Method() string { return MethodGetRouterRTPCapabilities }
func (CreateWebRTCTransportRequest) Method() string    { return MethodCreateWebRTCTransport }
func (ConnectTransportRequest) Method() string         { return MethodConnectTransport }
func (ProduceRequest) Method() string                  { return MethodProduce }
func (ConsumeRequest) Method() string                  { return MethodConsume }
func (PauseProducerRequest) Method() string            { return MethodPauseProducer }
func (ResumeProducerRequest) Method() string           { return MethodResumeProducer }

// DecodeRequest decodes and validates m's payload according to its method.
// Unknown methods yield *UnknownMethodError; payload problems wrap
// ErrInvalidRequest.
func DecodeRequest(m Message) (Request, error) {
	var (
		req      Request
		validate func() error
	)
	switch m.Method {
	case MethodGetRouterRTPCapabilities:
		return GetRouterRTPCapabilitiesRequest{}, nil
	case MethodCreateWebRTCTransport:
		var r CreateWebRTCTransportRequest
		if err := DecodeData(m.Data, &r); err != nil {
			return nil, invalid(err)
		}
		return r, nil
	case MethodConnectTransport:
		var r ConnectTransportRequest
		if err := DecodeData(m.Data, &r); err != nil {
			return nil, invalid(err)
		}
		req, validate = r, r.Validate
	case MethodProduce:
		var r ProduceRequest
		if err := DecodeData(m.Data, &r); err != nil {
			return nil, invalid(err)
		}
		kind, err := r.Validate()
		if err != nil {
			return nil, invalid(err)
		}
		r.MediaKind = kind
		return r, nil
	case MethodConsume:
		var r ConsumeRequest
		if err := DecodeData(m.Data, &r); err != nil {
			return nil, invalid(err)
		}
		req, validate = r, r.Validate
	case MethodPauseProducer:
		var r PauseProducerRequest
		if err := DecodeData(m.Data, &r); err != nil {
			return nil, invalid(err)
		}
		req, validate = r, r.Validate
	case MethodResumeProducer:
		var r ResumeProducerRequest
		if err := DecodeData(m.Data, &r); err != nil {
			return nil, invalid(err)
		}
		req, validate = r, r.Validate
	default:
		return nil, &UnknownMethodError{Method: m.Method}
	}
	if err := validate(); err != nil {
		return nil, invalid(err)
	}
	return req, nil
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
}
