package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/engine"
)

type CreateWebRTCTransportRequest struct {
	Producing        *bool                    `json:"producing,omitempty"`
	Consuming        *bool                    `json:"consuming,omitempty"`
	SCTPCapabilities *engine.SCTPCapabilities `json:"sctpCapabilities,omitempty"`
}

type TransportCreated struct {
	ID             string                 `json:"id"`
	ICEParameters  engine.ICEParameters   `json:"iceParameters"`
	ICECandidates  []engine.ICECandidate  `json:"iceCandidates"`
	DTLSParameters engine.DTLSParameters  `json:"dtlsParameters"`
	SCTPParameters *engine.SCTPParameters `json:"sctpParameters,omitempty"`
}

type ConnectTransportRequest struct {
	TransportID    string                `json:"transportId"`
	DTLSParameters engine.DTLSParameters `json:"dtlsParameters"`
	ICEParameters  *engine.ICEParameters `json:"iceParameters,omitempty"`
}

func (r ConnectTransportRequest) Validate() error {
	if strings.TrimSpace(r.TransportID) == "" {
		return fmt.Errorf("transportId is required")
	}
	if err := r.DTLSParameters.Validate(); err != nil {
		return err
	}
	if r.ICEParameters != nil {
		return r.ICEParameters.Validate()
	}
	return nil
}

type ProduceRequest struct {
	TransportID   string               `json:"transportId"`
	Kind          string               `json:"kind"`
	RTPParameters engine.RTPParameters `json:"rtpParameters"`
	AppData       json.RawMessage      `json:"appData,omitempty"`

	// MediaKind is Kind parsed by DecodeRequest.
	MediaKind engine.MediaKind `json:"-"`
}

// Validate checks required fields and returns the parsed media kind.
func (r ProduceRequest) Validate() (engine.MediaKind, error) {
	if strings.TrimSpace(r.TransportID) == "" {
		return "", fmt.Errorf("transportId is required")
	}
	kind, err := engine.ParseMediaKind(r.Kind)
	if err != nil {
		return "", err
	}
	if err := r.RTPParameters.Validate(); err != nil {
		return "", err
	}
	return kind, nil
}

type Produced struct {
	ID string `json:"id"`
}

type ConsumeRequest struct {
	TransportID     string                 `json:"transportId"`
	ProducerID      string                 `json:"producerId"`
	RTPCapabilities engine.RTPCapabilities `json:"rtpCapabilities"`
}

func (r ConsumeRequest) Validate() error {
	if strings.TrimSpace(r.TransportID) == "" {
		return fmt.Errorf("transportId is required")
	}
	if strings.TrimSpace(r.ProducerID) == "" {
		return fmt.Errorf("producerId is required")
	}
	return nil
}

type Consumed struct {
	ID            string               `json:"id"`
	ProducerID    string               `json:"producerId"`
	Kind          string               `json:"kind"`
	RTPParameters engine.RTPParameters `json:"rtpParameters"`
}

// ProducerRequest is the payload of pauseProducer and resumeProducer.
type ProducerRequest struct {
	ProducerID string `json:"producerId"`
}

func (r ProducerRequest) Validate() error {
	if strings.TrimSpace(r.ProducerID) == "" {
		return fmt.Errorf("producerId is required")
	}
	return nil
}

type NewProducer struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Kind   string `json:"kind"`
}

type ProducerClosed struct {
	ProducerID string `json:"producerId"`
}

// Empty encodes as {}.
type Empty struct{}
