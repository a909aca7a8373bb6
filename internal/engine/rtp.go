package engine

import (
	"fmt"
	"strings"
)

type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

// ParseMediaKind accepts the lowercase wire values "audio" and "video".
func ParseMediaKind(raw string) (MediaKind, error) {
	switch MediaKind(raw) {
	case MediaKindAudio, MediaKindVideo:
		return MediaKind(raw), nil
	default:
		return "", fmt.Errorf("invalid media kind %q (expected audio or video)", raw)
	}
}

// Label is the capitalised form used in newProducer notifications and consume
// responses ("Audio", "Video").
func (k MediaKind) Label() string {
	switch k {
	case MediaKindAudio:
		return "Audio"
	case MediaKindVideo:
		return "Video"
	default:
		return string(k)
	}
}

type RTCPFeedback struct {
	Type      string `json:"type" yaml:"type"`
	Parameter string `json:"parameter,omitempty" yaml:"parameter"`
}

// RTPCodecCapability describes a codec a router (or a client) supports.
//
// Parameters values are kept untyped because clients send both numbers and
// strings (e.g. "packetization-mode": 1, "profile-level-id": "42e01f").
type RTPCodecCapability struct {
	Kind                 MediaKind      `json:"kind" yaml:"kind"`
	MimeType             string         `json:"mimeType" yaml:"mimeType"`
	PreferredPayloadType uint8          `json:"preferredPayloadType,omitempty" yaml:"preferredPayloadType"`
	ClockRate            uint32         `json:"clockRate" yaml:"clockRate"`
	Channels             uint16         `json:"channels,omitempty" yaml:"channels"`
	Parameters           map[string]any `json:"parameters,omitempty" yaml:"parameters"`
	RTCPFeedback         []RTCPFeedback `json:"rtcpFeedback,omitempty" yaml:"rtcpFeedback"`
}

type RTPHeaderExtension struct {
	Kind             MediaKind `json:"kind,omitempty"`
	URI              string    `json:"uri"`
	PreferredID      int       `json:"preferredId"`
	PreferredEncrypt bool      `json:"preferredEncrypt,omitempty"`
	Direction        string    `json:"direction,omitempty"`
}

type RTPCapabilities struct {
	Codecs           []RTPCodecCapability `json:"codecs"`
	HeaderExtensions []RTPHeaderExtension `json:"headerExtensions"`
}

type RTPCodecParameters struct {
	MimeType     string         `json:"mimeType"`
	PayloadType  uint8          `json:"payloadType"`
	ClockRate    uint32         `json:"clockRate"`
	Channels     uint16         `json:"channels,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	RTCPFeedback []RTCPFeedback `json:"rtcpFeedback,omitempty"`
}

type RTPHeaderExtensionParameters struct {
	URI        string         `json:"uri"`
	ID         int            `json:"id"`
	Encrypt    bool           `json:"encrypt,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type RTX struct {
	SSRC uint32 `json:"ssrc"`
}

type RTPEncodingParameters struct {
	SSRC             uint32 `json:"ssrc,omitempty"`
	RID              string `json:"rid,omitempty"`
	CodecPayloadType uint8  `json:"codecPayloadType,omitempty"`
	RTX              *RTX   `json:"rtx,omitempty"`
	DTX              bool   `json:"dtx,omitempty"`
	ScalabilityMode  string `json:"scalabilityMode,omitempty"`
	MaxBitrate       uint32 `json:"maxBitrate,omitempty"`
}

type RTCPParameters struct {
	CNAME       string `json:"cname,omitempty"`
	ReducedSize *bool  `json:"reducedSize,omitempty"`
}

type RTPParameters struct {
	MID              string                         `json:"mid,omitempty"`
	Codecs           []RTPCodecParameters           `json:"codecs"`
	HeaderExtensions []RTPHeaderExtensionParameters `json:"headerExtensions,omitempty"`
	Encodings        []RTPEncodingParameters        `json:"encodings,omitempty"`
	RTCP             *RTCPParameters                `json:"rtcp,omitempty"`
}

// Validate checks the structural requirements shared by every engine.
func (p RTPParameters) Validate() error {
	if len(p.Codecs) == 0 {
		return fmt.Errorf("rtpParameters.codecs must not be empty")
	}
	for i, c := range p.Codecs {
		if strings.TrimSpace(c.MimeType) == "" {
			return fmt.Errorf("rtpParameters.codecs[%d].mimeType is required", i)
		}
		if c.ClockRate == 0 {
			return fmt.Errorf("rtpParameters.codecs[%d].clockRate is required", i)
		}
	}
	return nil
}

type ICEParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	ICELite          bool   `json:"iceLite,omitempty"`
}

func (p ICEParameters) Validate() error {
	if p.UsernameFragment == "" || p.Password == "" {
		return fmt.Errorf("iceParameters.usernameFragment and iceParameters.password are required")
	}
	return nil
}

type ICECandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	// IP is kept alongside Address for older clients.
	IP       string `json:"ip"`
	Address  string `json:"address"`
	Protocol string `json:"protocol"`
	Port     uint16 `json:"port"`
	Type     string `json:"type"`
	TCPType  string `json:"tcpType,omitempty"`
}

type DTLSFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DTLSParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []DTLSFingerprint `json:"fingerprints"`
}

func (p DTLSParameters) Validate() error {
	switch p.Role {
	case "", "auto", "client", "server":
	default:
		return fmt.Errorf("invalid dtlsParameters.role %q", p.Role)
	}
	if len(p.Fingerprints) == 0 {
		return fmt.Errorf("dtlsParameters.fingerprints must not be empty")
	}
	for i, fp := range p.Fingerprints {
		if fp.Algorithm == "" || fp.Value == "" {
			return fmt.Errorf("dtlsParameters.fingerprints[%d] requires algorithm and value", i)
		}
	}
	return nil
}

type SCTPStreams struct {
	OS  uint16 `json:"OS"`
	MIS uint16 `json:"MIS"`
}

type SCTPCapabilities struct {
	NumStreams SCTPStreams `json:"numStreams"`
}

type SCTPParameters struct {
	Port           uint16 `json:"port"`
	OS             uint16 `json:"OS"`
	MIS            uint16 `json:"MIS"`
	MaxMessageSize uint32 `json:"maxMessageSize"`
}
