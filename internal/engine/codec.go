package engine

import (
	"fmt"
	"strings"
)

const firstDynamicPayloadType = 100

// defaultHeaderExtensions are advertised by every router.
var defaultHeaderExtensions = []RTPHeaderExtension{
	{Kind: MediaKindAudio, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1, Direction: "sendrecv"},
	{Kind: MediaKindVideo, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1, Direction: "sendrecv"},
	{Kind: MediaKindAudio, URI: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time", PreferredID: 4, Direction: "sendrecv"},
	{Kind: MediaKindVideo, URI: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time", PreferredID: 4, Direction: "sendrecv"},
	{Kind: MediaKindAudio, URI: "urn:ietf:params:rtp-hdrext:ssrc-audio-level", PreferredID: 10, Direction: "sendrecv"},
	{Kind: MediaKindVideo, URI: "urn:3gpp:video-orientation", PreferredID: 11, Direction: "sendrecv"},
}

// RouterCapabilities validates the configured media codecs and returns the
// capability set a router built from them exposes. Codecs without a preferred
// payload type get one from the dynamic range.
func RouterCapabilities(codecs []RTPCodecCapability) (RTPCapabilities, error) {
	if len(codecs) == 0 {
		return RTPCapabilities{}, fmt.Errorf("at least one media codec is required")
	}

	used := make(map[uint8]bool, len(codecs))
	for _, c := range codecs {
		if c.PreferredPayloadType == 0 {
			continue
		}
		if used[c.PreferredPayloadType] {
			return RTPCapabilities{}, fmt.Errorf("duplicate preferredPayloadType %d", c.PreferredPayloadType)
		}
		used[c.PreferredPayloadType] = true
	}

	next := uint8(firstDynamicPayloadType)
	out := make([]RTPCodecCapability, 0, len(codecs))
	for i, c := range codecs {
		if err := validateCodec(c); err != nil {
			return RTPCapabilities{}, fmt.Errorf("codec %d: %w", i, err)
		}
		c.Parameters = cloneParams(c.Parameters)
		c.RTCPFeedback = append([]RTCPFeedback(nil), c.RTCPFeedback...)
		if c.Kind == MediaKindAudio && c.Channels == 0 {
			c.Channels = 1
		}
		if c.PreferredPayloadType == 0 {
			for used[next] {
				if next == 127 {
					return RTPCapabilities{}, fmt.Errorf("ran out of dynamic payload types")
				}
				next++
			}
			c.PreferredPayloadType = next
			used[next] = true
		}
		out = append(out, c)
	}

	return RTPCapabilities{
		Codecs:           out,
		HeaderExtensions: append([]RTPHeaderExtension(nil), defaultHeaderExtensions...),
	}, nil
}

func validateCodec(c RTPCodecCapability) error {
	if _, err := ParseMediaKind(string(c.Kind)); err != nil {
		return err
	}
	mime := strings.ToLower(c.MimeType)
	if !strings.HasPrefix(mime, string(c.Kind)+"/") {
		return fmt.Errorf("mimeType %q does not match kind %q", c.MimeType, c.Kind)
	}
	if c.ClockRate == 0 {
		return fmt.Errorf("clockRate is required for %s", c.MimeType)
	}
	return nil
}

// Matches reports whether two codec descriptions refer to the same codec
// configuration.
func (c RTPCodecCapability) Matches(o RTPCodecCapability) bool {
	if !strings.EqualFold(c.MimeType, o.MimeType) || c.ClockRate != o.ClockRate {
		return false
	}
	if c.Kind == MediaKindAudio || o.Kind == MediaKindAudio {
		if channelsOrOne(c.Channels) != channelsOrOne(o.Channels) {
			return false
		}
	}
	switch strings.ToLower(c.MimeType) {
	case "video/h264", "video/h265":
		if paramString(c.Parameters, "packetization-mode", "0") != paramString(o.Parameters, "packetization-mode", "0") {
			return false
		}
	case "video/vp9":
		if paramString(c.Parameters, "profile-id", "0") != paramString(o.Parameters, "profile-id", "0") {
			return false
		}
	}
	return true
}

// Capability converts negotiated codec parameters back to a capability of the
// given kind so it can be matched against capability sets.
func (c RTPCodecParameters) Capability(kind MediaKind) RTPCodecCapability {
	return RTPCodecCapability{
		Kind:                 kind,
		MimeType:             c.MimeType,
		PreferredPayloadType: c.PayloadType,
		ClockRate:            c.ClockRate,
		Channels:             c.Channels,
		Parameters:           c.Parameters,
		RTCPFeedback:         c.RTCPFeedback,
	}
}

// FindCodec returns the first codec in caps matching c.
func (caps RTPCapabilities) FindCodec(c RTPCodecCapability) (RTPCodecCapability, bool) {
	for _, candidate := range caps.Codecs {
		if candidate.Kind != "" && c.Kind != "" && candidate.Kind != c.Kind {
			continue
		}
		if candidate.Matches(c) {
			return candidate, true
		}
	}
	return RTPCodecCapability{}, false
}

// CheckProducible verifies every media codec in params is supported by the
// router capability set.
func (caps RTPCapabilities) CheckProducible(kind MediaKind, params RTPParameters) error {
	if err := params.Validate(); err != nil {
		return err
	}
	media := 0
	for _, c := range params.Codecs {
		if isRTX(c.MimeType) {
			continue
		}
		media++
		if !strings.HasPrefix(strings.ToLower(c.MimeType), string(kind)+"/") {
			return fmt.Errorf("codec %s does not match kind %s", c.MimeType, kind)
		}
		if _, ok := caps.FindCodec(c.Capability(kind)); !ok {
			return fmt.Errorf("unsupported codec %s/%d", c.MimeType, c.ClockRate)
		}
	}
	if media == 0 {
		return fmt.Errorf("rtpParameters has no media codecs")
	}
	return nil
}

// CanConsume reports whether a consumer advertising consumerCaps can receive
// at least one media codec of a producer with the given parameters.
func CanConsume(kind MediaKind, producer RTPParameters, consumerCaps RTPCapabilities) bool {
	for _, c := range producer.Codecs {
		if isRTX(c.MimeType) {
			continue
		}
		if _, ok := consumerCaps.FindCodec(c.Capability(kind)); ok {
			return true
		}
	}
	return false
}

// ConsumerParameters derives the RTP parameters a consumer of producer
// receives: the producer's media codecs the consumer supports (re-numbered to
// the router's payload types), header extensions both sides know, and one
// encoding carrying ssrc.
func ConsumerParameters(kind MediaKind, producer RTPParameters, routerCaps, consumerCaps RTPCapabilities, ssrc uint32, cname string) (RTPParameters, error) {
	out := RTPParameters{
		RTCP: &RTCPParameters{CNAME: cname},
	}
	for _, c := range producer.Codecs {
		if isRTX(c.MimeType) {
			continue
		}
		capability := c.Capability(kind)
		if _, ok := consumerCaps.FindCodec(capability); !ok {
			continue
		}
		routerCodec, ok := routerCaps.FindCodec(capability)
		if !ok {
			continue
		}
		out.Codecs = append(out.Codecs, RTPCodecParameters{
			MimeType:     routerCodec.MimeType,
			PayloadType:  routerCodec.PreferredPayloadType,
			ClockRate:    routerCodec.ClockRate,
			Channels:     routerCodec.Channels,
			Parameters:   cloneParams(c.Parameters),
			RTCPFeedback: append([]RTCPFeedback(nil), routerCodec.RTCPFeedback...),
		})
	}
	if len(out.Codecs) == 0 {
		return RTPParameters{}, fmt.Errorf("no codec of producer is supported by consumer")
	}

	for _, ext := range consumerCaps.HeaderExtensions {
		if ext.Kind != "" && ext.Kind != kind {
			continue
		}
		for _, routerExt := range routerCaps.HeaderExtensions {
			if routerExt.Kind == kind && routerExt.URI == ext.URI {
				out.HeaderExtensions = append(out.HeaderExtensions, RTPHeaderExtensionParameters{
					URI: routerExt.URI,
					ID:  routerExt.PreferredID,
				})
				break
			}
		}
	}

	out.Encodings = []RTPEncodingParameters{{SSRC: ssrc}}
	return out, nil
}

func isRTX(mimeType string) bool {
	return strings.HasSuffix(strings.ToLower(mimeType), "/rtx")
}

func channelsOrOne(ch uint16) uint16 {
	if ch == 0 {
		return 1
	}
	return ch
}

func paramString(params map[string]any, key, fallback string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return fallback
	}
	return fmt.Sprint(v)
}

func cloneParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
