package pionengine

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/engine"
)

func codecType(kind engine.MediaKind) webrtc.RTPCodecType {
	if kind == engine.MediaKindAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

// fmtpLine renders codec parameters the way they appear in an SDP a=fmtp
// line, with keys sorted for stable output.
func fmtpLine(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, ";")
}

func toPionCapability(c engine.RTPCodecCapability) webrtc.RTPCodecCapability {
	fb := make([]webrtc.RTCPFeedback, 0, len(c.RTCPFeedback))
	for _, f := range c.RTCPFeedback {
		fb = append(fb, webrtc.RTCPFeedback{Type: f.Type, Parameter: f.Parameter})
	}
	return webrtc.RTPCodecCapability{
		MimeType:     c.MimeType,
		ClockRate:    c.ClockRate,
		Channels:     c.Channels,
		SDPFmtpLine:  fmtpLine(c.Parameters),
		RTCPFeedback: fb,
	}
}

// newMediaEngine registers the router's codecs under their router payload
// types.
func newMediaEngine(caps engine.RTPCapabilities) (*webrtc.MediaEngine, error) {
	me := &webrtc.MediaEngine{}
	for _, c := range caps.Codecs {
		err := me.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: toPionCapability(c),
			PayloadType:        webrtc.PayloadType(c.PreferredPayloadType),
		}, codecType(c.Kind))
		if err != nil {
			return nil, fmt.Errorf("register codec %s: %w", c.MimeType, err)
		}
	}
	return me, nil
}

func fromPionICEParameters(p webrtc.ICEParameters) engine.ICEParameters {
	return engine.ICEParameters{
		UsernameFragment: p.UsernameFragment,
		Password:         p.Password,
		ICELite:          p.ICELite,
	}
}

func toPionICEParameters(p engine.ICEParameters) webrtc.ICEParameters {
	return webrtc.ICEParameters{
		UsernameFragment: p.UsernameFragment,
		Password:         p.Password,
		ICELite:          p.ICELite,
	}
}

func fromPionCandidate(c webrtc.ICECandidate) engine.ICECandidate {
	return engine.ICECandidate{
		Foundation: c.Foundation,
		Priority:   c.Priority,
		IP:         c.Address,
		Address:    c.Address,
		Protocol:   c.Protocol.String(),
		Port:       c.Port,
		Type:       c.Typ.String(),
		TCPType:    c.TCPType,
	}
}

// ToPionCandidate converts a candidate handed to clients back into pion's
// form, for clients implemented with pion.
func ToPionCandidate(c engine.ICECandidate) (webrtc.ICECandidate, error) {
	proto, err := webrtc.NewICEProtocol(c.Protocol)
	if err != nil {
		return webrtc.ICECandidate{}, err
	}
	typ, err := webrtc.NewICECandidateType(c.Type)
	if err != nil {
		return webrtc.ICECandidate{}, err
	}
	return webrtc.ICECandidate{
		Foundation: c.Foundation,
		Priority:   c.Priority,
		Address:    c.Address,
		Protocol:   proto,
		Port:       c.Port,
		Typ:        typ,
		Component:  1,
		TCPType:    c.TCPType,
	}, nil
}

func dtlsRoleString(r webrtc.DTLSRole) string {
	switch r {
	case webrtc.DTLSRoleClient:
		return "client"
	case webrtc.DTLSRoleServer:
		return "server"
	default:
		return "auto"
	}
}

func dtlsRole(s string) webrtc.DTLSRole {
	switch s {
	case "client":
		return webrtc.DTLSRoleClient
	case "server":
		return webrtc.DTLSRoleServer
	default:
		return webrtc.DTLSRoleAuto
	}
}

func FromPionDTLSParameters(p webrtc.DTLSParameters) engine.DTLSParameters {
	out := engine.DTLSParameters{Role: dtlsRoleString(p.Role)}
	for _, fp := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, engine.DTLSFingerprint{Algorithm: fp.Algorithm, Value: fp.Value})
	}
	return out
}

func toPionDTLSParameters(p engine.DTLSParameters) webrtc.DTLSParameters {
	out := webrtc.DTLSParameters{Role: dtlsRole(p.Role)}
	for _, fp := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, webrtc.DTLSFingerprint{Algorithm: fp.Algorithm, Value: fp.Value})
	}
	return out
}

func isUnspecified(raw string) bool {
	ip := net.ParseIP(raw)
	return ip == nil || ip.IsUnspecified()
}

// applyListenInfos restricts candidate gathering to the listen IPs and
// rewrites host candidates to the announced IPs.
func applyListenInfos(se *webrtc.SettingEngine, infos []engine.ListenInfo) error {
	if err := engine.ValidateListenInfos(infos); err != nil {
		return err
	}
	var allowed []net.IP
	anyIP := len(infos) == 0
	for _, li := range infos {
		if isUnspecified(li.IP) {
			anyIP = true
			continue
		}
		allowed = append(allowed, net.ParseIP(li.IP))
	}
	if !anyIP {
		se.SetIPFilter(func(ip net.IP) bool {
			for _, a := range allowed {
				if ip.Equal(a) {
					return true
				}
			}
			return false
		})
	}

	var mappings []string
	for _, li := range infos {
		if li.AnnouncedIP == "" {
			continue
		}
		// pion accepts "external/internal" pairs when several local
		// addresses are mapped.
		if len(infos) > 1 && !isUnspecified(li.IP) {
			mappings = append(mappings, li.AnnouncedIP+"/"+li.IP)
		} else {
			mappings = append(mappings, li.AnnouncedIP)
		}
	}
	if len(mappings) > 0 {
		se.SetNAT1To1IPs(mappings, webrtc.ICECandidateTypeHost)
	}
	return nil
}
