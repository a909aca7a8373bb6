package engine

var videoFeedback = []RTCPFeedback{
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "goog-remb"},
}

// DefaultMediaCodecs is the router codec list used when no codec file is
// configured: Opus, VP8, VP9 (profile 2) and H264 (packetization mode 1).
func DefaultMediaCodecs() []RTPCodecCapability {
	return []RTPCodecCapability{
		{
			Kind:      MediaKindAudio,
			MimeType:  "audio/opus",
			ClockRate: 48000,
			Channels:  2,
		},
		{
			Kind:         MediaKindVideo,
			MimeType:     "video/VP8",
			ClockRate:    90000,
			RTCPFeedback: append([]RTCPFeedback(nil), videoFeedback...),
		},
		{
			Kind:         MediaKindVideo,
			MimeType:     "video/VP9",
			ClockRate:    90000,
			Parameters:   map[string]any{"profile-id": 2},
			RTCPFeedback: append([]RTCPFeedback(nil), videoFeedback...),
		},
		{
			Kind:      MediaKindVideo,
			MimeType:  "video/H264",
			ClockRate: 90000,
			Parameters: map[string]any{
				"packetization-mode":      1,
				"profile-level-id":        "4d0032",
				"level-asymmetry-allowed": 1,
			},
			RTCPFeedback: append([]RTCPFeedback(nil), videoFeedback...),
		},
	}
}
