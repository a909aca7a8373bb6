package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/wilsonzlin/aero/proxy/webrtc-media-gateway/internal/engine"
)

// codecFile is the on-disk router codec list. YAML files (.yaml, .yml) are
// decoded with yaml.v3; anything else is read as JSON with comments.
//
//	mediaCodecs:
//	  - kind: audio
//	    mimeType: audio/opus
//	    clockRate: 48000
//	    channels: 2
type codecFile struct {
	MediaCodecs []engine.RTPCodecCapability `json:"mediaCodecs" yaml:"mediaCodecs"`
}

// LoadCodecs reads and validates a router codec list from path.
func LoadCodecs(path string) ([]engine.RTPCodecCapability, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading codecs file: %w", err)
	}
	return parseCodecs(path, data)
}

func parseCodecs(path string, data []byte) ([]engine.RTPCodecCapability, error) {
	var file codecFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parsing codecs file %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
			return nil, fmt.Errorf("parsing codecs file %s: %w", path, err)
		}
	}
	if len(file.MediaCodecs) == 0 {
		return nil, fmt.Errorf("codecs file %s: mediaCodecs is empty", path)
	}
	if _, err := engine.RouterCapabilities(file.MediaCodecs); err != nil {
		return nil, fmt.Errorf("codecs file %s: %w", path, err)
	}
	return file.MediaCodecs, nil
}
