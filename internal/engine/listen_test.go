package engine

import "testing"

func TestValidateListenInfos(t *testing.T) {
	cases := []struct {
		name  string
		infos []ListenInfo
		ok    bool
	}{
		{"empty", nil, true},
		{"wildcard announced", []ListenInfo{{IP: "0.0.0.0", AnnouncedIP: "203.0.113.1"}}, true},
		{"wildcard announced plus plain extra", []ListenInfo{
			{IP: "0.0.0.0", AnnouncedIP: "203.0.113.1"},
			{IP: "10.0.0.2"},
		}, true},
		{"specific pairs", []ListenInfo{
			{IP: "10.0.0.1", AnnouncedIP: "203.0.113.1"},
			{IP: "10.0.0.2", AnnouncedIP: "203.0.113.2"},
		}, true},
		{"wildcard per family", []ListenInfo{
			{IP: "0.0.0.0", AnnouncedIP: "203.0.113.1"},
			{IP: "fd00::1", AnnouncedIP: "2001:db8::1"},
		}, true},
		{"wildcard mixed with pair", []ListenInfo{
			{IP: "0.0.0.0", AnnouncedIP: "203.0.113.1"},
			{IP: "10.0.0.2", AnnouncedIP: "203.0.113.2"},
		}, false},
		{"pair before wildcard", []ListenInfo{
			{IP: "10.0.0.2", AnnouncedIP: "203.0.113.2"},
			{IP: "0.0.0.0", AnnouncedIP: "203.0.113.1"},
		}, false},
		{"two wildcards", []ListenInfo{
			{IP: "0.0.0.0", AnnouncedIP: "203.0.113.1"},
			{IP: "::", AnnouncedIP: "203.0.113.2"},
		}, false},
		{"family mismatch", []ListenInfo{{IP: "10.0.0.1", AnnouncedIP: "2001:db8::1"}}, false},
		{"duplicate listen ip", []ListenInfo{
			{IP: "10.0.0.1", AnnouncedIP: "203.0.113.1"},
			{IP: "10.0.0.1", AnnouncedIP: "203.0.113.2"},
		}, false},
		{"bad listen ip", []ListenInfo{{IP: "nope"}}, false},
		{"bad announced ip", []ListenInfo{{IP: "0.0.0.0", AnnouncedIP: "nope"}}, false},
	}
	for _, tc := range cases {
		err := ValidateListenInfos(tc.infos)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
