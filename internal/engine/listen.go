package engine

import (
	"fmt"
	"net"
)

// ValidateListenInfos checks that infos describe one consistent set of
// announced addresses. An announced IP on an unspecified listen IP stands in
// for every local address of its family, so it must be the only announced IP
// of that family.
func ValidateListenInfos(infos []ListenInfo) error {
	type family struct {
		announced int
		wildcard  string
	}
	var v4, v6 family
	mapped := make(map[string]bool)

	for _, li := range infos {
		ip := net.ParseIP(li.IP)
		if ip == nil {
			return fmt.Errorf("invalid listen ip %q", li.IP)
		}
		if li.AnnouncedIP == "" {
			continue
		}
		aip := net.ParseIP(li.AnnouncedIP)
		if aip == nil {
			return fmt.Errorf("invalid announced ip %q", li.AnnouncedIP)
		}
		isV4 := aip.To4() != nil
		if !ip.IsUnspecified() {
			if (ip.To4() != nil) != isV4 {
				return fmt.Errorf("announced ip %s and listen ip %s are different address families", li.AnnouncedIP, li.IP)
			}
			if mapped[ip.String()] {
				return fmt.Errorf("listen ip %s has more than one announced ip", li.IP)
			}
			mapped[ip.String()] = true
		}

		fam := &v6
		if isV4 {
			fam = &v4
		}
		fam.announced++
		if ip.IsUnspecified() && fam.wildcard == "" {
			fam.wildcard = li.AnnouncedIP
		}
		if fam.wildcard != "" && fam.announced > 1 {
			return fmt.Errorf("announced ip %s on an unspecified listen ip cannot be combined with other announced ips of its family", fam.wildcard)
		}
	}
	return nil
}
