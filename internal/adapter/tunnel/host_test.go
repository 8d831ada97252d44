package tunnel

import "testing"

func TestParseTunnelHost(t *testing.T) {
	cases := []struct {
		host        string
		baseDomain  string
		wantService string
		wantSub     string
		wantOK      bool
	}{
		{"mysub.example.com", "example.com", "", "mysub", true},
		{"api--mysub.example.com", "example.com", "api", "mysub", true},
		{"mysub.example.com:8443", "example.com", "", "mysub", true},
		{"mysub.other.com", "example.com", "", "", false},
		{"example.com", "example.com", "", "", false},
	}

	for _, c := range cases {
		service, sub, ok := parseTunnelHost(c.host, c.baseDomain)
		if ok != c.wantOK {
			t.Errorf("parseTunnelHost(%q, %q) ok = %v, want %v", c.host, c.baseDomain, ok, c.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if service != c.wantService || sub != c.wantSub {
			t.Errorf("parseTunnelHost(%q, %q) = (%q, %q), want (%q, %q)", c.host, c.baseDomain, service, sub, c.wantService, c.wantSub)
		}
	}
}
