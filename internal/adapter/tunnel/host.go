package tunnel

import (
	"net"
	"strings"
)

// parseTunnelHost splits an inbound request's Host header into the
// requested service name and workspace subdomain, given the platform's
// base domain. A host of the form "<service>--<subdomain>.<baseDomain>"
// selects a named service; a bare "<subdomain>.<baseDomain>" selects the
// default (empty-string) service. ok is false if host doesn't belong to
// baseDomain at all.
func parseTunnelHost(host, baseDomain string) (serviceName, subdomain string, ok bool) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	label := strings.TrimSuffix(host, "."+baseDomain)
	if label == host {
		return "", "", false
	}
	if i := strings.Index(label, "--"); i >= 0 {
		return label[:i], label[i+2:], true
	}
	return "", label, true
}
