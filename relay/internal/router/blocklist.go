package router

import (
	"net/url"
	"strings"
)

// Blocklist refuses origins whose hostname equals, or is a subdomain of, a
// listed entry.
type Blocklist struct {
	hosts []string
}

// NewBlocklist builds a Blocklist. Entries are hostnames such as "acme.com".
func NewBlocklist(hosts []string) *Blocklist {
	b := &Blocklist{}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			b.hosts = append(b.hosts, h)
		}
	}
	return b
}

// Blocked reports whether origin is refused. Origin may be a URL such as
// "https://app.acme.com" or a bare hostname such as "app.acme.com".
func (b *Blocklist) Blocked(origin string) bool {
	if b == nil || len(b.hosts) == 0 {
		return false
	}
	host := hostOf(origin)
	if host == "" {
		return false
	}
	for _, blocked := range b.hosts {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return false
}

// hostOf extracts the lowercased hostname from a URL or a bare host[:port].
func hostOf(origin string) string {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return ""
	}
	host := ""
	if u, err := url.Parse(origin); err == nil {
		host = u.Hostname()
	}
	if host == "" && !strings.Contains(origin, "://") {
		if u, err := url.Parse("//" + origin); err == nil {
			host = u.Hostname()
		}
	}
	return strings.TrimSuffix(strings.ToLower(host), ".")
}
