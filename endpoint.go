package a2a

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Endpoint is a parsed a2a:// invite URI. The wire format is
//
//	a2a://host[:port]/fed_<opaque>
//
// where the path component carries the bearer token for the peer.
type Endpoint struct {
	Host  string
	Port  string // empty when the URI carries no explicit port
	Token string
}

// ParseEndpoint parses an a2a:// invite URI.
func ParseEndpoint(raw string) (*Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if u.Scheme != "a2a" {
		return nil, fmt.Errorf("%w: scheme must be a2a, got %q", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	token := strings.TrimPrefix(u.Path, "/")
	if token == "" {
		return nil, fmt.Errorf("%w: missing token path segment", ErrInvalidEndpoint)
	}
	if strings.Contains(token, "/") {
		return nil, fmt.Errorf("%w: token path must be a single segment", ErrInvalidEndpoint)
	}
	return &Endpoint{Host: u.Hostname(), Port: u.Port(), Token: token}, nil
}

// useHTTP reports whether the endpoint should be called over plain HTTP.
// Loopback and .local hosts are plain HTTP, as is any explicit port other
// than 443. Everything else goes over HTTPS.
func (e *Endpoint) useHTTP() bool {
	host := strings.ToLower(e.Host)
	if host == "localhost" || strings.HasSuffix(host, ".local") {
		return true
	}
	if ip := net.ParseIP(e.Host); ip != nil && ip.IsLoopback() {
		return true
	}
	return e.Port != "" && e.Port != "443"
}

// BaseURL returns the http(s) origin for the endpoint, bracketing IPv6
// literals in the authority.
func (e *Endpoint) BaseURL() string {
	scheme := "https"
	if e.useHTTP() {
		scheme = "http"
	}
	host := e.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if e.Port != "" {
		return fmt.Sprintf("%s://%s:%s", scheme, host, e.Port)
	}
	return fmt.Sprintf("%s://%s", scheme, host)
}

// String reassembles the a2a:// invite URI.
func (e *Endpoint) String() string {
	host := e.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if e.Port != "" {
		return fmt.Sprintf("a2a://%s:%s/%s", host, e.Port, e.Token)
	}
	return fmt.Sprintf("a2a://%s/%s", host, e.Token)
}

// InviteURI builds the portable invite URI for a wire token issued by this
// node. Host may include a port.
func InviteURI(host, wireToken string) string {
	h, p, err := net.SplitHostPort(host)
	if err != nil {
		return (&Endpoint{Host: host, Token: wireToken}).String()
	}
	return (&Endpoint{Host: h, Port: p, Token: wireToken}).String()
}
