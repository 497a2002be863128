package a2a

import (
	"errors"
	"testing"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		host    string
		port    string
		token   string
		wantErr bool
	}{
		{"plain host", "a2a://agent.example.com/fed_abc", "agent.example.com", "", "fed_abc", false},
		{"host with port", "a2a://agent.example.com:8010/fed_abc", "agent.example.com", "8010", "fed_abc", false},
		{"ipv6 literal", "a2a://[::1]:8010/fed_abc", "::1", "8010", "fed_abc", false},
		{"wrong scheme", "https://agent.example.com/fed_abc", "", "", "", true},
		{"missing host", "a2a:///fed_abc", "", "", "", true},
		{"missing token", "a2a://agent.example.com", "", "", "", true},
		{"extra path segment", "a2a://agent.example.com/fed_abc/extra", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, err := ParseEndpoint(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidEndpoint) {
					t.Fatalf("ParseEndpoint(%q) error = %v, want ErrInvalidEndpoint", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEndpoint(%q) error = %v", tt.raw, err)
			}
			if ep.Host != tt.host || ep.Port != tt.port || ep.Token != tt.token {
				t.Errorf("ParseEndpoint(%q) = %+v", tt.raw, ep)
			}
		})
	}
}

func TestEndpoint_BaseURL_TransportRules(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"public host uses https", "a2a://agent.example.com/fed_x", "https://agent.example.com"},
		{"localhost uses http", "a2a://localhost:8010/fed_x", "http://localhost:8010"},
		{"loopback ip uses http", "a2a://127.0.0.1:9000/fed_x", "http://127.0.0.1:9000"},
		{"dot-local uses http", "a2a://mybox.local/fed_x", "http://mybox.local"},
		{"explicit port 80 uses http", "a2a://agent.example.com:80/fed_x", "http://agent.example.com:80"},
		{"explicit non-443 port uses http", "a2a://agent.example.com:8443/fed_x", "http://agent.example.com:8443"},
		{"explicit 443 stays https", "a2a://agent.example.com:443/fed_x", "https://agent.example.com:443"},
		{"ipv6 loopback bracketed", "a2a://[::1]:8010/fed_x", "http://[::1]:8010"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, err := ParseEndpoint(tt.raw)
			if err != nil {
				t.Fatalf("ParseEndpoint(%q) error = %v", tt.raw, err)
			}
			if got := ep.BaseURL(); got != tt.want {
				t.Errorf("BaseURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInviteURI_RoundTrips(t *testing.T) {
	uri := InviteURI("agent.example.com:8010", "fed_secret")
	if uri != "a2a://agent.example.com:8010/fed_secret" {
		t.Fatalf("InviteURI() = %q", uri)
	}
	ep, err := ParseEndpoint(uri)
	if err != nil {
		t.Fatalf("ParseEndpoint() error = %v", err)
	}
	if ep.Token != "fed_secret" || ep.Port != "8010" {
		t.Errorf("round trip = %+v", ep)
	}

	bare := InviteURI("agent.example.com", "fed_secret")
	if bare != "a2a://agent.example.com/fed_secret" {
		t.Errorf("InviteURI() without port = %q", bare)
	}
}
