package endpoint_test

import (
	"net/netip"
	"testing"

	"github.com/xraph/courier/endpoint"
)

func TestCheckAddr(t *testing.T) {
	blocked := []string{"127.0.0.1", "10.0.0.5", "172.16.3.4", "192.168.1.1", "169.254.169.254", "100.64.0.1", "0.0.0.0", "::1", "fe80::1", "fc00::1", "::ffff:10.0.0.1"}
	for _, s := range blocked {
		if endpoint.CheckAddr(netip.MustParseAddr(s)) == nil {
			t.Errorf("%s should be blocked", s)
		}
	}
	for _, s := range []string{"93.184.216.34", "2606:2800:220:1::1"} {
		if err := endpoint.CheckAddr(netip.MustParseAddr(s)); err != nil {
			t.Errorf("%s should pass: %v", s, err)
		}
	}
}

func TestIsLocalName(t *testing.T) {
	for host, want := range map[string]bool{
		"localhost":         true,
		"LOCALHOST.":        true,
		"api.localhost":     true,
		"example.com":       false,
		"localhost.example": false,
	} {
		if got := endpoint.IsLocalName(host); got != want {
			t.Errorf("IsLocalName(%q) = %v, want %v", host, got, want)
		}
	}
}
