package transport

import "testing"

func TestHostAddresses(t *testing.T) {
	addrs, err := HostAddresses()
	if err != nil {
		t.Fatalf("enumeration failed: %v", err)
	}
	for _, addr := range addrs {
		if !addr.IsValid() {
			t.Errorf("invalid address %v in enumeration", addr)
		}
		if addr.Is4In6() {
			t.Errorf("address %v not unmapped", addr)
		}
	}
}
