package business

import "testing"

func TestIdentityStable(t *testing.T) {
	a := WithBid("log/detail", "B1")
	b := WithBid("log/detail", "B1")
	if a.Identity() != b.Identity() {
		t.Fatalf("expected equal identities, got %q and %q", a.Identity(), b.Identity())
	}
	if a.Identity() != "log/detail|B1" {
		t.Fatalf("unexpected identity: %q", a.Identity())
	}
}

func TestIdentityNilBid(t *testing.T) {
	a := New("layout_device/status")
	if a.Identity() != "layout_device/status|" {
		t.Fatalf("unexpected identity for nil bid: %q", a.Identity())
	}
	if a.HasBid() {
		t.Fatalf("expected HasBid to be false")
	}
}

func TestIdentityDistinguishesBid(t *testing.T) {
	a := WithBid("log/detail", "B1")
	b := WithBid("log/detail", "B2")
	if a.Identity() == b.Identity() {
		t.Fatalf("expected distinct identities for distinct bids")
	}
}
