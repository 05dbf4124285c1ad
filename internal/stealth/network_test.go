package stealth

import "testing"

func TestParseNetworkProfileKnownNames(t *testing.T) {
	for _, name := range []string{"slow_3g", "fast_3g", "4g", "wifi", "dsl"} {
		if _, err := ParseNetworkProfile(name); err != nil {
			t.Fatalf("expected %q to be a known profile: %v", name, err)
		}
	}
}

func TestParseNetworkProfileUnknown(t *testing.T) {
	if _, err := ParseNetworkProfile("satellite"); err == nil {
		t.Fatal("expected an error for an unknown profile name")
	}
}
