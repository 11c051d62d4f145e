package discovery

import (
	"context"
	"testing"
	"time"
)

func TestAdvertiseAndBrowse(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping mDNS round-trip in short mode")
	}

	adv, err := Advertise("cloudvault-test", "dev", 54321)
	if err != nil {
		t.Fatalf("advertise failed: %v", err)
	}
	defer adv.Close()

	// Give the responder a moment to announce
	time.Sleep(200 * time.Millisecond)

	services, err := Browse(context.Background(), 1*time.Second)
	if err != nil {
		t.Fatalf("browse failed: %v", err)
	}

	found := false
	for _, svc := range services {
		if svc.Name == "cloudvault-test" {
			found = true
			if svc.Port != 54321 {
				t.Fatalf("expected port 54321, got %d", svc.Port)
			}
			if svc.Addr() == "" {
				t.Fatalf("expected dial address to be set")
			}
			break
		}
	}
	if !found {
		t.Fatalf("expected to find advertised service")
	}
}

func TestAdvertiseRequiresInstance(t *testing.T) {
	if _, err := Advertise("", "dev", 9000); err == nil {
		t.Fatalf("expected error for empty instance name")
	}
}
