package branding

import "testing"

func TestAppName(t *testing.T) {
	if AppName == "" {
		t.Fatal("expected AppName to be non-empty")
	}
	if AppName != "Crossfire" {
		t.Fatalf("AppName = %q, want %q", AppName, "Crossfire")
	}
}
