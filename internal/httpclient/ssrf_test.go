package httpclient

import "testing"

func TestCheckSSRFRejectsLoopback(t *testing.T) {
	cases := []string{
		"http://127.0.0.1/",
		"http://localhost/",
		"http://10.0.0.5/",
		"http://169.254.1.1/",
		"http://internal-service.local/",
		"http://payroll.internal/",
		"ftp://example.com/",
	}
	for _, c := range cases {
		if err := CheckSSRF(c); err == nil {
			t.Errorf("expected %q to be rejected", c)
		}
	}
}

func TestCheckSSRFAllowsPublicHTTPS(t *testing.T) {
	if err := CheckSSRF("https://api.anthropic.com/v1/messages"); err != nil {
		t.Fatalf("expected public host allowed, got %v", err)
	}
}
