package classifier

import (
	"net/http"
	"testing"
)

func TestDetectNoSignal(t *testing.T) {
	d := Detect(200, "https://example.com", http.Header{}, "<html><body>hello</body></html>")
	if d.Present {
		t.Fatalf("expected no detection, got %+v", d)
	}
}

func TestDetectRecaptchaWidget(t *testing.T) {
	body := `<html><body><div class="g-recaptcha" data-sitekey="x"></div></body></html>`
	d := Detect(200, "https://example.com", http.Header{}, body)
	if !d.Present || d.Vendor != VendorRecaptcha {
		t.Fatalf("expected recaptcha detection, got %+v", d)
	}
	if d.Confidence != 0.95 {
		t.Errorf("confidence = %v, want 0.95", d.Confidence)
	}
}

func TestDetectHCaptchaScript(t *testing.T) {
	body := `<script src="https://hcaptcha.com/1/api.js"></script>`
	d := Detect(200, "https://example.com", http.Header{}, body)
	if !d.Present || d.Vendor != VendorHCaptcha {
		t.Fatalf("expected hcaptcha detection, got %+v", d)
	}
}

func TestDetectGenericBlockRequiresTwoHitsAndStatus(t *testing.T) {
	single := "are you a robot"
	d := Detect(403, "https://example.com", http.Header{}, single)
	if d.Present {
		t.Fatalf("single generic phrase should not flag present, got %+v", d)
	}

	both := "are you a robot. please verify you are a human."
	d = Detect(403, "https://example.com", http.Header{}, both)
	if !d.Present || d.Vendor != VendorGenericBlock {
		t.Fatalf("two generic phrases + blocking status should flag present, got %+v", d)
	}
}

func TestDetectGenericBlockIgnoresWithSuccessStatus(t *testing.T) {
	both := "are you a robot. please verify you are a human."
	d := Detect(200, "https://example.com", http.Header{}, both)
	if d.Present {
		t.Fatalf("generic phrases under 2xx should not flag present, got %+v", d)
	}
}

func TestDetectCloudflareInterstitial(t *testing.T) {
	body := "Checking your browser before accessing example.com"
	d := Detect(503, "https://example.com", http.Header{}, body)
	if !d.Present || d.Vendor != VendorCloudflareBlock {
		t.Fatalf("expected cloudflare_block detection, got %+v", d)
	}
}

func TestLooksLikeJSRequired(t *testing.T) {
	if !LooksLikeJSRequired("Please enable JavaScript to continue") {
		t.Error("expected true")
	}
	if LooksLikeJSRequired("normal content") {
		t.Error("expected false")
	}
}
