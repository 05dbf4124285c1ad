// Package classifier pattern-matches an HTTP response or rendered page into
// a typed CAPTCHA/block verdict, shared by the HTTP and browser fetchers.
//
// Grounded on original_source/tavily_scraper/utils/captcha.py's detect_captcha_http: rule
// order and confidence values are kept, reimplemented as Go control flow.
package classifier

import (
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Vendor identifies which widget or heuristic flagged a page.
type Vendor string

const (
	VendorRecaptcha       Vendor = "recaptcha"
	VendorHCaptcha         Vendor = "hcaptcha"
	VendorTurnstile        Vendor = "turnstile"
	VendorCloudflareBlock  Vendor = "cloudflare_block"
	VendorGenericBlock     Vendor = "generic_block"
	VendorUnknown          Vendor = "unknown"
)

// Detection is the classifier's verdict.
type Detection struct {
	Present    bool
	Vendor     Vendor
	Confidence float64
	Reason     string
}

const maxBodyScanBytes = 200_000

var genericPhrases = []string{
	"please verify you are a human",
	"are you a robot",
	"access has been denied",
	"automation tools to browse the website",
}

// Detect runs the classifier over one HTTP response body, mirroring
// detect_captcha_http(status_code, url, headers, body).
func Detect(statusCode int, finalURL string, headers http.Header, body string) Detection {
	if body == "" {
		return Detection{}
	}
	scan := body
	if len(scan) > maxBodyScanBytes {
		scan = scan[:maxBodyScanBytes]
	}
	bodyLC := strings.ToLower(scan)
	urlLC := strings.ToLower(finalURL)

	var (
		vendor     Vendor
		confidence float64
		reasons    []string
	)

	if strings.Contains(urlLC, "captcha") || strings.Contains(urlLC, "challenge") ||
		strings.Contains(urlLC, "robot") || strings.Contains(urlLC, "verify-human") ||
		strings.Contains(urlLC, "challenges.cloudflare.com") {
		confidence = maxFloat(confidence, 0.6)
		reasons = append(reasons, "url pattern")
	}

	server := strings.ToLower(headers.Get("Server"))
	cfRay := headers.Get("Cf-Ray")
	if (strings.Contains(server, "cloudflare") || cfRay != "") &&
		(statusCode == 403 || statusCode == 503) {
		confidence = maxFloat(confidence, 0.7)
		reasons = append(reasons, "cloudflare headers")
	}

	switch {
	case strings.Contains(bodyLC, "g-recaptcha") || strings.Contains(bodyLC, "recaptcha/api.js"):
		vendor = VendorRecaptcha
		confidence = maxFloat(confidence, 0.95)
		reasons = append(reasons, "recaptcha widget")
	case strings.Contains(bodyLC, "h-captcha") || strings.Contains(bodyLC, "hcaptcha.com/1/api.js"):
		vendor = VendorHCaptcha
		confidence = maxFloat(confidence, 0.95)
		reasons = append(reasons, "hcaptcha widget")
	case strings.Contains(bodyLC, "cf-turnstile") || strings.Contains(bodyLC, "cf-turnstile-response") ||
		strings.Contains(bodyLC, "challenges.cloudflare.com/turnstile"):
		vendor = VendorTurnstile
		confidence = maxFloat(confidence, 0.95)
		reasons = append(reasons, "turnstile widget")
	}

	if strings.Contains(bodyLC, "checking your browser before accessing") {
		if vendor == "" {
			vendor = VendorCloudflareBlock
		}
		confidence = maxFloat(confidence, 0.9)
		reasons = append(reasons, "cloudflare interstitial phrase")
	}

	genericHits := 0
	for _, phrase := range genericPhrases {
		if strings.Contains(bodyLC, phrase) {
			genericHits++
		}
	}
	if genericHits >= 2 && (statusCode == 403 || statusCode == 429 || statusCode == 503) {
		if vendor == "" {
			vendor = VendorGenericBlock
		}
		confidence = maxFloat(confidence, 0.8)
		reasons = append(reasons, "generic block phrases")
	}

	if vendor == "" {
		return Detection{Present: false, Confidence: confidence}
	}
	return Detection{
		Present:    true,
		Vendor:     vendor,
		Confidence: confidence,
		Reason:     strings.Join(reasons, "; "),
	}
}

// HasVendorNode is a DOM-aware companion to Detect, used at the browser-stage
// call site where a parsed document is already available. It looks for the
// same vendor widget selectors as an extra confirmation signal.
func HasVendorNode(doc *goquery.Document) (Vendor, bool) {
	if doc == nil {
		return "", false
	}
	if doc.Find(".g-recaptcha, iframe[src*='recaptcha']").Length() > 0 {
		return VendorRecaptcha, true
	}
	if doc.Find(".h-captcha, iframe[src*='hcaptcha']").Length() > 0 {
		return VendorHCaptcha, true
	}
	if doc.Find(".cf-turnstile, [data-sitekey][class*='turnstile']").Length() > 0 {
		return VendorTurnstile, true
	}
	return "", false
}

// LooksLikeJSRequired reports whether the body contains one of the common
// "enable JavaScript" markers original_source/tavily_scraper/pipelines/fast_http_fetcher.py's
// looks_incomplete_http checks for.
func LooksLikeJSRequired(body string) bool {
	lc := strings.ToLower(body)
	return strings.Contains(lc, "enable javascript") || strings.Contains(lc, "please turn on javascript")
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
