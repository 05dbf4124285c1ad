// Package stealth implements the device-profile, init-script, behavior, and
// network emulation layer used by the browser fetcher, plus the session
// store that persists storage state across runs.
//
// Grounded on original_source/tavily_scraper/stealth/device_profiles.py's three-profile
// desktop pool (_DESKTOP_PROFILES, _choose_profile, build_context_options),
// extended with model.DeviceProfile's spec-required fields
// (WebGLVendor/WebGLRenderer/Platform/Region) so every profile stays
// internally consistent: a macOS user agent never pairs with a Windows
// platform string or a SwiftShader renderer.
package stealth

import (
	"math/rand"
	"strings"

	"github.com/chernistry/tavily/internal/config"
	"github.com/chernistry/tavily/internal/model"
)

var desktopProfiles = []model.DeviceProfile{
	{
		Name: "desktop_chrome_win10_us",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
			"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		Locale:         "en-US",
		TimezoneID:     "America/New_York",
		WebGLVendor:    "Google Inc. (NVIDIA)",
		WebGLRenderer:  "ANGLE (NVIDIA, NVIDIA GeForce RTX 3060 Direct3D11 vs_5_0 ps_5_0, D3D11)",
		Platform:       "Win32",
		Region:         "us-east",
	},
	{
		Name: "desktop_chrome_mac",
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 " +
			"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		ViewportWidth:  1440,
		ViewportHeight: 900,
		Locale:         "en-US",
		TimezoneID:     "America/Los_Angeles",
		WebGLVendor:    "Apple Inc.",
		WebGLRenderer:  "Apple M2",
		Platform:       "MacIntel",
		Region:         "us-west",
	},
	{
		Name: "desktop_firefox_win10",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) " +
			"Gecko/20100101 Firefox/125.0",
		ViewportWidth:  1366,
		ViewportHeight: 768,
		Locale:         "en-US",
		TimezoneID:     "Europe/Berlin",
		WebGLVendor:    "Google Inc. (Intel)",
		WebGLRenderer:  "ANGLE (Intel, Intel(R) UHD Graphics 630 Direct3D11 vs_5_0 ps_5_0, D3D11)",
		Platform:       "Win32",
		Region:         "eu-central",
	},
	{
		Name: "desktop_chrome_linux",
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
			"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		ViewportWidth:  1600,
		ViewportHeight: 900,
		Locale:         "en-GB",
		TimezoneID:     "Europe/London",
		WebGLVendor:    "Mesa/X.org",
		WebGLRenderer:  "llvmpipe (LLVM 15.0.6, 256 bits)",
		Platform:       "Linux x86_64",
		Region:         "eu-west",
	},
}

// ChooseProfile picks a random desktop profile, mirroring
// device_profiles.py's _choose_profile. Desktop-biased, per the original's
// comment that it matches most scraping workloads; mobile profiles are a
// possible future addition but no spec component names one.
func ChooseProfile() model.DeviceProfile {
	return desktopProfiles[rand.Intn(len(desktopProfiles))]
}

// ApplyJitter perturbs a profile's viewport by up to ±40px in moderate and
// aggressive modes, grounded on build_context_options's viewport jitter.
// Minimal mode and a disabled ViewportJitter flag leave the profile as-is.
func ApplyJitter(profile model.DeviceProfile, cfg config.StealthConfig) model.DeviceProfile {
	if !cfg.ViewportJitter || cfg.Mode == "minimal" {
		return profile
	}
	profile.ViewportWidth = jitterDimension(profile.ViewportWidth, 800)
	profile.ViewportHeight = jitterDimension(profile.ViewportHeight, 600)
	return profile
}

func jitterDimension(base, floor int) int {
	delta := rand.Intn(81) - 40 // [-40, 40]
	v := base + delta
	if v < floor {
		return floor
	}
	return v
}

// Geolocation is a coarse, plausible lat/long/accuracy triple.
type Geolocation struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

var geoPool = []Geolocation{
	{Latitude: 40.7128, Longitude: -74.0060},  // New York
	{Latitude: 34.0522, Longitude: -118.2437}, // Los Angeles
	{Latitude: 52.5200, Longitude: 13.4050},   // Berlin
	{Latitude: 37.7749, Longitude: -122.4194}, // San Francisco
}

// RandomGeolocation returns a jittered geolocation from a small plausible
// pool, grounded on build_context_options's geo_pool.
func RandomGeolocation() Geolocation {
	base := geoPool[rand.Intn(len(geoPool))]
	return Geolocation{
		Latitude:  base.Latitude + (rand.Float64()*0.04 - 0.02),
		Longitude: base.Longitude + (rand.Float64()*0.04 - 0.02),
		Accuracy:  20 + rand.Float64()*100,
	}
}

// MatchesRegion reports whether profile.Region equals target, used by the
// browser fetcher to honor StealthConfig.TargetRegion when one is set.
func MatchesRegion(profile model.DeviceProfile, target string) bool {
	target = strings.TrimSpace(target)
	if target == "" {
		return true
	}
	return strings.EqualFold(profile.Region, target)
}

// ChooseProfileForRegion repeatedly samples ChooseProfile until one matches
// target, falling back to an unconstrained pick after a bounded number of
// attempts so an unknown target never hangs the caller.
func ChooseProfileForRegion(target string) model.DeviceProfile {
	for attempt := 0; attempt < 8; attempt++ {
		p := ChooseProfile()
		if MatchesRegion(p, target) {
			return p
		}
	}
	return ChooseProfile()
}
