package stealth

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// NetworkProfile names a CDP network-condition emulation preset.
type NetworkProfile string

const (
	NetworkSlow3G NetworkProfile = "slow_3g"
	NetworkFast3G NetworkProfile = "fast_3g"
	Network4G     NetworkProfile = "4g"
	NetworkWifi   NetworkProfile = "wifi"
	NetworkDSL    NetworkProfile = "dsl"
)

type networkConditions struct {
	latencyMS       float64
	downloadKbps    float64
	uploadKbps      float64
}

// networkPresets ports original_source/tavily_scraper/stealth/advanced.py's
// simulate_network_conditions table (slow_3g/fast_3g/4g) and adds wifi/dsl,
// which the original never implemented, to satisfy SPEC_FULL.md §4.7's
// requirement that all five named profiles exist.
var networkPresets = map[NetworkProfile]networkConditions{
	NetworkSlow3G: {latencyMS: 400, downloadKbps: 400, uploadKbps: 400},
	NetworkFast3G: {latencyMS: 150, downloadKbps: 1600, uploadKbps: 750},
	Network4G:     {latencyMS: 50, downloadKbps: 9000, uploadKbps: 9000},
	NetworkWifi:   {latencyMS: 2, downloadKbps: 30000, uploadKbps: 15000},
	NetworkDSL:    {latencyMS: 25, downloadKbps: 2000, uploadKbps: 1000},
}

// EmulateNetwork applies the named network profile via CDP
// Network.emulateNetworkConditions. An unknown profile falls back to wifi
// (the closest thing to "no throttling") rather than erroring, since
// network emulation is a cosmetic stealth signal, not a correctness
// requirement.
func EmulateNetwork(profile NetworkProfile) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		preset, ok := networkPresets[profile]
		if !ok {
			preset = networkPresets[NetworkWifi]
		}
		return network.EmulateNetworkConditions(
			false,
			preset.latencyMS,
			preset.downloadKbps*1024/8,
			preset.uploadKbps*1024/8,
		).Do(ctx)
	})
}

// ParseNetworkProfile validates a config string against the known presets.
func ParseNetworkProfile(name string) (NetworkProfile, error) {
	p := NetworkProfile(name)
	if _, ok := networkPresets[p]; !ok {
		return "", fmt.Errorf("unknown network profile %q", name)
	}
	return p, nil
}
