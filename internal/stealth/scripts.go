package stealth

import (
	"embed"
	"strconv"
	"strings"

	"github.com/chernistry/tavily/internal/config"
	"github.com/chernistry/tavily/internal/model"
)

// scriptAssets embeds the init-script JS sources, adapted from
// original_source/tavily_scraper/stealth/asset_loader.py's importlib.resources loader to
// Go's //go:embed — same externalized-asset idea, read once at init instead
// of lazily cached per filename.
//
//go:embed scripts/*.js
var scriptAssets embed.FS

func mustLoadScript(name string) string {
	data, err := scriptAssets.ReadFile("scripts/" + name)
	if err != nil {
		panic("stealth: missing embedded script " + name + ": " + err.Error())
	}
	return string(data)
}

var (
	coreAutomationScript  = mustLoadScript("core_automation.js")
	navigatorPatchScript  = mustLoadScript("navigator_patch.js")
	permissionsPatchScript = mustLoadScript("permissions_patch.js")
	fingerprintCanvasScript = mustLoadScript("fingerprint_canvas.js")
	fingerprintWebGLScript  = mustLoadScript("fingerprint_webgl.js")
	fingerprintAudioScript  = mustLoadScript("fingerprint_audio.js")
	webrtcMaskScript        = mustLoadScript("webrtc_mask.js")
)

// InitScripts returns the ordered list of init scripts to inject into a new
// browser context before navigation, with this session's placeholders
// substituted, gated by the individual StealthConfig flags (SPEC_FULL.md
// §4.7). Order matters: core automation removal first, then navigator
// patches, then the fingerprint evasions.
func InitScripts(cfg config.StealthConfig, profile model.DeviceProfile, sessionSeed int64) []string {
	if !cfg.Enabled {
		return nil
	}

	var scripts []string
	if cfg.SpoofWebdriver {
		scripts = append(scripts, coreAutomationScript)
		scripts = append(scripts, substitute(navigatorPatchScript, map[string]string{
			"__PLATFORM__": profile.Platform,
		}))
		scripts = append(scripts, permissionsPatchScript)
	}
	if cfg.FingerprintEvasions {
		seed := strconv.FormatInt(sessionSeed, 10)
		scripts = append(scripts, substitute(fingerprintCanvasScript, map[string]string{
			"__SESSION_SEED__": seed,
		}))
		scripts = append(scripts, substitute(fingerprintWebGLScript, map[string]string{
			"__WEBGL_VENDOR__":   profile.WebGLVendor,
			"__WEBGL_RENDERER__": profile.WebGLRenderer,
		}))
		scripts = append(scripts, substitute(fingerprintAudioScript, map[string]string{
			"__SESSION_SEED__": seed,
		}))
	}
	if cfg.MaskWebRTC {
		scripts = append(scripts, webrtcMaskScript)
	}
	return scripts
}

func substitute(script string, vars map[string]string) string {
	for placeholder, value := range vars {
		script = strings.ReplaceAll(script, placeholder, value)
	}
	return script
}
