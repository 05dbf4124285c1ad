// Package browser implements the headless-Chrome fallback fetch stage
// (SPEC_FULL.md §4.5): a device-profile-driven chromedp session with stealth
// init-script injection, resource-type request blocking, a bounded
// navigation timeout distinct from the HTTP stage's, and periodic browser
// handle recycling.
//
// Grounded on the teacher's (now generalized) internal/fetcher/render.go
// (ChromedpRenderer: NewExecAllocator flags, semaphore-bounded sessions,
// waitForDocumentReady polling) and
// original_source/tavily_scraper/pipelines/browser_fetcher.py (create_page_with_blocking's
// route-blocking shape, fetch_one's navigation/CAPTCHA/retry control flow).
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/chernistry/tavily/internal/classifier"
	"github.com/chernistry/tavily/internal/config"
	"github.com/chernistry/tavily/internal/model"
	"github.com/chernistry/tavily/internal/robots"
	"github.com/chernistry/tavily/internal/scheduler"
	"github.com/chernistry/tavily/internal/stealth"
)

const maxBrowserRetries = 1

// resourceTypeNames maps BrowserConfig.BlockResourceTypes entries to the CDP
// Network.ResourceType values the fetch.RequestPaused event reports,
// grounded on original_source/tavily_scraper/pipelines/browser_fetcher.py's route_handler
// extension-based blocklist, reimplemented against chromedp's fetch domain
// instead of Playwright's route API.
var resourceTypeNames = map[string]string{
	"image":      "Image",
	"font":       "Font",
	"media":      "Media",
	"stylesheet": "Stylesheet",
}

// ChromeFetcher runs the headless-browser fallback stage.
type ChromeFetcher struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc

	robotsCache *robots.Cache
	scheduler   *scheduler.Scheduler

	navTimeout   time.Duration
	maxBodyBytes int64
	recycleAfter int
	blockedTypes map[string]bool
	stealthCfg   config.StealthConfig

	mu            sync.Mutex
	contextsUsed  int
	browserCtx    context.Context
	browserCancel context.CancelFunc

	logger *slog.Logger
}

// NewChromeFetcher prepares the shared chromedp allocator. chromedp lazily
// starts the underlying Chrome process on first use and keeps it running
// until RecycleAfterPages tabs have been created from it.
func NewChromeFetcher(cfg config.BrowserConfig, stealthCfg config.StealthConfig, robotsCache *robots.Cache, sched *scheduler.Scheduler) (*ChromeFetcher, error) {
	navTimeout := time.Duration(cfg.NavTimeoutSeconds) * time.Second
	if navTimeout <= 0 {
		navTimeout = 30 * time.Second
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 2 * 1024 * 1024
	}
	recycleAfter := cfg.RecycleAfterPages
	if recycleAfter <= 0 {
		recycleAfter = 50
	}

	blocked := make(map[string]bool, len(cfg.BlockResourceTypes))
	for _, t := range cfg.BlockResourceTypes {
		if name, ok := resourceTypeNames[strings.ToLower(t)]; ok {
			blocked[name] = true
		}
	}

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &ChromeFetcher{
		allocCtx:     allocCtx,
		allocCancel:  allocCancel,
		robotsCache:  robotsCache,
		scheduler:    sched,
		navTimeout:   navTimeout,
		maxBodyBytes: maxBody,
		recycleAfter: recycleAfter,
		blockedTypes: blocked,
		stealthCfg:   stealthCfg,
		logger:       slog.Default(),
	}, nil
}

// Close releases the shared browser allocator and any live browser context.
func (f *ChromeFetcher) Close() {
	f.mu.Lock()
	if f.browserCancel != nil {
		f.browserCancel()
	}
	f.mu.Unlock()
	f.allocCancel()
}

// browserContext returns a live chromedp browser context, recycling it once
// RecycleAfterPages tabs have been created from it (SPEC_FULL.md §4.5).
func (f *ChromeFetcher) browserContext() (context.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browserCtx != nil && f.contextsUsed < f.recycleAfter {
		f.contextsUsed++
		return f.browserCtx, nil
	}
	if f.browserCancel != nil {
		f.browserCancel()
	}

	ctx, cancel := chromedp.NewContext(f.allocCtx)
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	f.browserCtx = ctx
	f.browserCancel = cancel
	f.contextsUsed = 1
	return ctx, nil
}

// Fetch navigates to job.URL in a fresh tab and returns a typed
// model.FetchRecord, mirroring fetch_one's robots check, scheduler
// acquire/release, navigation, CAPTCHA detection, and single-retry-on-
// timeout control flow.
func (f *ChromeFetcher) Fetch(ctx context.Context, job model.URLJob) model.FetchRecord {
	rec := model.NewRecord(job, model.MethodBrowser, model.StageFallback)

	target, err := url.Parse(job.URL)
	if err != nil || !target.IsAbs() || target.Host == "" {
		rec.Status = model.StatusInvalidURL
		rec.FinishedAt = time.Now().UTC()
		return rec
	}
	rec.Host = target.Host

	if f.robotsCache != nil && !f.robotsCache.Allowed(ctx, target) {
		rec.Status = model.StatusRobotsBlocked
		rec.RobotsDisallowed = true
		rec.BlockType = model.BlockRobots
		rec.FinishedAt = time.Now().UTC()
		return rec
	}

	backoffBase := 1 * time.Second
	for attempt := 0; ; attempt++ {
		rec.Retries = attempt
		if err := f.scheduler.Acquire(ctx, target.Host); err != nil {
			rec.Status = model.StatusOtherError
			rec.ErrorKind = "SchedulerCancelled"
			rec.ErrorMessage = err.Error()
			rec.FinishedAt = time.Now().UTC()
			return rec
		}

		start := time.Now()
		terminal, retryTimeout := f.navigate(ctx, target, &rec)
		rec.LatencyMS = time.Since(start).Milliseconds()
		f.scheduler.Release(target.Host)

		if terminal {
			rec.FinishedAt = time.Now().UTC()
			return rec
		}

		if retryTimeout && attempt < maxBrowserRetries {
			f.scheduler.RecordError(target.Host)
			sleep(ctx, backoffBase*time.Duration(1<<uint(attempt)))
			continue
		}
		f.scheduler.RecordError(target.Host)
		rec.FinishedAt = time.Now().UTC()
		return rec
	}
}

// navigate runs one browser navigation attempt against target, mutating rec
// in place. It reports whether the attempt is terminal (success, or a
// non-retryable failure) and, if not terminal, whether the failure was a
// timeout eligible for the single allowed retry.
func (f *ChromeFetcher) navigate(parentCtx context.Context, target *url.URL, rec *model.FetchRecord) (terminal bool, retryTimeout bool) {
	browserCtx, err := f.browserContext()
	if err != nil {
		rec.Status = model.StatusHTTPError
		rec.ErrorKind = "BrowserStartFailed"
		rec.ErrorMessage = truncate(err.Error(), 256)
		return true, false
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()
	navCtx, navCancel := context.WithTimeout(tabCtx, f.navTimeout)
	defer navCancel()

	profile := stealth.ChooseProfileForRegion(f.stealthCfg.TargetRegion)
	profile = stealth.ApplyJitter(profile, f.stealthCfg)
	sessionSeed := rand.Int63()

	setupActions := []chromedp.Action{
		emulation.SetUserAgentOverride(profile.UserAgent).
			WithAcceptLanguage(profile.Locale).
			WithPlatform(profile.Platform),
		emulation.SetDeviceMetricsOverride(int64(profile.ViewportWidth), int64(profile.ViewportHeight), 1, false),
		emulation.SetTimezoneOverride(profile.TimezoneID),
		network.Enable(),
	}
	if netProfile, err := stealth.ParseNetworkProfile(f.stealthCfg.NetworkProfile); err == nil {
		setupActions = append(setupActions, stealth.EmulateNetwork(netProfile))
	}
	for _, script := range stealth.InitScripts(f.stealthCfg, profile, sessionSeed) {
		setupActions = append(setupActions, addInitScript(script))
	}
	if len(f.blockedTypes) > 0 {
		setupActions = append(setupActions, f.interceptBlockedResources())
	}

	if err := chromedp.Run(navCtx, setupActions...); err != nil {
		rec.Status = model.StatusHTTPError
		rec.ErrorKind = "SetupFailed"
		rec.ErrorMessage = truncate(err.Error(), 256)
		return true, false
	}

	var html string
	navErr := chromedp.Run(navCtx,
		chromedp.Navigate(target.String()),
		waitForDocumentReady(),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if navErr != nil {
		timedOut := isTimeoutErr(navErr)
		if timedOut {
			rec.Status = model.StatusTimeout
			rec.ErrorKind = "Timeout"
		} else {
			rec.Status = model.StatusHTTPError
			rec.ErrorKind = "NavigationFailed"
		}
		rec.ErrorMessage = truncate(navErr.Error(), 256)
		return !timedOut, timedOut
	}

	rec.HTTPStatus = 200
	rec.Status = model.StatusSuccess
	rec.ContentLength = len(html)

	if int64(len(html)) > f.maxBodyBytes {
		rec.Status = model.StatusTooLarge
		rec.ContentLength = 0
		return true, false
	}

	det := classifier.Detect(200, target.String(), nil, html)
	if !det.Present {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
			if vendor, ok := classifier.HasVendorNode(doc); ok {
				det = classifier.Detection{Present: true, Vendor: vendor, Confidence: 0.95, Reason: "vendor widget node"}
			}
		}
	}
	if det.Present {
		rec.Status = model.StatusCaptchaDetected
		rec.CaptchaDetected = true
		rec.BlockType = model.BlockCaptcha
		rec.BlockVendor = string(det.Vendor)
		f.scheduler.RecordCaptcha(target.Host)
		return true, false
	}

	rec.Body = []byte(html)
	return true, false
}

// addInitScript injects script into every future document of the tab via
// CDP Page.addScriptToEvaluateOnNewDocument, the equivalent of Playwright's
// add_init_script used by the original's stealth layer.
func addInitScript(script string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
		return err
	})
}

// waitForDocumentReady polls document.readyState, grounded on the teacher's
// render.go helper of the same name, then waits a short quiet window so
// late-firing XHR-driven content has a chance to settle (a coarse stand-in
// for Playwright's networkidle wait, which chromedp has no equivalent for).
func waitForDocumentReady() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			var readyState string
			if err := chromedp.Evaluate(`document.readyState`, &readyState).Do(ctx); err != nil {
				return err
			}
			if readyState == "complete" {
				break
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return chromedp.Sleep(250 * time.Millisecond).Do(ctx)
	})
}

// interceptBlockedResources installs a fetch.RequestPaused handler that
// aborts requests whose resource type is in blockedTypes and lets everything
// else through, grounded on browser_fetcher.py's create_page_with_blocking
// route handler, reimplemented with chromedp's fetch domain instead of
// Playwright's route API.
func (f *ChromeFetcher) interceptBlockedResources() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		listenCtx := cdp.WithExecutor(context.Background(), chromedp.FromContext(ctx).Target)
		chromedp.ListenTarget(ctx, func(ev interface{}) {
			req, ok := ev.(*fetch.EventRequestPaused)
			if !ok {
				return
			}
			go func(requestID fetch.RequestID, resourceType string) {
				if f.blockedTypes[resourceType] {
					_ = fetch.FailRequest(requestID, network.ErrorReasonBlockedByClient).Do(listenCtx)
					return
				}
				_ = fetch.ContinueRequest(requestID).Do(listenCtx)
			}(req.RequestID, string(req.ResourceType))
		})
		return fetch.Enable().Do(ctx)
	})
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func isTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timeout")
}
