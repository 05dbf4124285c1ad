package stealth

import (
	"context"
	"math/rand"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
)

// HumanMouseMove moves the mouse to a random point inside the viewport in a
// handful of discrete steps, grounded on
// original_source/tavily_scraper/stealth/behavior.py's human_mouse_move. chromedp has no
// built-in stepped-move helper the way Playwright's mouse.move(steps=...)
// does, so the steps are dispatched individually via the CDP input domain.
func HumanMouseMove(viewportWidth, viewportHeight int) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if viewportWidth <= 0 {
			viewportWidth = 1280
		}
		if viewportHeight <= 0 {
			viewportHeight = 800
		}
		targetX := float64(rand.Intn(viewportWidth))
		targetY := float64(rand.Intn(viewportHeight))
		steps := 5 + rand.Intn(21) // [5,25]

		startX, startY := targetX/2, targetY/2
		for i := 1; i <= steps; i++ {
			frac := float64(i) / float64(steps)
			x := startX + (targetX-startX)*frac
			y := startY + (targetY-startY)*frac
			if err := input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// HumanScroll scrolls down by a random amount, pauses as if reading, and
// occasionally scrolls back up slightly, grounded on
// original_source/tavily_scraper/stealth/behavior.py's human_scroll.
func HumanScroll() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		down := 300 + rand.Intn(501) // [300,800]
		if err := dispatchWheel(ctx, float64(down)); err != nil {
			return err
		}
		sleepJitter(ctx, 500*time.Millisecond, 1500*time.Millisecond)

		if rand.Float64() < 0.3 {
			up := 50 + rand.Intn(101) // [50,150]
			if err := dispatchWheel(ctx, -float64(up)); err != nil {
				return err
			}
			sleepJitter(ctx, 200*time.Millisecond, 500*time.Millisecond)
		}
		return nil
	})
}

func dispatchWheel(ctx context.Context, deltaY float64) error {
	return input.DispatchMouseEvent(input.MouseWheel, 0, 0).
		WithDeltaX(0).
		WithDeltaY(deltaY).
		Do(ctx)
}

// HumanType focuses selector and dispatches one key event per rune with a
// variable per-keystroke delay, grounded on
// original_source/tavily_scraper/stealth/behavior.py's human_type.
func HumanType(selector, text string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := chromedp.Focus(selector, chromedp.ByQuery).Do(ctx); err != nil {
			return err
		}
		for _, r := range text {
			if err := input.DispatchKeyEvent(input.KeyChar).WithText(string(r)).Do(ctx); err != nil {
				return err
			}
			delay := time.Duration(50+rand.Intn(151)) * time.Millisecond // [50,200]ms
			time.Sleep(delay)
			if rand.Float64() < 0.05 {
				sleepJitter(ctx, 300*time.Millisecond, 800*time.Millisecond)
			}
		}
		return nil
	})
}

func sleepJitter(ctx context.Context, min, max time.Duration) {
	d := min
	if max > min {
		d += time.Duration(rand.Int63n(int64(max - min)))
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
