package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// SessionConfig shapes the Chrome process behind one session.
type SessionConfig struct {
	Headless     bool
	WindowWidth  int
	WindowHeight int
	UserAgent    string
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Headless:     true,
		WindowWidth:  1920,
		WindowHeight: 1080,
		UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}

// ChromeSession is one pooled Chrome process with a single long-lived main
// tab. Document views open as extra tabs and are cleaned away on Reset.
type ChromeSession struct {
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	mainTarget  target.ID
}

func buildChromeOptions(cfg SessionConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	return opts
}

// NewChromeSession launches Chrome and opens the main tab. The parent
// context only scopes startup; the session outlives it until Close.
func NewChromeSession(ctx context.Context, cfg SessionConfig) (*ChromeSession, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), buildChromeOptions(cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	startCtx, cancel := context.WithTimeout(tabCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("launching chrome: %w", err)
	}
	select {
	case <-ctx.Done():
		tabCancel()
		allocCancel()
		return nil, ctx.Err()
	default:
	}

	s := &ChromeSession{
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
	}
	if c := chromedp.FromContext(tabCtx); c != nil && c.Target != nil {
		s.mainTarget = c.Target.TargetID
	}
	return s, nil
}

// Reset closes every tab except the main one, clears cookies, and parks the
// main tab on a blank page so the next job starts from scratch.
func (s *ChromeSession) Reset(ctx context.Context) error {
	if err := s.closeExtraTabs(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(s.tabCtx, 15*time.Second)
	defer cancel()
	return chromedp.Run(runCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return network.ClearBrowserCookies().Do(ctx)
		}),
		chromedp.Navigate("about:blank"),
	)
}

func (s *ChromeSession) closeExtraTabs() error {
	infos, err := chromedp.Targets(s.tabCtx)
	if err != nil {
		return fmt.Errorf("listing targets: %w", err)
	}
	runCtx, cancel := context.WithTimeout(s.tabCtx, 10*time.Second)
	defer cancel()
	for _, info := range infos {
		if info.Type != "page" || info.TargetID == s.mainTarget {
			continue
		}
		id := info.TargetID
		err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			return target.CloseTarget(id).Do(ctx)
		}))
		if err != nil {
			return fmt.Errorf("closing tab %s: %w", id, err)
		}
	}
	return nil
}

// Close tears down the tab and the Chrome process.
func (s *ChromeSession) Close() {
	s.tabCancel()
	s.allocCancel()
}
