package extractor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// PlaywrightLauncher starts a Chromium instance per cycle.
type PlaywrightLauncher struct {
	Headless      bool
	Channel       string
	UserAgent     string
	LaunchTimeout time.Duration
}

// Launch starts the playwright driver and a browser. The driver is stopped when
// the returned session is closed.
func (l *PlaywrightLauncher) Launch(ctx context.Context) (Session, error) {
	if l == nil {
		return nil, errors.New("playwright launcher is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.Headless),
		Args: []string{
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--disable-dev-shm-usage",
			"--disable-gpu",
		},
	}
	if l.Channel != "" {
		opts.Channel = playwright.String(l.Channel)
	}
	if l.LaunchTimeout > 0 {
		opts.Timeout = playwright.Float(float64(l.LaunchTimeout.Milliseconds()))
	}

	browser, err := pw.Chromium.Launch(opts)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	ua := l.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &playwrightSession{pw: pw, browser: browser, userAgent: ua}, nil
}

type playwrightSession struct {
	pw        *playwright.Playwright
	browser   playwright.Browser
	userAgent string

	closeOnce sync.Once
	closeErr  error
}

func (s *playwrightSession) NewPage() (Page, error) {
	page, err := s.browser.NewPage(playwright.BrowserNewPageOptions{
		UserAgent: playwright.String(s.userAgent),
		Viewport:  &playwright.Size{Width: 1920, Height: 1080},
	})
	if err != nil {
		return nil, err
	}
	return &playwrightPage{page: page}, nil
}

func (s *playwrightSession) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = errors.Join(s.browser.Close(), s.pw.Stop())
	})
	return s.closeErr
}

type playwrightPage struct {
	page playwright.Page
}

func (p *playwrightPage) Goto(url string, timeout time.Duration) error {
	opts := playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}
	if timeout > 0 {
		opts.Timeout = playwright.Float(float64(timeout.Milliseconds()))
	}
	_, err := p.page.Goto(url, opts)
	return err
}

func (p *playwrightPage) Text() (string, error) {
	return p.page.Locator("body").InnerText()
}

func (p *playwrightPage) Evaluate(script string) (any, error) {
	return p.page.Evaluate(script)
}

func (p *playwrightPage) Close() error {
	return p.page.Close()
}
