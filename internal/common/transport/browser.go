package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	apperrors "github.com/project-tktt/immo-crawler/internal/common/errors"
	"github.com/project-tktt/immo-crawler/internal/common/logger"
	"github.com/project-tktt/immo-crawler/internal/common/metrics"
)

// Renderer fetches a page through a real browser engine
type Renderer interface {
	Render(ctx context.Context, target string) (*Response, error)
}

// BrowserConfig configures a BrowserFetcher
type BrowserConfig struct {
	Source    string
	ExecPath  string
	UserAgent string
	Timeout   time.Duration
	// Extra settle time after navigation for client-side rendering
	Settle time.Duration
	Gate   Gate
	Logger logger.Logger
}

// BrowserFetcher renders pages in headless Chrome. The browser is started
// lazily and shared by every render of the fetcher.
type BrowserFetcher struct {
	cfg BrowserConfig
	log logger.Logger

	once        sync.Once
	startErr    error
	browserCtx  context.Context
	cancelAlloc context.CancelFunc
	cancelBrows context.CancelFunc
}

// NewBrowserFetcher creates a fetcher; no process is started until the first Render
func NewBrowserFetcher(cfg BrowserConfig) *BrowserFetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.Settle == 0 {
		cfg.Settle = 2 * time.Second
	}
	return &BrowserFetcher{
		cfg: cfg,
		log: logger.OrNop(cfg.Logger).WithFields(map[string]interface{}{"source": cfg.Source, "mode": "browser"}),
	}
}

func (b *BrowserFetcher) start() error {
	b.once.Do(func() {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
		)
		if b.cfg.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(b.cfg.UserAgent))
		}
		if b.cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
		}

		allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
		browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
		if err := chromedp.Run(browserCtx); err != nil {
			cancelBrowser()
			cancelAlloc()
			b.startErr = fmt.Errorf("start browser: %w", err)
			return
		}
		b.browserCtx, b.cancelAlloc, b.cancelBrows = browserCtx, cancelAlloc, cancelBrowser
		b.log.Info("browser started", nil)
	})
	return b.startErr
}

// Render navigates to target in a fresh tab and returns the rendered DOM
func (b *BrowserFetcher) Render(ctx context.Context, target string) (*Response, error) {
	if err := b.start(); err != nil {
		return nil, err
	}
	if b.cfg.Gate != nil {
		if err := b.cfg.Gate.Wait(ctx); err != nil {
			return nil, err
		}
	}

	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.cfg.Timeout)
	defer cancelTimeout()
	// Caller cancellation closes the tab as well
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	start := time.Now()
	resp, err := chromedp.RunResponse(tabCtx, chromedp.Navigate(target))
	metrics.RequestDuration.WithLabelValues(b.cfg.Source).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(b.cfg.Source, "error").Inc()
		if b.cfg.Gate != nil {
			_ = b.cfg.Gate.RecordFailure(ctx, 0)
		}
		return nil, apperrors.NewNetworkTimeoutError(target, err)
	}

	status := 200
	if resp != nil {
		status = int(resp.Status)
	}
	metrics.RequestsTotal.WithLabelValues(b.cfg.Source, fmt.Sprint(status)).Inc()
	if status != 200 {
		if b.cfg.Gate != nil {
			_ = b.cfg.Gate.RecordFailure(ctx, status)
		}
		return &Response{StatusCode: status, URL: target}, nil
	}

	var html string
	if err := chromedp.Run(tabCtx,
		chromedp.Sleep(b.cfg.Settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		if b.cfg.Gate != nil {
			_ = b.cfg.Gate.RecordFailure(ctx, 0)
		}
		return nil, apperrors.NewNetworkTimeoutError(target, err)
	}
	if b.cfg.Gate != nil {
		b.cfg.Gate.RecordSuccess()
	}
	return &Response{StatusCode: status, Body: []byte(html), URL: target}, nil
}

// Close stops the browser process
func (b *BrowserFetcher) Close() {
	if b.cancelBrows != nil {
		b.cancelBrows()
	}
	if b.cancelAlloc != nil {
		b.cancelAlloc()
	}
}
