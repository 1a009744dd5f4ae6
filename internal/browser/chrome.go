package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"autoquote-backend/internal/components/telemetry"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15"

const (
	report_launcher_launch = "launcher.launch"
	report_session_close   = "session.close"
)

type ChromeConfig struct {
	Headless  bool
	ExecPath  string
	UserAgent string
	// ActionTimeout bounds driver calls made with a context that has no
	// deadline of its own.
	ActionTimeout time.Duration
}

type implementationCfg struct {
	tel telemetry.API
}

type ImplementationOption func(cfg *implementationCfg)

func WithCustomTelemetryAPI(tel telemetry.API) ImplementationOption {
	return func(cfg *implementationCfg) {
		cfg.tel = tel
	}
}

// ChromeLauncher starts one Chrome process per session.
type ChromeLauncher struct {
	cfg ChromeConfig
	tel telemetry.API
}

func NewChromeLauncher(cfg ChromeConfig, options ...ImplementationOption) ChromeLauncher {
	icfg := implementationCfg{tel: telemetry.SlogAPI{}}
	for _, opt := range options {
		opt(&icfg)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 5 * time.Second
	}
	return ChromeLauncher{
		cfg: cfg,
		tel: telemetry.NewScopedAPI("browser", icfg.tel),
	}
}

func (l ChromeLauncher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(l.cfg.UserAgent),
		chromedp.WindowSize(1366, 900),
	)
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	return opts
}

func (l ChromeLauncher) Launch(ctx context.Context) (Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, l.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// the first Run starts the browser
	err := chromedp.Run(browserCtx)
	if err != nil {
		browserCancel()
		allocCancel()
		l.tel.ReportBroken(report_launcher_launch, err)
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	s := &chromeSession{
		browserCtx: browserCtx,
		cancels:    []context.CancelFunc{browserCancel, allocCancel},
		tel:        l.tel,
	}
	s.current = &chromePage{ctx: browserCtx, timeout: l.cfg.ActionTimeout}
	return s, nil
}

type chromeSession struct {
	mu         sync.Mutex
	browserCtx context.Context
	current    *chromePage
	cancels    []context.CancelFunc
	tel        telemetry.API
}

func (s *chromeSession) Page() Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *chromeSession) Activate(ctx context.Context, wait time.Duration, action func(ctx context.Context, page Page) error) (bool, error) {
	s.mu.Lock()
	page := s.current
	s.mu.Unlock()

	opened := chromedp.WaitNewTarget(page.ctx, func(info *target.Info) bool {
		return info.Type == "page"
	})
	err := action(ctx, page)
	if err != nil {
		return false, err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case id := <-opened:
		tabCtx, cancel := chromedp.NewContext(s.browserCtx, chromedp.WithTargetID(id))
		err := chromedp.Run(tabCtx)
		if err != nil {
			cancel()
			return false, fmt.Errorf("attach new tab: %w", err)
		}
		s.mu.Lock()
		s.cancels = append([]context.CancelFunc{cancel}, s.cancels...)
		s.current = &chromePage{ctx: tabCtx, timeout: page.timeout}
		s.mu.Unlock()
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (s *chromeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := chromedp.Cancel(s.browserCtx)
	if err != nil {
		s.tel.ReportWarning(report_session_close, err)
	}
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
	return err
}

type chromePage struct {
	ctx     context.Context
	timeout time.Duration
}

// bound derives a context carrying the tab from the page and the deadline
// and cancellation from the caller.
func (p *chromePage) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(p.timeout)
	}
	runCtx, cancel := context.WithDeadline(p.ctx, deadline)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := p.bound(ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func refSelector(ref string) string {
	return fmt.Sprintf(`[data-aq-ref="%s"]`, ref)
}

// snapshotJS tags elements with a data-aq-ref attribute so that later calls
// can address them without holding on to remote node ids.
const snapshotJS = `(function(scopeRef, selector, mode) {
	function snapshot(el) {
		if (!el.getAttribute('data-aq-ref')) {
			window.__aqNextRef = (window.__aqNextRef || 0) + 1;
			el.setAttribute('data-aq-ref', String(window.__aqNextRef));
		}
		var rect = el.getBoundingClientRect();
		var style = window.getComputedStyle(el);
		return {
			ref: el.getAttribute('data-aq-ref'),
			tag: el.tagName.toLowerCase(),
			id: el.id || '',
			type: el.getAttribute('type') || '',
			text: (el.innerText || el.textContent || '').trim(),
			value: typeof el.value === 'string' ? el.value : '',
			placeholder: el.getAttribute('placeholder') || '',
			visible: rect.width > 0 && rect.height > 0 && style.visibility !== 'hidden' && style.display !== 'none'
		};
	}
	var root = document;
	if (scopeRef) {
		root = document.querySelector('[data-aq-ref="' + scopeRef + '"]');
		if (!root) return [];
	}
	if (mode === 'parent') {
		return root.parentElement ? [snapshot(root.parentElement)] : [];
	}
	var nodes;
	try {
		nodes = root.querySelectorAll(selector);
	} catch (e) {
		return [];
	}
	var out = [];
	for (var i = 0; i < nodes.length; i++) {
		out.push(snapshot(nodes[i]));
	}
	return out;
})(%s, %s, %s)`

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func (p *chromePage) snapshot(ctx context.Context, scopeRef, selector, mode string) ([]Element, error) {
	var out []Element
	js := fmt.Sprintf(snapshotJS, jsString(scopeRef), jsString(selector), jsString(mode))
	err := p.run(ctx, chromedp.Evaluate(js, &out))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// elementJS runs body with `el` bound to the element behind ref.
func (p *chromePage) elementJS(ctx context.Context, ref, body string, res any) error {
	js := fmt.Sprintf(`(function(el) {
	if (!el) throw new Error('element is gone');
	%s
})(document.querySelector(%s))`, body, jsString(refSelector(ref)))
	return p.run(ctx, chromedp.Evaluate(js, res))
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var url string
	err := p.run(ctx, chromedp.Location(&url))
	return url, err
}

func (p *chromePage) Query(ctx context.Context, selector string) ([]Element, error) {
	return p.snapshot(ctx, "", selector, "query")
}

func (p *chromePage) QueryWithin(ctx context.Context, ref, selector string) ([]Element, error) {
	return p.snapshot(ctx, ref, selector, "query")
}

func (p *chromePage) Parent(ctx context.Context, ref string) (Element, error) {
	els, err := p.snapshot(ctx, ref, "", "parent")
	if err != nil {
		return Element{}, err
	}
	if len(els) == 0 {
		return Element{}, fmt.Errorf("element %s has no parent", ref)
	}
	return els[0], nil
}

func (p *chromePage) Click(ctx context.Context, ref string) error {
	return p.run(ctx, chromedp.Click(refSelector(ref), chromedp.ByQuery))
}

func (p *chromePage) ClickJS(ctx context.Context, ref string) error {
	var ok bool
	return p.elementJS(ctx, ref, "el.click(); return true;", &ok)
}

func (p *chromePage) SelectText(ctx context.Context, ref string) error {
	return p.run(ctx, chromedp.QueryAfter(
		refSelector(ref),
		func(ctx context.Context, _ runtime.ExecutionContextID, nodes ...*cdp.Node) error {
			if len(nodes) == 0 {
				return fmt.Errorf("element %s is gone", ref)
			}
			return chromedp.MouseClickNode(nodes[0], chromedp.ClickCount(3)).Do(ctx)
		},
		chromedp.ByQuery,
	))
}

func (p *chromePage) Focus(ctx context.Context, ref string) error {
	return p.run(ctx, chromedp.Focus(refSelector(ref), chromedp.ByQuery))
}

func (p *chromePage) ScrollIntoView(ctx context.Context, ref string) error {
	return p.run(ctx, chromedp.ScrollIntoView(refSelector(ref), chromedp.ByQuery))
}

func (p *chromePage) Value(ctx context.Context, ref string) (string, error) {
	var value string
	err := p.elementJS(ctx, ref, "return typeof el.value === 'string' ? el.value : '';", &value)
	return value, err
}

func (p *chromePage) Press(ctx context.Context, key Key) error {
	switch key {
	case KeySelectAll:
		return p.run(ctx, chromedp.KeyEvent("a", chromedp.KeyModifiers(input.ModifierCtrl)))
	case KeyEnter:
		return p.run(ctx, chromedp.KeyEvent(kb.Enter))
	case KeyDelete:
		return p.run(ctx, chromedp.KeyEvent(kb.Delete))
	case KeyBackspace:
		return p.run(ctx, chromedp.KeyEvent(kb.Backspace))
	}
	return fmt.Errorf("unsupported key %q", key)
}

func (p *chromePage) Type(ctx context.Context, text string) error {
	return p.run(ctx, chromedp.KeyEvent(text))
}

func (p *chromePage) Dispatch(ctx context.Context, ref string, events ...string) error {
	list, err := json.Marshal(events)
	if err != nil {
		return err
	}
	var ok bool
	body := fmt.Sprintf(`%s.forEach(function(type) {
		el.dispatchEvent(new Event(type, { bubbles: true }));
	});
	return true;`, list)
	return p.elementJS(ctx, ref, body, &ok)
}

func (p *chromePage) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, chromedp.FullScreenshot(&buf, 80))
	return buf, err
}
