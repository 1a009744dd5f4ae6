// Package browsertest is an in-memory browser for exercising quoting
// sessions. Pages are plain HTML documents held by goquery, clicks and key
// presses are scripted through a Site.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"autoquote-backend/internal/browser"
	"autoquote-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const refAttr = "data-aq-ref"

// Rule runs Do whenever an element matching Selector, or an element inside
// one, is clicked.
type Rule struct {
	Selector string
	Do       func(p *Page)
}

type Site struct {
	// Pages maps a URL to the document Navigate loads for it.
	Pages map[string]string
	Rules []Rule
	// OnEnter runs when Enter is pressed.
	OnEnter func(p *Page)
	// Format rewrites a field value on blur, like forms that insert dashes in
	// plates.
	Format func(value string) string
	// IgnoreSelectAll makes ctrl+a a no-op.
	IgnoreSelectAll bool
}

// Launcher hands out sessions browsing the same Site.
type Launcher struct {
	Site Site
	// LaunchErr, when set, is returned by every Launch.
	LaunchErr error

	mu       sync.Mutex
	launched int
	closed   int
	sessions []*Session
}

func NewLauncher(site Site) *Launcher {
	return &Launcher{Site: site}
}

func (l *Launcher) Launch(ctx context.Context) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	l.launched++
	s := &Session{launcher: l}
	s.current = newPage(s, "about:blank", "<html><body></body></html>")
	l.sessions = append(l.sessions, s)
	return s, nil
}

func (l *Launcher) Launched() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launched
}

func (l *Launcher) Closed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// LastSession returns the most recently launched session, or nil.
func (l *Launcher) LastSession() *Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.sessions) == 0 {
		return nil
	}
	return l.sessions[len(l.sessions)-1]
}

type Session struct {
	launcher *Launcher

	mu      sync.Mutex
	current *Page
	pending []*Page
	tabs    int
	closed  bool
}

func (s *Session) Page() browser.Page {
	return s.Current()
}

// Current is Page without the interface.
func (s *Session) Current() *Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Tabs counts the tabs the session switched to.
func (s *Session) Tabs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tabs
}

func (s *Session) Activate(ctx context.Context, wait time.Duration, action func(ctx context.Context, page browser.Page) error) (bool, error) {
	page := s.Current()
	err := action(ctx, page)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return false, nil
	}
	s.current = s.pending[len(s.pending)-1]
	s.pending = nil
	s.tabs++
	return true, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("session already closed")
	}
	s.closed = true
	s.launcher.mu.Lock()
	s.launcher.closed++
	s.launcher.mu.Unlock()
	return nil
}

// Page is one in-memory tab.
type Page struct {
	session *Session
	site    *Site

	mu       sync.Mutex
	doc      *goquery.Document
	url      string
	nextRef  int
	focused  string
	selected bool
	clicks   []string
	events   []string
}

func newPage(s *Session, url, markup string) *Page {
	p := &Page{session: s, site: &s.launcher.Site, url: url}
	p.load(markup)
	return p
}

func (p *Page) load(markup string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		panic(err)
	}
	p.doc = doc
	p.focused = ""
	p.selected = false
}

// Load replaces the document, the URL stays the same.
func (p *Page) Load(markup string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.load(markup)
}

// Remove deletes every element matching selector.
func (p *Page) Remove(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc.Find(selector).Remove()
}

// OpenTab opens a new tab, the session switches to it at the end of the
// current Activate.
func (p *Page) OpenTab(url, markup string) {
	tab := newPage(p.session, url, markup)
	p.session.mu.Lock()
	p.session.pending = append(p.session.pending, tab)
	p.session.mu.Unlock()
}

// Clicks lists the text of every clicked element in order.
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// Events lists dispatched events as "<id or tag>:<type>".
func (p *Page) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// Find runs a selector against the current document.
func (p *Page) Find(selector string) *goquery.Selection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.Find(selector)
}

func hiddenNode(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, a := range n.Attr {
		switch a.Key {
		case "hidden":
			return true
		case "style":
			style := strings.ReplaceAll(strings.ToLower(a.Val), " ", "")
			if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
				return true
			}
		case "type":
			if n.DataAtom == atom.Input && a.Val == "hidden" {
				return true
			}
		}
	}
	return false
}

func visible(n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if hiddenNode(cur) {
			return false
		}
	}
	return true
}

// innerText mirrors what a browser renders: hidden subtrees and scripts are
// left out.
func innerText(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if hiddenNode(n) {
			return
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Template, atom.Noscript:
				return
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return htmlutil.CleanText(sb.String())
}

func (p *Page) element(sel *goquery.Selection) browser.Element {
	ref, ok := sel.Attr(refAttr)
	if !ok {
		p.nextRef++
		ref = strconv.Itoa(p.nextRef)
		sel.SetAttr(refAttr, ref)
	}
	node := sel.Get(0)
	typ, _ := sel.Attr("type")
	id, _ := sel.Attr("id")
	value, _ := sel.Attr("value")
	placeholder, _ := sel.Attr("placeholder")
	return browser.Element{
		Ref:         ref,
		Tag:         goquery.NodeName(sel),
		ID:          id,
		Type:        typ,
		Text:        innerText(node),
		Value:       value,
		Placeholder: placeholder,
		Visible:     visible(node),
	}
}

func (p *Page) elements(sel *goquery.Selection) []browser.Element {
	out := make([]browser.Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, p.element(s))
	})
	return out
}

func (p *Page) byRef(ref string) (*goquery.Selection, error) {
	sel := p.doc.Find(fmt.Sprintf(`[%s="%s"]`, refAttr, ref))
	if sel.Length() == 0 {
		return nil, fmt.Errorf("element %s is gone", ref)
	}
	return sel.First(), nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	markup, ok := p.site.Pages[url]
	if !ok {
		return fmt.Errorf("navigate %s: net::ERR_NAME_NOT_RESOLVED", url)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	p.load(markup)
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) Query(ctx context.Context, selector string) ([]browser.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elements(p.doc.Find(selector)), nil
}

func (p *Page) QueryWithin(ctx context.Context, ref, selector string) ([]browser.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sel, err := p.byRef(ref)
	if err != nil {
		return nil, err
	}
	return p.elements(sel.Find(selector)), nil
}

func (p *Page) Parent(ctx context.Context, ref string) (browser.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sel, err := p.byRef(ref)
	if err != nil {
		return browser.Element{}, err
	}
	parent := sel.Parent()
	if parent.Length() == 0 {
		return browser.Element{}, fmt.Errorf("element %s has no parent", ref)
	}
	return p.element(parent), nil
}

func (p *Page) click(ref string, mouse bool) error {
	p.mu.Lock()
	sel, err := p.byRef(ref)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if mouse {
		if !visible(sel.Get(0)) {
			p.mu.Unlock()
			return fmt.Errorf("element %s is not visible", ref)
		}
		if _, blocked := sel.Attr("data-click-fails"); blocked {
			p.mu.Unlock()
			return fmt.Errorf("element %s is covered by another element", ref)
		}
	}
	p.clicks = append(p.clicks, innerText(sel.Get(0)))
	if t, _ := sel.Attr("type"); t == "radio" || t == "checkbox" {
		sel.SetAttr("checked", "checked")
	}
	var fire []Rule
	for _, rule := range p.site.Rules {
		if sel.Closest(rule.Selector).Length() > 0 {
			fire = append(fire, rule)
		}
	}
	p.mu.Unlock()

	for _, rule := range fire {
		rule.Do(p)
	}
	return nil
}

func (p *Page) Click(ctx context.Context, ref string) error {
	return p.click(ref, true)
}

func (p *Page) ClickJS(ctx context.Context, ref string) error {
	return p.click(ref, false)
}

func (p *Page) SelectText(ctx context.Context, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.byRef(ref); err != nil {
		return err
	}
	p.focused = ref
	p.selected = true
	return nil
}

func (p *Page) Focus(ctx context.Context, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.byRef(ref); err != nil {
		return err
	}
	if p.focused != ref {
		p.selected = false
	}
	p.focused = ref
	return nil
}

func (p *Page) ScrollIntoView(ctx context.Context, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.byRef(ref)
	return err
}

func (p *Page) Value(ctx context.Context, ref string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sel, err := p.byRef(ref)
	if err != nil {
		return "", err
	}
	value, _ := sel.Attr("value")
	return value, nil
}

func (p *Page) focusedField() (*goquery.Selection, bool) {
	if p.focused == "" {
		return nil, false
	}
	sel, err := p.byRef(p.focused)
	if err != nil || goquery.NodeName(sel) != "input" {
		return nil, false
	}
	return sel, true
}

func (p *Page) Press(ctx context.Context, key browser.Key) error {
	p.mu.Lock()
	if key == browser.KeyEnter {
		p.mu.Unlock()
		if p.site.OnEnter != nil {
			p.site.OnEnter(p)
		}
		return nil
	}
	defer p.mu.Unlock()

	field, ok := p.focusedField()
	if !ok {
		return nil
	}
	value, _ := field.Attr("value")
	switch key {
	case browser.KeySelectAll:
		if !p.site.IgnoreSelectAll {
			p.selected = true
		}
	case browser.KeyDelete, browser.KeyBackspace:
		if p.selected {
			field.SetAttr("value", "")
			p.selected = false
			return nil
		}
		if key == browser.KeyBackspace && value != "" {
			runes := []rune(value)
			field.SetAttr("value", string(runes[:len(runes)-1]))
		}
	default:
		return fmt.Errorf("unsupported key %q", key)
	}
	return nil
}

func (p *Page) Type(ctx context.Context, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	field, ok := p.focusedField()
	if !ok {
		return nil
	}
	value, _ := field.Attr("value")
	if p.selected {
		value = ""
		p.selected = false
	}
	field.SetAttr("value", value+text)
	return nil
}

func (p *Page) Dispatch(ctx context.Context, ref string, events ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	sel, err := p.byRef(ref)
	if err != nil {
		return err
	}
	name, ok := sel.Attr("id")
	if !ok {
		name = goquery.NodeName(sel)
	}
	for _, ev := range events {
		p.events = append(p.events, name+":"+ev)
		if ev == "blur" && p.site.Format != nil {
			value, _ := sel.Attr("value")
			sel.SetAttr("value", p.site.Format(value))
		}
	}
	return nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.Html()
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("\x89PNG fake"), nil
}
