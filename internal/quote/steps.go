package quote

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"autoquote-backend/internal/browser"
	"autoquote-backend/lib/htmlutil"
	"autoquote-backend/lib/textutil"

	"go.opentelemetry.io/otel/attribute"
)

const (
	plateReadySelector  = `input[placeholder*="AB123CD"], input[name*="plate"]`
	platePlaceholderSel = `input[placeholder*="AB123CD"]`
	plateLabelSelector  = `label, legend, p, span, div, h1, h2, h3, h4, strong`

	continueSelector     = `button, [type="submit"], [role="button"], a`
	continueScanSelector = `button, [type="submit"]`

	variantCandidateSelector = `label, button, a, [role="button"], [class*="button"], [class*="selectable"], [class*="option"], [class*="card"], [class*="choice"], div.panel, div.card, div.panel-body, div.panel-heading`
	variantClickableSelector = `button, a, input[type="radio"], input[type="checkbox"]`
	variantCandidateCap      = 150
	variantSnippetCount      = 12
	variantSnippetLength     = 120

	calculateSelector     = `button, a, [role="button"], [type="submit"], div[class*="button"]`
	calculateScanSelector = `button, a, [role="button"], [type="submit"], div, span`

	priceReadySelector = `[class*="price"], [class*="montant"]`
)

var priceSelectors = []string{
	`[class*="price"]`,
	`[class*="total"]`,
	`[class*="amount"]`,
	`[data-price]`,
	`[class*="devis"]`,
	`[class*="montant"]`,
}

var (
	continueRegex   = regexp.MustCompile(`(?i)continuer`)
	calculateRegex  = regexp.MustCompile(`(?i)calculer mon devis|valider mon devis|je calcule|calculer`)
	vehicleRegex    = regexp.MustCompile(`(?i)votre v[ée]hicule`)
	platePlaceholds = []string{"AB123CD", "AB-123-CD"}
)

var obstacles = []struct {
	name     string
	selector string
	text     *regexp.Regexp
}{
	{
		name:     "alert",
		selector: `.swal2-container button.swal2-confirm, .swal2-actions button`,
		text:     regexp.MustCompile(`(?i)ok|d['’]accord|compris`),
	},
	{
		name:     "wrong-plate",
		selector: `midas-wrong-plate-number-modal button, .modal-content button.midas-btn`,
		text:     regexp.MustCompile(`(?i)ok|compris`),
	},
}

// NormalizePlate drops separators and case so that "ab-123 cd" and
// "AB123CD" compare equal.
func NormalizePlate(plate string) string {
	plate = strings.NewReplacer(" ", "", "-", "").Replace(plate)
	return strings.ToUpper(plate)
}

func firstVisible(els []browser.Element, pred func(el browser.Element) bool) (browser.Element, bool) {
	for _, el := range els {
		if !el.Visible {
			continue
		}
		if pred == nil || pred(el) {
			return el, true
		}
	}
	return browser.Element{}, false
}

func visibleMatching(els []browser.Element, pred func(el browser.Element) bool) []browser.Element {
	var out []browser.Element
	for _, el := range els {
		if el.Visible && pred(el) {
			out = append(out, el)
		}
	}
	return out
}

func (s *session) query(ctx context.Context, selector string) []browser.Element {
	els, err := s.page().Query(ctx, selector)
	if err != nil {
		s.note("query %s failed: %v", selector, err)
		return nil
	}
	return els
}

// waitFor polls until an element matching selector is visible.
func (s *session) waitFor(ctx context.Context, selector string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		els, err := s.page().Query(ctx, selector)
		if err == nil {
			if _, ok := firstVisible(els, nil); ok {
				return true
			}
		}
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			return false
		}
		timer := time.NewTimer(s.e.timeouts.Poll)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false
		}
	}
}

func (s *session) clickOrJS(ctx context.Context, ref string) error {
	err := s.page().Click(ctx, ref)
	if err == nil {
		return nil
	}
	s.note("click on %s failed, falling back to a scripted click: %v", ref, err)
	return s.page().ClickJS(ctx, ref)
}

// activate runs action and follows a tab it opens.
func (s *session) activate(ctx context.Context, wait time.Duration, action func(ctx context.Context, page browser.Page) error) (bool, error) {
	switched, err := s.sess.Activate(ctx, wait, action)
	if err != nil {
		return false, err
	}
	if switched {
		s.note("followed a new tab")
	}
	return switched, nil
}

// dismissObstacles closes the popups the form throws at unexpected moments.
// It never fails, it reports whether it closed anything.
func (s *session) dismissObstacles(ctx context.Context) bool {
	ctx, span := tracer.Start(ctx, "engine:"+string(StepDismissObstacles))
	defer span.End()

	closed := false
	for _, o := range obstacles {
		btn, ok := firstVisible(s.query(ctx, o.selector), func(el browser.Element) bool {
			return o.text.MatchString(el.Text)
		})
		if !ok {
			continue
		}
		err := s.clickOrJS(ctx, btn.Ref)
		if err != nil {
			s.note("could not close %s popup: %v", o.name, err)
			continue
		}
		s.note("closed %s popup", o.name)
		closed = true
		s.pause(ctx, 220*time.Millisecond, 320*time.Millisecond)
	}
	if closed {
		s.restorePlateMode(ctx)
	}
	span.SetAttributes(attribute.Bool("custom.acted", closed))
	return closed
}

// restorePlateMode switches the vehicle form back to plate entry, closing a
// popup tends to reset it to the manual vehicle picker.
func (s *session) restorePlateMode(ctx context.Context) {
	var label *browser.Element
	for _, el := range s.query(ctx, "label") {
		if strings.Contains(textutil.NormalizeForMatch(el.Text), "immatriculation") {
			label = &el
			break
		}
	}

	target := ""
	if label != nil {
		radios, err := s.page().QueryWithin(ctx, label.Ref, `input[type="radio"]`)
		if err == nil && len(radios) > 0 {
			target = radios[0].Ref
		}
	}
	if target == "" {
		if toggles := s.query(ctx, `input#displayPlateSection`); len(toggles) > 0 {
			target = toggles[0].Ref
		}
	}
	if target == "" && label != nil {
		target = label.Ref
	}
	if target == "" {
		return
	}

	err := s.clickOrJS(ctx, target)
	if err != nil {
		s.note("could not restore plate entry: %v", err)
		return
	}
	s.note("restored plate entry")
	s.pause(ctx, 200*time.Millisecond, 300*time.Millisecond)
}

func (s *session) navigate(ctx context.Context) *Error {
	navCtx, cancel := context.WithTimeout(ctx, s.e.timeouts.Navigate)
	defer cancel()

	err := s.page().Navigate(navCtx, s.req.FormURL)
	if err != nil {
		return failWith(RemoteNavigationFailed, err, "could not load %s", s.req.FormURL)
	}
	if !s.waitFor(ctx, plateReadySelector, s.e.timeouts.Element) {
		s.note("plate form not visible after load")
	}
	s.pause(ctx, 600*time.Millisecond, 900*time.Millisecond)
	return nil
}

func (s *session) acceptCookies(ctx context.Context) *Error {
	btn, ok := firstVisible(s.query(ctx, "button"), func(el browser.Element) bool {
		return strings.Contains(textutil.NormalizeForMatch(el.Text), "accepter et continuer")
	})
	if !ok {
		s.note("no cookie notice")
		return nil
	}
	err := s.clickOrJS(ctx, btn.Ref)
	if err != nil {
		s.note("could not accept cookies: %v", err)
		return nil
	}
	s.note("accepted cookies")
	s.pause(ctx, 300*time.Millisecond, 500*time.Millisecond)
	return nil
}

func holdsPlaceholder(el browser.Element) bool {
	for _, p := range platePlaceholds {
		if strings.Contains(strings.ToUpper(el.Value), p) {
			return true
		}
	}
	return false
}

func (s *session) plateStrategies() []Strategy[browser.Element] {
	return []Strategy[browser.Element]{
		{
			Name: "placeholder",
			Find: func(ctx context.Context) (browser.Element, bool, error) {
				els, err := s.page().Query(ctx, platePlaceholderSel)
				if err != nil {
					return browser.Element{}, false, err
				}
				el, ok := firstVisible(els, nil)
				return el, ok, nil
			},
		},
		{
			Name: "section-label",
			Find: func(ctx context.Context) (browser.Element, bool, error) {
				els, err := s.page().Query(ctx, plateLabelSelector)
				if err != nil {
					return browser.Element{}, false, err
				}
				var label *browser.Element
				for i, el := range els {
					if !strings.Contains(textutil.NormalizeForMatch(el.Text), "mon numero de plaque") {
						continue
					}
					if label == nil || len(el.Text) < len(label.Text) {
						label = &els[i]
					}
				}
				if label == nil {
					return browser.Element{}, false, nil
				}
				parent, err := s.page().Parent(ctx, label.Ref)
				if err != nil {
					return browser.Element{}, false, err
				}
				inputs, err := s.page().QueryWithin(ctx, parent.Ref, "input")
				if err != nil {
					return browser.Element{}, false, err
				}
				el, ok := firstVisible(inputs, holdsPlaceholder)
				return el, ok, nil
			},
		},
		{
			Name: "default-value",
			Find: func(ctx context.Context) (browser.Element, bool, error) {
				els, err := s.page().Query(ctx, "input")
				if err != nil {
					return browser.Element{}, false, err
				}
				el, ok := firstVisible(els, func(el browser.Element) bool {
					return NormalizePlate(el.Value) == "AB123CD"
				})
				return el, ok, nil
			},
		},
	}
}

func (s *session) locatePlate(ctx context.Context) *Error {
	s.waitFor(ctx, plateReadySelector, s.e.timeouts.Element)
	el, how, attempts, ok := FirstMatch(ctx, s.plateStrategies())
	if !ok {
		return fail(PlateFieldNotFound, "no plate field found after %d strategies", len(attempts))
	}
	s.plateRef = el.Ref
	s.note("plate field found by %s", how)
	return nil
}

func (s *session) clearField(ctx context.Context, ref string) error {
	page := s.page()
	err := page.Press(ctx, browser.KeySelectAll)
	if err != nil {
		return err
	}
	s.pause(ctx, 60*time.Millisecond, 100*time.Millisecond)
	err = page.Press(ctx, browser.KeyDelete)
	if err != nil {
		return err
	}

	value, err := page.Value(ctx, ref)
	if err != nil || value == "" {
		return err
	}
	s.note("select-all left %q in the field, clearing with backspace", value)
	err = page.SelectText(ctx, ref)
	if err != nil {
		return err
	}
	for i := 0; i <= len(value) && value != ""; i++ {
		err = page.Press(ctx, browser.KeyBackspace)
		if err != nil {
			return err
		}
		value, err = page.Value(ctx, ref)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *session) enterPlate(ctx context.Context) *Error {
	page := s.page()
	ref := s.plateRef

	err := s.clickOrJS(ctx, ref)
	if err != nil {
		return failWith(PlateFieldNotFound, err, "plate field cannot be clicked")
	}
	s.pause(ctx, 200*time.Millisecond, 300*time.Millisecond)
	err = page.Focus(ctx, ref)
	if err != nil {
		return failWith(PlateFieldNotFound, err, "plate field cannot be focused")
	}
	s.pause(ctx, 150*time.Millisecond, 200*time.Millisecond)

	err = s.clearField(ctx, ref)
	if err != nil {
		return failWith(PlateMismatch, err, "could not clear the plate field")
	}

	err = page.Focus(ctx, ref)
	if err != nil {
		return failWith(PlateFieldNotFound, err, "plate field cannot be focused")
	}
	for _, r := range s.req.Plate {
		s.pause(ctx, 80*time.Millisecond, 120*time.Millisecond)
		err = page.Type(ctx, string(r))
		if err != nil {
			return failWith(PlateMismatch, err, "typing the plate failed")
		}
		s.pause(ctx, 50*time.Millisecond, 100*time.Millisecond)
	}

	err = page.Dispatch(ctx, ref, "focus", "input", "keyup", "change", "blur")
	if err != nil {
		s.note("dispatching field events failed: %v", err)
	}
	s.pause(ctx, 250*time.Millisecond, 350*time.Millisecond)

	value, err := page.Value(ctx, ref)
	if err != nil {
		return failWith(PlateMismatch, err, "could not read the plate field back")
	}
	if value != s.req.Plate && NormalizePlate(value) != NormalizePlate(s.req.Plate) {
		return fail(PlateMismatch, "plate field holds %q instead of %q", value, s.req.Plate)
	}
	s.note("plate entered as %q", value)
	return nil
}

// clickFirst clicks the first of candidates that accepts a click and follows
// any tab it opens.
func (s *session) clickFirst(ctx context.Context, candidates []browser.Element, wait time.Duration, scripted bool) (bool, error) {
	var lastErr error
	for _, c := range candidates {
		_ = s.page().ScrollIntoView(ctx, c.Ref)
		s.pause(ctx, 140*time.Millisecond, 200*time.Millisecond)
		_, err := s.activate(ctx, wait, func(ctx context.Context, page browser.Page) error {
			err := page.Click(ctx, c.Ref)
			if err != nil && scripted {
				return page.ClickJS(ctx, c.Ref)
			}
			return err
		})
		if err == nil {
			return true, nil
		}
		s.note("click on %q failed: %v", htmlutil.Snippet(c.Text, 40), err)
		lastErr = err
	}
	return false, lastErr
}

func (s *session) continueStrategies() []Strategy[bool] {
	return []Strategy[bool]{
		{
			Name: "text",
			Find: func(ctx context.Context) (bool, bool, error) {
				candidates := visibleMatching(s.query(ctx, continueSelector), func(el browser.Element) bool {
					return continueRegex.MatchString(el.Text)
				})
				ok, err := s.clickFirst(ctx, candidates, s.e.timeouts.NewPage, false)
				return ok, ok, err
			},
		},
		{
			Name: "scan",
			Find: func(ctx context.Context) (bool, bool, error) {
				candidates := visibleMatching(s.query(ctx, continueScanSelector), func(el browser.Element) bool {
					return strings.Contains(textutil.NormalizeForMatch(el.Text), "continuer")
				})
				ok, err := s.clickFirst(ctx, candidates, s.e.timeouts.NewPage, true)
				return ok, ok, err
			},
		},
		{
			Name: "enter",
			Find: func(ctx context.Context) (bool, bool, error) {
				if s.plateRef == "" {
					return false, false, nil
				}
				switched, err := s.activate(ctx, s.e.timeouts.NewPage, func(ctx context.Context, page browser.Page) error {
					err := page.Focus(ctx, s.plateRef)
					if err != nil {
						return err
					}
					return page.Press(ctx, browser.KeyEnter)
				})
				if err != nil {
					return false, false, err
				}
				if switched {
					return true, true, nil
				}
				body, ok := firstVisible(s.query(ctx, "body"), nil)
				confirmed := ok && vehicleRegex.MatchString(body.Text)
				return confirmed, confirmed, nil
			},
		},
	}
}

func (s *session) submitContinue(ctx context.Context) *Error {
	s.pause(ctx, 220*time.Millisecond, 300*time.Millisecond)
	_, how, _, ok := FirstMatch(ctx, s.continueStrategies())
	if !ok {
		return fail(ContinueControlNotFound, "no working continue control")
	}
	s.note("continued by %s", how)
	s.pause(ctx, 400*time.Millisecond, 600*time.Millisecond)
	return nil
}

func (s *session) needsVariant() bool {
	if s.req.Service != nil {
		return s.req.Service.RequiresVariant()
	}
	return s.req.Variant != nil && strings.TrimSpace(*s.req.Variant) != ""
}

// pickVariant narrows candidates with the containment filters and takes the
// innermost survivor, falling back to the first candidate, in document order,
// whose text satisfies a token group.
func pickVariant(candidates []browser.Element, filters []*regexp.Regexp, groups []TokenGroup) (browser.Element, string, bool) {
	var best, bestVisible *browser.Element
	for i, c := range candidates {
		if !PassesFilters(c.Text, filters) {
			continue
		}
		if best == nil || len(c.Text) < len(best.Text) {
			best = &candidates[i]
		}
		if c.Visible && (bestVisible == nil || len(c.Text) < len(bestVisible.Text)) {
			bestVisible = &candidates[i]
		}
	}
	if bestVisible != nil {
		return *bestVisible, "filter", true
	}
	if best != nil {
		return *best, "filter", true
	}

	if len(candidates) > variantCandidateCap {
		candidates = candidates[:variantCandidateCap]
	}
	for _, c := range candidates {
		if Match(c.Text, groups) {
			return c, "tokens", true
		}
	}
	return browser.Element{}, "", false
}

func variantSnippets(candidates []browser.Element) []string {
	var out []string
	for _, c := range candidates {
		if len(out) >= variantSnippetCount {
			break
		}
		if c.Text == "" || !c.Visible {
			continue
		}
		out = append(out, htmlutil.Snippet(c.Text, variantSnippetLength))
	}
	return out
}

func (s *session) selectVariant(ctx context.Context) *Error {
	if !s.needsVariant() {
		s.note("no variant to select")
		return nil
	}
	svc := s.req.Service
	target := TargetLabel(svc, s.req.Variant, s.e.labels)
	if target == "" {
		return fail(VariantNotFound, "cannot tell which variant to select")
	}

	s.waitFor(ctx, "label, button", s.e.timeouts.Element)
	s.pause(ctx, 260*time.Millisecond, 400*time.Millisecond)

	candidates, err := s.page().Query(ctx, variantCandidateSelector)
	if err != nil {
		return failWith(VariantNotFound, err, "could not list variant controls")
	}
	choice, how, ok := pickVariant(candidates, BuildFilters(svc, target), BuildMatchers(svc, target))
	if !ok {
		s.tel.ReportWarning(report_engine_variant, target, variantSnippets(candidates))
		return fail(VariantNotFound, "no control matches variant %q", target)
	}

	ref := choice.Ref
	children, err := s.page().QueryWithin(ctx, choice.Ref, variantClickableSelector)
	if err == nil && len(children) > 0 {
		ref = children[0].Ref
	}
	_ = s.page().ScrollIntoView(ctx, ref)
	s.pause(ctx, 180*time.Millisecond, 260*time.Millisecond)

	err = s.clickOrJS(ctx, ref)
	if err != nil {
		return failWith(VariantNotFound, err, "could not click variant %q", target)
	}
	s.note("selected %q by %s", target, how)
	s.pause(ctx, 520*time.Millisecond, 700*time.Millisecond)
	return nil
}

func calculateText(el browser.Element) bool {
	n := textutil.NormalizeForMatch(el.Text)
	return strings.Contains(n, "calculer") ||
		strings.Contains(n, "valider") ||
		(strings.Contains(n, "devis") && strings.Contains(n, "mon"))
}

func (s *session) calculateStrategies() []Strategy[bool] {
	return []Strategy[bool]{
		{
			Name: "text",
			Find: func(ctx context.Context) (bool, bool, error) {
				candidates := visibleMatching(s.query(ctx, calculateSelector), func(el browser.Element) bool {
					return calculateRegex.MatchString(el.Text)
				})
				ok, err := s.clickFirst(ctx, candidates, s.e.timeouts.Poll, false)
				return ok, ok, err
			},
		},
		{
			Name: "scan",
			Find: func(ctx context.Context) (bool, bool, error) {
				candidates := visibleMatching(s.query(ctx, calculateScanSelector), calculateText)
				// innermost first, wrappers carry the same text
				sort.SliceStable(candidates, func(i, j int) bool {
					return len(candidates[i].Text) < len(candidates[j].Text)
				})
				ok, err := s.clickFirst(ctx, candidates, s.e.timeouts.Poll, true)
				return ok, ok, err
			},
		},
	}
}

func (s *session) calculate(ctx context.Context) *Error {
	_, how, _, ok := FirstMatch(ctx, s.calculateStrategies())
	if !ok {
		return fail(CalculateControlNotFound, "no working calculate control")
	}
	s.note("calculation triggered by %s", how)
	s.pause(ctx, 1800*time.Millisecond, 2200*time.Millisecond)
	return nil
}

func (s *session) priceStrategies() []Strategy[float64] {
	return []Strategy[float64]{
		{
			Name: "selectors",
			Find: func(ctx context.Context) (float64, bool, error) {
				for _, sel := range priceSelectors {
					for _, el := range s.query(ctx, sel) {
						if !el.Visible {
							continue
						}
						if price, ok := FirstPrice(el.Text); ok {
							return price, true, nil
						}
					}
				}
				for _, el := range s.query(ctx, "span, div, p") {
					if !el.Visible || !strings.Contains(el.Text, "€") {
						continue
					}
					if price, ok := FirstPrice(el.Text); ok {
						return price, true, nil
					}
				}
				return 0, false, nil
			},
		},
		{
			Name: "page-max",
			Find: func(ctx context.Context) (float64, bool, error) {
				markup, err := s.page().HTML(ctx)
				if err != nil {
					return 0, false, err
				}
				price, ok := MaxPriceInHTML(markup)
				return price, ok, nil
			},
		},
	}
}

func (s *session) extractPrice(ctx context.Context) (Quote, *Error) {
	s.waitFor(ctx, priceReadySelector, s.e.timeouts.Element)
	s.pause(ctx, 900*time.Millisecond, 1200*time.Millisecond)

	price, how, _, ok := FirstMatch(ctx, s.priceStrategies())
	if !ok {
		return Quote{}, fail(PriceNotFound, "no price between %.0f and %.0f € on the page", MinPrice, MaxPrice)
	}
	url, err := s.page().URL(ctx)
	if err != nil {
		s.note("could not read the page url: %v", err)
	}
	s.note("price %.2f found by %s", price, how)
	return Quote{
		Price:     price,
		RemoteURL: url,
		SessionID: s.id,
		Strategy:  how,
	}, nil
}
