package quote

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"autoquote-backend/internal/browser/browsertest"
	"autoquote-backend/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

const formURL = "https://quote.test/devis/plaquettes"

const vehicleScreen = `<html><body>
<div id="cookies"><p>Nous utilisons des cookies.</p><button id="accept-cookies">Accepter et continuer</button></div>
<div class="swal2-container"><div class="swal2-actions"><button class="swal2-confirm">OK</button></div></div>
<form>
	<label>Immatriculation <input type="radio" name="mode" id="mode-plate"></label>
	<div class="plate"><span>Mon numéro de plaque</span><input id="plate" name="plate" placeholder="AB123CD" value=""></div>
	<button type="button" id="continue">Continuer</button>
</form>
</body></html>`

const brakeScreen = `<html><body>
<h2>Votre véhicule : RENAULT CLIO</h2>
<div class="panel"><div class="panel-body">
	<label class="option"><input type="radio" name="v" value="avant" style="display: none"> Plaquette avant</label>
	<label class="option"><input type="radio" name="v" value="arriere" style="display: none"> Plaquette arrière</label>
	<label class="option"><input type="radio" name="v" value="deux" style="display: none"> Les deux</label>
</div></div>
<button id="calc" class="btn">Calculer mon devis</button>
</body></html>`

const priceScreen = `<html><body>
<div class="recap"><p>Votre devis</p><span class="price-total">189,90 €</span></div>
<p>Dont frais de dossier 2,50 €</p>
</body></html>`

type memoryOutput struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *memoryOutput) Write(name string, contents []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = map[string][]byte{}
	}
	m.files[name] = contents
}

func (m *memoryOutput) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for name := range m.files {
		out = append(out, name)
	}
	return out
}

func testTimeouts() Timeouts {
	return Timeouts{
		Navigate: time.Second,
		Element:  20 * time.Millisecond,
		NewPage:  20 * time.Millisecond,
		Poll:     5 * time.Millisecond,
	}
}

func newTestEngine(t *testing.T, l *browsertest.Launcher, options ...ImplementationOption) (*Engine, *telemetry.Recorder) {
	t.Helper()
	rec := telemetry.NewRecorder()
	base := []ImplementationOption{
		WithCustomTelemetryAPI(rec),
		WithPacer(NoPacer{}),
		WithTimeouts(testTimeouts()),
	}
	return NewEngine(l, testCatalog(t), append(base, options...)...), rec
}

func kindOf(t *testing.T, err error) *Error {
	t.Helper()
	var qerr *Error
	require.True(t, errors.As(err, &qerr), "expected *quote.Error, got %v", err)
	return qerr
}

func brakeSite(chosen *string) browsertest.Site {
	return browsertest.Site{
		Pages: map[string]string{formURL: vehicleScreen},
		Rules: []browsertest.Rule{
			{Selector: ".swal2-confirm", Do: func(p *browsertest.Page) { p.Remove(".swal2-container") }},
			{Selector: "#accept-cookies", Do: func(p *browsertest.Page) { p.Remove("#cookies") }},
			{Selector: "#continue", Do: func(p *browsertest.Page) { p.Load(brakeScreen) }},
			{Selector: `input[name="v"]`, Do: func(p *browsertest.Page) {
				*chosen = p.Find(`input[name="v"][checked]`).AttrOr("value", "")
			}},
			{Selector: "#calc", Do: func(p *browsertest.Page) { p.Load(priceScreen) }},
		},
		Format: func(value string) string {
			v := NormalizePlate(value)
			if len(v) != 7 {
				return value
			}
			return v[:2] + "-" + v[2:5] + "-" + v[5:]
		},
	}
}

func TestQuoteFullFlow(t *testing.T) {
	chosen := ""
	l := browsertest.NewLauncher(brakeSite(&chosen))
	engine, rec := newTestEngine(t, l)
	c := testCatalog(t)

	q, err := engine.Quote(context.Background(), Request{
		Plate:   "ab123cd",
		FormURL: formURL,
		Service: service(t, c, "plaquettes-avant"),
	})
	require.NoError(t, err)
	require.Equal(t, 189.9, q.Price)
	require.Equal(t, "selectors", q.Strategy)
	require.Equal(t, formURL, q.RemoteURL)
	require.NotEmpty(t, q.SessionID)
	require.Equal(t, "avant", chosen)

	require.Equal(t, 1, l.Launched())
	require.Equal(t, 1, l.Closed())

	page := l.LastSession().Current()
	require.Contains(t, page.Clicks(), "OK")
	require.Contains(t, page.Clicks(), "Accepter et continuer")
	require.Contains(t, page.Clicks(), "Calculer mon devis")

	// obstacle handling is silent
	require.Empty(t, rec.Reports(telemetry.KindBroken))
	require.Empty(t, rec.Reports(telemetry.KindWarning))
}

func TestQuoteDismissesPopupsAfterEveryStep(t *testing.T) {
	chosen := ""
	site := brakeSite(&chosen)
	// accepting cookies reloads the form, popup included
	site.Rules[1] = browsertest.Rule{Selector: "#accept-cookies", Do: func(p *browsertest.Page) {
		p.Load(strings.Replace(vehicleScreen,
			`<div id="cookies"><p>Nous utilisons des cookies.</p><button id="accept-cookies">Accepter et continuer</button></div>`,
			"", 1))
	}}
	l := browsertest.NewLauncher(site)
	engine, _ := newTestEngine(t, l)

	_, err := engine.Quote(context.Background(), Request{
		Plate:   "AB123CD",
		FormURL: formURL,
		Service: service(t, testCatalog(t), "plaquettes-avant"),
	})
	require.NoError(t, err)

	clicks := l.LastSession().Current().Clicks()
	cont := slices.Index(clicks, "Continuer")
	require.Positive(t, cont)
	dismissed := 0
	for _, c := range clicks[:cont] {
		if c == "OK" {
			dismissed++
		}
	}
	require.Equal(t, 2, dismissed)
}

func TestQuoteResolvesServiceFromSelection(t *testing.T) {
	chosen := ""
	l := browsertest.NewLauncher(brakeSite(&chosen))
	engine, rec := newTestEngine(t, l)

	variant := "plaquettes-arriere"
	q, err := engine.Quote(context.Background(), Request{
		Plate:   "AB123CD",
		FormURL: formURL,
		Variant: &variant,
	})
	require.NoError(t, err)
	require.Equal(t, 189.9, q.Price)
	require.Equal(t, "arriere", chosen)

	var resolved []any
	for _, r := range rec.Reports(telemetry.KindDebug) {
		if strings.HasSuffix(r.ID, "resolved service") {
			resolved = r.Params
		}
	}
	require.NotEmpty(t, resolved)
	require.Equal(t, "plaquettes-arriere", resolved[0])
}

func TestQuoteFollowsNewTab(t *testing.T) {
	chosen := ""
	restored := false
	site := brakeSite(&chosen)

	const modalScreen = `<html><body>
<midas-wrong-plate-number-modal><div class="modal-content"><p>Plaque inconnue ?</p><button class="midas-btn">Compris</button></div></midas-wrong-plate-number-modal>
<input type="checkbox" id="displayPlateSection">
<div class="choices">
	<div class="card"><a href="#">Plaquette avant</a></div>
	<div class="card"><a href="#" id="rear">Plaquette arrière</a></div>
</div>
<div class="button-calculate" id="calc">Je calcule</div>
</body></html>`

	site.Rules = append(site.Rules,
		browsertest.Rule{Selector: "#continue", Do: func(p *browsertest.Page) {
			p.OpenTab(formURL+"/vehicule", modalScreen)
		}},
		browsertest.Rule{Selector: ".midas-btn", Do: func(p *browsertest.Page) {
			p.Remove("midas-wrong-plate-number-modal")
		}},
		browsertest.Rule{Selector: "#displayPlateSection", Do: func(p *browsertest.Page) {
			restored = true
		}},
		browsertest.Rule{Selector: "#rear", Do: func(p *browsertest.Page) { chosen = "arriere" }},
	)
	// the new tab replaces the same-tab load
	site.Rules = append(site.Rules[:2], site.Rules[3:]...)

	l := browsertest.NewLauncher(site)
	engine, rec := newTestEngine(t, l)
	c := testCatalog(t)

	q, err := engine.Quote(context.Background(), Request{
		Plate:   "AB-123-CD",
		FormURL: formURL,
		Service: service(t, c, "plaquettes-arriere"),
	})
	require.NoError(t, err)
	require.Equal(t, 189.9, q.Price)
	require.Equal(t, formURL+"/vehicule", q.RemoteURL)
	require.Equal(t, "arriere", chosen)
	require.True(t, restored)
	require.Equal(t, 1, l.LastSession().Tabs())
	require.Empty(t, rec.Reports(telemetry.KindBroken))
}

func TestQuoteFallbackStrategies(t *testing.T) {
	const plateScreen = `<html><body>
<div><span>Mon numéro de plaque</span><input id="plate" value="AB-123-CD"></div>
</body></html>`

	const batteryScreen = `<html><body>
<h2>Votre véhicule</h2>
<button class="choice" id="without">Je n'ai pas le start &amp; stop</button>
<button class="choice" id="with">J'ai le start &amp; stop</button>
<div class="cta"><span>Valider</span></div>
</body></html>`

	const tableScreen = `<html><body>
<table>
	<tr><td>Batterie</td><td>80,00 €</td></tr>
	<tr><td>Total TTC</td><td>210,40 €</td></tr>
</table>
</body></html>`

	chosen := ""
	site := browsertest.Site{
		Pages:           map[string]string{formURL: plateScreen},
		IgnoreSelectAll: true,
		OnEnter:         func(p *browsertest.Page) { p.Load(batteryScreen) },
		Rules: []browsertest.Rule{
			{Selector: "#with", Do: func(p *browsertest.Page) { chosen = "with" }},
			{Selector: "#without", Do: func(p *browsertest.Page) { chosen = "without" }},
			{Selector: ".cta", Do: func(p *browsertest.Page) { p.Load(tableScreen) }},
		},
	}
	l := browsertest.NewLauncher(site)
	engine, _ := newTestEngine(t, l)
	c := testCatalog(t)

	q, err := engine.Quote(context.Background(), Request{
		Plate:   "GH456JK",
		FormURL: formURL,
		Service: service(t, c, "batterie"),
		Variant: ptr("batterie-avec-start-stop"),
	})
	require.NoError(t, err)
	require.Equal(t, "with", chosen)
	require.Equal(t, 210.4, q.Price)
	require.Equal(t, "page-max", q.Strategy)
}

func TestQuotePlateEvents(t *testing.T) {
	chosen := ""
	l := browsertest.NewLauncher(brakeSite(&chosen))
	engine, _ := newTestEngine(t, l)
	c := testCatalog(t)

	_, err := engine.Quote(context.Background(), Request{
		Plate:   "AB123CD",
		FormURL: formURL,
		Service: service(t, c, "plaquettes-avant"),
	})
	require.NoError(t, err)

	// events survive document loads within the tab
	events := strings.Join(l.LastSession().Current().Events(), " ")
	for _, ev := range []string{"plate:focus", "plate:input", "plate:keyup", "plate:change", "plate:blur"} {
		require.Contains(t, events, ev)
	}
}

func TestQuoteFailures(t *testing.T) {
	c := testCatalog(t)

	const noPlate = `<html><body><p>Maintenance</p></body></html>`
	const noContinue = `<html><body><input id="plate" placeholder="AB123CD"></body></html>`
	const noCalculate = `<html><body><input id="plate" placeholder="AB123CD"><button id="go">Continuer</button></body></html>`
	const noPrice = `<html><body><p>Devis indisponible</p><p>Appelez le 0,00 €</p></body></html>`

	calculateScreen := `<html><body><button id="calc">Calculer</button></body></html>`

	cases := []struct {
		name    string
		site    browsertest.Site
		service string
		kind    ErrorKind
		step    Step
	}{
		{
			name:    "unreachable form",
			site:    browsertest.Site{Pages: map[string]string{}},
			service: "embrayage",
			kind:    RemoteNavigationFailed,
			step:    StepNavigate,
		},
		{
			name:    "no plate field",
			site:    browsertest.Site{Pages: map[string]string{formURL: noPlate}},
			service: "embrayage",
			kind:    PlateFieldNotFound,
			step:    StepLocatePlate,
		},
		{
			name: "plate rewritten",
			site: browsertest.Site{
				Pages:  map[string]string{formURL: noContinue},
				Format: func(string) string { return "ZZ-999-ZZ" },
			},
			service: "embrayage",
			kind:    PlateMismatch,
			step:    StepEnterPlate,
		},
		{
			name:    "no continue control",
			site:    browsertest.Site{Pages: map[string]string{formURL: noContinue}},
			service: "embrayage",
			kind:    ContinueControlNotFound,
			step:    StepSubmitContinue,
		},
		{
			name: "variant missing",
			site: browsertest.Site{
				Pages: map[string]string{formURL: noCalculate},
				Rules: []browsertest.Rule{{Selector: "#go", Do: func(p *browsertest.Page) { p.Load(calculateScreen) }}},
			},
			service: "disques-avant",
			kind:    VariantNotFound,
			step:    StepSelectVariant,
		},
		{
			name: "no calculate control",
			site: browsertest.Site{
				Pages: map[string]string{formURL: noCalculate},
				Rules: []browsertest.Rule{{Selector: "#go", Do: func(p *browsertest.Page) { p.Load(noPlate) }}},
			},
			service: "embrayage",
			kind:    CalculateControlNotFound,
			step:    StepCalculate,
		},
		{
			name: "no price",
			site: browsertest.Site{
				Pages: map[string]string{formURL: noCalculate},
				Rules: []browsertest.Rule{
					{Selector: "#go", Do: func(p *browsertest.Page) { p.Load(calculateScreen) }},
					{Selector: "#calc", Do: func(p *browsertest.Page) { p.Load(noPrice) }},
				},
			},
			service: "embrayage",
			kind:    PriceNotFound,
			step:    StepExtractPrice,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := browsertest.NewLauncher(tc.site)
			artifacts := &memoryOutput{}
			engine, rec := newTestEngine(t, l, WithArtifacts(artifacts))

			_, err := engine.Quote(context.Background(), Request{
				Plate:   "AB123CD",
				FormURL: formURL,
				Service: service(t, c, tc.service),
			})
			require.Error(t, err)
			qerr := kindOf(t, err)
			require.Equal(t, tc.kind, qerr.Kind)
			require.Equal(t, tc.step, qerr.Step)
			require.Contains(t, err.Error(), string(tc.step))

			require.Equal(t, 1, l.Closed(), "teardown always runs")
			require.True(t, rec.Has(telemetry.KindWarning, report_engine_quote))
			require.Len(t, artifacts.names(), 2)
			if tc.kind == VariantNotFound {
				require.True(t, rec.Has(telemetry.KindWarning, report_engine_variant))
			}
		})
	}
}

func TestQuoteRejectsBeforeLaunch(t *testing.T) {
	l := browsertest.NewLauncher(browsertest.Site{})
	engine, _ := newTestEngine(t, l)

	_, err := engine.Quote(context.Background(), Request{Plate: "AB123CD"})
	require.Equal(t, ConfigurationMissing, kindOf(t, err).Kind)

	_, err = engine.Quote(context.Background(), Request{FormURL: formURL})
	require.Equal(t, ConfigurationMissing, kindOf(t, err).Kind)

	require.Equal(t, 0, l.Launched())
}

func TestQuoteLaunchFailure(t *testing.T) {
	l := browsertest.NewLauncher(browsertest.Site{})
	l.LaunchErr = errors.New("chrome not found")
	engine, _ := newTestEngine(t, l)

	_, err := engine.Quote(context.Background(), Request{Plate: "AB123CD", FormURL: formURL})
	qerr := kindOf(t, err)
	require.Equal(t, RemoteNavigationFailed, qerr.Kind)
	require.Equal(t, StepLaunch, qerr.Step)
	require.ErrorContains(t, err, "chrome not found")
}

func TestJitterPacer(t *testing.T) {
	ctx := context.Background()
	start := time.Now()
	require.NoError(t, JitterPacer{}.Pause(ctx, time.Millisecond, 3*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), time.Millisecond)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.ErrorIs(t, JitterPacer{}.Pause(cancelled, time.Hour, time.Hour), context.Canceled)
}
