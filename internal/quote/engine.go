// Package quote drives the remote quoting form: it enters a plate, picks the
// right variant, asks for the quote and reads the total back.
package quote

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"autoquote-backend/internal/browser"
	"autoquote-backend/internal/catalog"
	"autoquote-backend/internal/components/assert"
	"autoquote-backend/internal/components/telemetry"
	"autoquote-backend/lib/util/fsutil"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("autoquote/internal/quote")

const (
	report_engine_quote    = "engine.quote"
	report_engine_variant  = "engine.variant"
	report_engine_teardown = "engine.teardown"
)

type Timeouts struct {
	// Navigate bounds the initial page load.
	Navigate time.Duration
	// Element bounds waits for controls to show up.
	Element time.Duration
	// NewPage is how long a click is watched for opening a new tab.
	NewPage time.Duration
	Poll    time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Navigate: 30 * time.Second,
		Element:  4 * time.Second,
		NewPage:  6 * time.Second,
		Poll:     250 * time.Millisecond,
	}
}

// Request is one quote to obtain.
type Request struct {
	Plate   string
	FormURL string
	Service *catalog.ServiceDescriptor
	// Variant is the caller's variant, either a selection slug or a label.
	Variant *string
}

// Descriptors finds a service by id, alias, selection slug or form url.
type Descriptors interface {
	Resolve(key string) (*catalog.ServiceDescriptor, bool)
}

type Quote struct {
	Price     float64
	RemoteURL string
	SessionID string
	// Strategy names the extraction strategy that found the price.
	Strategy string
}

type implementationCfg struct {
	tel       telemetry.API
	pacer     Pacer
	timeouts  Timeouts
	artifacts fsutil.Output
	linger    time.Duration
}

type ImplementationOption func(cfg *implementationCfg)

func WithCustomTelemetryAPI(tel telemetry.API) ImplementationOption {
	return func(cfg *implementationCfg) {
		cfg.tel = tel
	}
}

func WithPacer(pacer Pacer) ImplementationOption {
	return func(cfg *implementationCfg) {
		cfg.pacer = pacer
	}
}

func WithTimeouts(timeouts Timeouts) ImplementationOption {
	return func(cfg *implementationCfg) {
		cfg.timeouts = timeouts
	}
}

// WithArtifacts makes failed sessions leave a screenshot and an html dump
// behind.
func WithArtifacts(out fsutil.Output) ImplementationOption {
	return func(cfg *implementationCfg) {
		cfg.artifacts = out
	}
}

// WithLinger keeps the browser open for d after every session.
func WithLinger(d time.Duration) ImplementationOption {
	return func(cfg *implementationCfg) {
		cfg.linger = d
	}
}

// Engine runs quoting sessions, each in its own browser.
type Engine struct {
	launcher  browser.Launcher
	labels    SelectionLabels
	tel       telemetry.API
	pacer     Pacer
	timeouts  Timeouts
	artifacts fsutil.Output
	linger    time.Duration
	fallback  atomic.Int64
}

func NewEngine(launcher browser.Launcher, labels SelectionLabels, options ...ImplementationOption) *Engine {
	assert.NotNil(launcher)

	cfg := implementationCfg{
		tel:      telemetry.SlogAPI{},
		pacer:    JitterPacer{},
		timeouts: DefaultTimeouts(),
	}
	for _, opt := range options {
		opt(&cfg)
	}

	return &Engine{
		launcher:  launcher,
		labels:    labels,
		tel:       telemetry.NewScopedAPI("quote", cfg.tel),
		pacer:     cfg.pacer,
		timeouts:  cfg.timeouts,
		artifacts: cfg.artifacts,
		linger:    cfg.linger,
	}
}

func (e *Engine) sessionID() string {
	id, err := random.String(10)
	if err != nil {
		return "s" + strconv.FormatInt(e.fallback.Add(1), 10)
	}
	return id
}

// describe fills in the service of a request that only names a selection slug
// or a form url.
func (e *Engine) describe(req Request) *catalog.ServiceDescriptor {
	if req.Service != nil {
		return req.Service
	}
	descriptors, ok := e.labels.(Descriptors)
	if !ok {
		return nil
	}
	if req.Variant != nil {
		if svc, ok := descriptors.Resolve(*req.Variant); ok {
			return svc
		}
	}
	if svc, ok := descriptors.Resolve(req.FormURL); ok {
		return svc
	}
	return nil
}

// Quote runs one complete session. The browser is always torn down, failures
// come back as *Error.
func (e *Engine) Quote(ctx context.Context, req Request) (Quote, error) {
	if req.Service == nil {
		req.Service = e.describe(req)
		if req.Service != nil {
			e.tel.ReportDebug("resolved service", req.Service.ID, req.FormURL)
		}
	}
	s := &session{
		id:  e.sessionID(),
		e:   e,
		req: req,
	}
	s.tel = telemetry.NewScopedAPI(s.id, e.tel)

	ctx, span := tracer.Start(ctx, "engine:quote", trace.WithAttributes(
		attribute.String("custom.session_id", s.id),
		attribute.String("custom.form_url", req.FormURL),
	))
	defer span.End()
	if req.Service != nil {
		span.SetAttributes(attribute.String("custom.service_id", req.Service.ID))
	}

	q, qerr := s.run(ctx)
	if qerr != nil {
		span.RecordError(qerr)
		span.SetStatus(codes.Error, string(qerr.Kind))
		e.tel.ReportWarning(report_engine_quote, s.id, qerr.Step, qerr.Kind, qerr.Error(), s.notes)
		return Quote{}, qerr
	}
	span.SetAttributes(attribute.Float64("custom.price", q.Price))
	return q, nil
}

// session is the state of one attempt.
type session struct {
	id    string
	e     *Engine
	req   Request
	tel   telemetry.API
	sess  browser.Session
	step  Step
	notes []string

	plateRef string
}

func (s *session) page() browser.Page {
	return s.sess.Page()
}

func (s *session) note(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.notes = append(s.notes, fmt.Sprintf("%s: %s", s.step, msg))
	s.tel.ReportDebug(msg, s.step)
}

func (s *session) pause(ctx context.Context, min, max time.Duration) {
	_ = s.e.pacer.Pause(ctx, min, max)
}

func (s *session) run(ctx context.Context) (Quote, *Error) {
	if s.req.FormURL == "" {
		return Quote{}, &Error{Kind: ConfigurationMissing, Step: StepNavigate, Message: "no remote form url"}
	}
	if strings.TrimSpace(s.req.Plate) == "" {
		return Quote{}, &Error{Kind: ConfigurationMissing, Step: StepEnterPlate, Message: "no plate to enter"}
	}

	s.step = StepLaunch
	sess, err := s.e.launcher.Launch(ctx)
	if err != nil {
		return Quote{}, &Error{Kind: RemoteNavigationFailed, Step: StepLaunch, Message: "could not start a browser", Err: err}
	}
	s.sess = sess
	defer s.teardown(ctx)

	steps := []struct {
		step Step
		fn   func(ctx context.Context) *Error
	}{
		{StepNavigate, s.navigate},
		{StepAcceptCookies, s.acceptCookies},
		{StepLocatePlate, s.locatePlate},
		{StepEnterPlate, s.enterPlate},
		{StepSubmitContinue, s.submitContinue},
		{StepSelectVariant, s.selectVariant},
		{StepCalculate, s.calculate},
	}
	for _, st := range steps {
		qerr := s.do(ctx, st.step, st.fn)
		if qerr != nil {
			s.capture(ctx)
			return Quote{}, qerr
		}
		// popups may show up after any transition
		s.dismissObstacles(ctx)
	}

	var q Quote
	qerr := s.do(ctx, StepExtractPrice, func(ctx context.Context) *Error {
		var perr *Error
		q, perr = s.extractPrice(ctx)
		return perr
	})
	if qerr != nil {
		s.capture(ctx)
		return Quote{}, qerr
	}
	return q, nil
}

// do runs a step inside its own span and stamps failures with the step.
func (s *session) do(ctx context.Context, step Step, fn func(ctx context.Context) *Error) *Error {
	s.step = step
	ctx, span := tracer.Start(ctx, "engine:"+string(step))
	defer span.End()

	s.tel.ReportDebug("step", step)
	qerr := fn(ctx)
	if qerr == nil && ctx.Err() != nil {
		qerr = failWith(RemoteNavigationFailed, ctx.Err(), "session interrupted")
	}
	if qerr != nil {
		if qerr.Step == "" {
			qerr.Step = step
		}
		span.RecordError(qerr)
		span.SetStatus(codes.Error, string(qerr.Kind))
		return qerr
	}
	return nil
}

// capture leaves a screenshot and the page source of a failed session behind.
func (s *session) capture(ctx context.Context) {
	if s.e.artifacts == nil || s.sess == nil {
		return
	}
	page := s.page()
	name := fmt.Sprintf("%s-%s", s.id, s.step)
	if shot, err := page.Screenshot(ctx); err == nil {
		s.e.artifacts.Write(name+".png", shot)
	}
	if markup, err := page.HTML(ctx); err == nil {
		s.e.artifacts.Write(name+".html", []byte(markup))
	}
}

func (s *session) teardown(ctx context.Context) {
	s.step = StepTeardown
	if s.e.linger > 0 {
		timer := time.NewTimer(s.e.linger)
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		timer.Stop()
	}
	err := s.sess.Close()
	if err != nil {
		s.tel.ReportWarning(report_engine_teardown, err)
	}
}
