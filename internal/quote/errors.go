package quote

import (
	"fmt"
)

type ErrorKind string

const (
	ConfigurationMissing     ErrorKind = "ConfigurationMissing"
	ScrapingDisabled         ErrorKind = "ScrapingDisabled"
	PlateFieldNotFound       ErrorKind = "PlateFieldNotFound"
	PlateMismatch            ErrorKind = "PlateMismatch"
	ContinueControlNotFound  ErrorKind = "ContinueControlNotFound"
	VariantNotFound          ErrorKind = "VariantNotFound"
	CalculateControlNotFound ErrorKind = "CalculateControlNotFound"
	PriceNotFound            ErrorKind = "PriceNotFound"
	RemoteNavigationFailed   ErrorKind = "RemoteNavigationFailed"
	CacheUnavailable         ErrorKind = "CacheUnavailable"
)

// Step names a state of a quoting session.
type Step string

const (
	StepLaunch           Step = "launch"
	StepNavigate         Step = "navigate"
	StepDismissObstacles Step = "dismiss-obstacles"
	StepAcceptCookies    Step = "accept-cookies"
	StepLocatePlate      Step = "locate-plate-field"
	StepEnterPlate       Step = "enter-plate"
	StepSubmitContinue   Step = "submit-continue"
	StepSelectVariant    Step = "select-variant"
	StepCalculate        Step = "trigger-calculation"
	StepExtractPrice     Step = "extract-price"
	StepTeardown         Step = "teardown"
)

// Error is a failed quoting session.
type Error struct {
	Kind    ErrorKind
	Step    Step
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Step != "" {
		msg = fmt.Sprintf("%s: %s", e.Step, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func fail(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func failWith(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}
