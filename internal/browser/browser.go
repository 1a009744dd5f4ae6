// Package browser is the narrow view of a web browser that quoting sessions
// are written against.
package browser

import (
	"context"
	"time"
)

// Element is a snapshot of a DOM element taken when it was queried. Ref stays
// valid for as long as the element stays in the document.
type Element struct {
	Ref         string `json:"ref"`
	Tag         string `json:"tag"`
	ID          string `json:"id"`
	Type        string `json:"type"`
	Text        string `json:"text"`
	Value       string `json:"value"`
	Placeholder string `json:"placeholder"`
	Visible     bool   `json:"visible"`
}

type Key string

const (
	KeyEnter     Key = "Enter"
	KeyDelete    Key = "Delete"
	KeyBackspace Key = "Backspace"
	// KeySelectAll is ctrl+a.
	KeySelectAll Key = "SelectAll"
)

// Page is one browser tab.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)

	// Query returns every element matching a CSS selector, in document order.
	Query(ctx context.Context, selector string) ([]Element, error)
	// QueryWithin is Query restricted to the descendants of ref.
	QueryWithin(ctx context.Context, ref, selector string) ([]Element, error)
	Parent(ctx context.Context, ref string) (Element, error)

	// Click performs a real mouse click, it fails on elements that cannot
	// receive one.
	Click(ctx context.Context, ref string) error
	// ClickJS calls the element's click() method.
	ClickJS(ctx context.Context, ref string) error
	// SelectText selects the whole contents of a field the way a triple click does.
	SelectText(ctx context.Context, ref string) error
	Focus(ctx context.Context, ref string) error
	ScrollIntoView(ctx context.Context, ref string) error
	Value(ctx context.Context, ref string) (string, error)
	// Press sends a key to the focused element.
	Press(ctx context.Context, key Key) error
	// Type sends text to the focused element as key presses.
	Type(ctx context.Context, text string) error
	// Dispatch fires bubbling DOM events of the given types on ref.
	Dispatch(ctx context.Context, ref string, events ...string) error

	HTML(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// Session is one browser instance, it may own several tabs but only one is
// current at a time.
type Session interface {
	Page() Page
	// Activate runs action against the current page, then waits up to wait for
	// the action to open a new tab. When one opens it becomes the current page
	// and switched is true.
	Activate(ctx context.Context, wait time.Duration, action func(ctx context.Context, page Page) error) (switched bool, err error)
	Close() error
}

// Launcher starts independent sessions.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}
