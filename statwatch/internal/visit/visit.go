// Package visit provides isolated page visits: a page is opened against a
// URL, a script is injected once into it, and the visit is destroyed by
// handle. Two hosts are available: a headless Chrome driven by Rod, and a
// plain HTTP fetch for dashboards rendered server-side.
package visit

import (
	"context"
	"errors"

	"golang.org/x/net/html"
)

// ErrClosed is returned by Page.Document once the visit is torn down.
var ErrClosed = errors.New("visit: closed")

// Page is the view an injected script has of the visited document.
type Page interface {
	// Document captures the current rendered DOM.
	Document(ctx context.Context) (*html.Node, error)
	URL() string
}

// Script runs once inside a visit. Its context is cancelled when the visit
// is closed.
type Script func(ctx context.Context, page Page)

// Visit is one opened page.
type Visit interface {
	ID() string
	// Inject starts script asynchronously and returns immediately.
	Inject(ctx context.Context, script Script)
	// Close destroys the page. Safe to call more than once.
	Close() error
}

// Host creates visits.
type Host interface {
	Open(ctx context.Context, url string) (Visit, error)
	Close() error
}
