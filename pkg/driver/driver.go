// Package driver defines the boundary to the browser automation surface.
//
// The engine never talks to a browser library directly; it goes through the
// Driver interface so the healing orchestrator can be exercised against mock
// drivers in tests and so the underlying automation library stays swappable.
// Driver errors are classified into a small set of kinds (not found, timeout,
// detached) that the orchestrator inspects to pick a recovery path.
package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the failure kinds the orchestrator distinguishes.
// Implementations wrap these with %w so errors.Is works across the boundary.
var (
	// ErrNotFound indicates no element matched the locator
	ErrNotFound = errors.New("element not found")

	// ErrTimeout indicates a bounded wait elapsed before the operation completed
	ErrTimeout = errors.New("operation timed out")

	// ErrDetached indicates the element left the DOM between locate and action
	ErrDetached = errors.New("element detached from page")
)

// Handle is a resolved reference to a single page element.
//
// A handle is only valid until the page mutates; actions on a stale handle
// return ErrDetached.
type Handle interface {
	// Click clicks the element
	Click(ctx context.Context) error

	// Fill replaces the element's value with the given text
	Fill(ctx context.Context, value string) error

	// Text returns the element's text content
	Text(ctx context.Context) (string, error)
}

// Driver is the browser automation surface the engine drives.
//
// All methods honor context cancellation and apply the implementation's
// configured timeout; none of them block indefinitely.
type Driver interface {
	// Navigate loads the given URL in the current tab
	Navigate(ctx context.Context, url string) error

	// Locate resolves a locator string to an element handle. A locator that
	// matches nothing returns an error wrapping ErrNotFound.
	Locate(ctx context.Context, locator string) (Handle, error)

	// Snapshot captures the page's accessibility tree as raw JSON
	Snapshot(ctx context.Context) (json.RawMessage, error)

	// Screenshot captures the current viewport as PNG bytes
	Screenshot(ctx context.Context) ([]byte, error)

	// PageURL returns the URL of the current page
	PageURL() string

	// PageHTML returns the current page's HTML source
	PageHTML(ctx context.Context) (string, error)

	// WaitVisible blocks until the locator resolves to a visible element
	WaitVisible(ctx context.Context, locator string) error

	// NewTab opens a new tab and makes it current
	NewTab(ctx context.Context, url string) error

	// SwitchTab makes the tab at the given index current
	SwitchTab(ctx context.Context, index int) error

	// Close releases the session and all browser resources
	Close() error
}

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTimeout reports whether err is a timeout failure.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsDetached reports whether err is a detached-element failure.
func IsDetached(err error) bool {
	return errors.Is(err, ErrDetached)
}

// Classify wraps a raw automation-library error with the matching sentinel,
// based on the error text conventions the library uses. Errors that already
// wrap a sentinel pass through unchanged; unrecognized errors are returned
// as-is.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || IsTimeout(err) || IsDetached(err) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return fmt.Errorf("%w: %s", ErrTimeout, err.Error())
	case strings.Contains(msg, "not attached") || strings.Contains(msg, "detached"):
		return fmt.Errorf("%w: %s", ErrDetached, err.Error())
	case strings.Contains(msg, "no element") ||
		strings.Contains(msg, "not found") ||
		strings.Contains(msg, "failed to find") ||
		strings.Contains(msg, "resolved to 0"):
		return fmt.Errorf("%w: %s", ErrNotFound, err.Error())
	default:
		return err
	}
}
