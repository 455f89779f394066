// Package llm defines the boundary to the external language model service
// used by the vision-assisted and code-regeneration healing tiers.
//
// The boundary is deliberately narrow and structured: the service returns
// typed candidate objects, never free text for the caller to scrape. Any
// response that does not conform, along with transport errors and timeouts,
// surfaces as ErrUnavailable, which healing tiers treat as a soft failure
// and skip past.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the language model service could not produce a
// usable structured response. It covers transport errors, timeouts, and
// non-conforming output alike; callers never retry within the same tier.
var ErrUnavailable = errors.New("language model service unavailable")

// SuggestRequest asks the service for a locator matching a described element
// on the current page.
type SuggestRequest struct {
	// Description is the natural language description of the element
	Description string

	// PageContext is a cleaned, token-budgeted rendering of the page
	PageContext string

	// Screenshot optionally carries PNG bytes for vision-capable models
	Screenshot []byte

	// FailedLocator is the locator that stopped working, for contrast
	FailedLocator string

	// ErrorText is the failure message from the last attempt
	ErrorText string
}

// Suggestion is a structured locator proposal from the service.
type Suggestion struct {
	// Locator is a resolvable locator string
	Locator string `json:"locator"`

	// Confidence is the service's own estimate in [0.0, 1.0]
	Confidence float64 `json:"confidence"`

	// Reason is a short explanation, for the healing attempt history
	Reason string `json:"reason,omitempty"`
}

// RegenerateRequest asks the service to rewrite a failing generated code
// fragment.
type RegenerateRequest struct {
	// Fragment is the original code fragment that failed
	Fragment string

	// ErrorText is the failure it produced
	ErrorText string

	// PageContext is a cleaned, token-budgeted rendering of the page
	PageContext string
}

// Regenerated is a structured replacement fragment from the service.
type Regenerated struct {
	// Fragment is the rewritten code fragment
	Fragment string `json:"fragment"`

	// Explanation is a short note on what changed
	Explanation string `json:"explanation,omitempty"`
}

// Service is the language model boundary.
//
// Both calls are bounded: implementations apply their configured timeout and
// honor context cancellation. Errors other than cancellation wrap
// ErrUnavailable.
type Service interface {
	// SuggestLocator proposes a locator for a described element
	SuggestLocator(ctx context.Context, req SuggestRequest) (*Suggestion, error)

	// RegenerateCode rewrites a failing generated code fragment
	RegenerateCode(ctx context.Context, req RegenerateRequest) (*Regenerated, error)
}

// IsUnavailable reports whether err is a soft service failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
