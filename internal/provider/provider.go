// Package provider defines the contract every nutrition catalog adapter
// implements, and the failure taxonomy the resolver acts on.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/noot-app/foodfit-server/internal/types"
)

// Provider names, also used as throttle keys
const (
	Local         = "local"
	USDA          = "usda"
	OpenFoodFacts = "openfoodfacts"
)

// Adapter maps one external catalog onto the canonical Product shape.
// Adapters never cache, retry or consult each other.
type Adapter interface {
	Name() string
	// Fetch returns the product for an exact barcode, or an *Error
	Fetch(ctx context.Context, barcode string) (*types.Product, error)
}

// HealthChecker is implemented by adapters with a backend worth probing
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// FuzzyLookup is implemented by the curated dataset; it tries alternate key
// shapes for a canonical barcode.
type FuzzyLookup interface {
	LookupFuzzy(ctx context.Context, canonical string) (*types.Product, bool)
}

// Kind classifies a failed fetch
type Kind int

const (
	Unreachable Kind = iota
	NotFound
	RateLimited
	Malformed
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case RateLimited:
		return "rate_limited"
	case Malformed:
		return "malformed"
	default:
		return "unreachable"
	}
}

// Error is returned by adapters for every failed fetch
type Error struct {
	Provider string
	Kind     Kind
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an *Error with a formatted cause
func Errorf(provider string, kind Kind, format string, args ...any) *Error {
	return &Error{Provider: provider, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// NotFoundError is the plain "catalog has no such code" result
func NotFoundError(provider string) *Error {
	return &Error{Provider: provider, Kind: NotFound}
}

// KindOf classifies any error. Timeouts, transport failures and anything
// unrecognised are Unreachable.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return Unreachable
}

// Wrap turns a transport-level error (timeout, refused connection, cancelled
// context) into an Unreachable *Error, keeping an existing classification
func Wrap(provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Provider: provider, Kind: Unreachable, Err: err}
}

// KindForStatus maps a non-2xx upstream status onto the taxonomy
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusNotFound:
		return NotFound
	case status == http.StatusTooManyRequests:
		return RateLimited
	case status >= 500:
		return Unreachable
	default:
		return Malformed
	}
}
