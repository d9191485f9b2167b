// Package barcode canonicalizes scanned product identifiers.
//
// Catalogs disagree on code length: some key products by EAN-13, some by
// 12-digit UPC-A, some drop leading zeros entirely. Normalize produces one
// canonical lookup key plus the alternate shapes worth retrying.
package barcode

import "strings"

// CanonicalLength is the EAN-13 length every canonical code is padded to
const CanonicalLength = 13

const upcLength = 12

// Code is a normalized scan
type Code struct {
	// Canonical is digits only, zero-padded to 13. Empty when the scan had no digits.
	Canonical string
	// Alternates are tried, in order, when the canonical form matches nothing
	Alternates []string
}

// Empty reports whether the scan contained no usable digits
func (c Code) Empty() bool {
	return c.Canonical == ""
}

// Normalize never fails: garbage in yields an empty Code
func Normalize(raw string) Code {
	digits := onlyDigits(raw)
	if digits == "" {
		return Code{}
	}

	canonical := Canonicalize(digits)
	stripped := strings.TrimLeft(canonical, "0")

	var alternates []string
	if stripped != "" {
		alternates = appendUnique(alternates, canonical, stripped)
		if len(stripped) <= upcLength {
			alternates = appendUnique(alternates, canonical, leftPad(stripped, upcLength))
		}
	}
	alternates = appendUnique(alternates, canonical, digits)

	return Code{Canonical: canonical, Alternates: alternates}
}

// Canonicalize turns a digit string into its canonical 13-digit form.
// GTIN-14 codes with a leading zero lose it; other long codes are kept.
func Canonicalize(digits string) string {
	switch {
	case digits == "":
		return ""
	case len(digits) < CanonicalLength:
		return leftPad(digits, CanonicalLength)
	case len(digits) > CanonicalLength:
		trimmed := strings.TrimLeft(digits, "0")
		if len(trimmed) <= CanonicalLength {
			return leftPad(trimmed, CanonicalLength)
		}
		return digits
	default:
		return digits
	}
}

// FuzzyKeys lists the key shapes a curated dataset may have stored a canonical code under
func FuzzyKeys(canonical string) []string {
	if canonical == "" {
		return nil
	}

	keys := []string{canonical}
	stripped := strings.TrimLeft(canonical, "0")
	if stripped == "" {
		return keys
	}

	keys = appendUnique(keys, "", stripped)
	if len(stripped) <= upcLength {
		keys = appendUnique(keys, "", leftPad(stripped, upcLength))
	}
	keys = appendUnique(keys, "", "0"+canonical)
	if len(stripped) > 1 {
		// some datasets store codes without the trailing check digit
		keys = appendUnique(keys, "", stripped[:len(stripped)-1])
	}
	return keys
}

// Equivalent reports whether two codes differ only in leading zeros
func Equivalent(a, b string) bool {
	a, b = onlyDigits(a), onlyDigits(b)
	if a == "" || b == "" {
		return false
	}
	return strings.TrimLeft(a, "0") == strings.TrimLeft(b, "0")
}

func onlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func leftPad(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat("0", n-len(s)) + s
}

func appendUnique(list []string, exclude, candidate string) []string {
	if candidate == "" || candidate == exclude {
		return list
	}
	for _, existing := range list {
		if existing == candidate {
			return list
		}
	}
	return append(list, candidate)
}
