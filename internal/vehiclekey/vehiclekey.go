// Package vehiclekey builds the canonical keys under which quoted prices are
// cached.
package vehiclekey

import (
	"regexp"
	"strconv"
	"strings"

	"autoquote-backend/lib/textutil"
)

// VehicleInfo identifies a vehicle the way callers describe it. Engine and
// Year are optional.
type VehicleInfo struct {
	Brand  string `json:"brand"`
	Model  string `json:"model"`
	Engine string `json:"engine,omitempty"`
	Year   int    `json:"year,omitempty"`
}

var nonAlphanumeric = regexp.MustCompile(`[^A-Z0-9]+`)

// NormalizeToken upper-cases s, strips accents, replaces every run of
// characters outside [A-Z0-9] with one underscore and trims underscores from
// both ends. NormalizeToken is idempotent.
func NormalizeToken(s string) string {
	s = strings.ToUpper(textutil.Fold(strings.TrimSpace(s)))
	s = nonAlphanumeric.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// Normalize returns the key for v: brand, model, engine and year normalized
// and joined by underscores, empty fields skipped.
func Normalize(v VehicleInfo) string {
	year := ""
	if v.Year > 0 {
		year = strconv.Itoa(v.Year)
	}

	parts := make([]string, 0, 4)
	for _, field := range []string{v.Brand, v.Model, v.Engine, year} {
		token := NormalizeToken(field)
		if token != "" {
			parts = append(parts, token)
		}
	}
	return strings.Join(parts, "_")
}

// VariantRequirement is whatever can tell whether a service needs a variant.
type VariantRequirement interface {
	RequiresVariant() bool
}

// ResolveSelectionVariant returns the variant to key a lookup with. It is nil
// when the service takes no variant (or is unknown), the caller's variant when
// one is required and given, and nil when one is required but missing, in
// which case the caller decides what to do.
func ResolveSelectionVariant(service VariantRequirement, userVariant *string) *string {
	if service == nil || !service.RequiresVariant() {
		return nil
	}
	if userVariant == nil || strings.TrimSpace(*userVariant) == "" {
		return nil
	}
	v := *userVariant
	return &v
}
