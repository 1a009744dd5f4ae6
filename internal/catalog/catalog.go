// Package catalog holds the read-only registry of quotable services.
package catalog

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"autoquote-backend/lib/configutil"
	"autoquote-backend/lib/textutil"

	"github.com/antzucaro/matchr"
)

//go:embed default.json5
var defaultFile []byte

type VariantFamily string

const (
	FamilyNone        VariantFamily = "none"
	FamilyFrontRear   VariantFamily = "front_rear"
	FamilyMultiChoice VariantFamily = "multi_choice"
)

// ServiceDescriptor describes one quotable service and how its remote form
// must be driven.
type ServiceDescriptor struct {
	ID       string `json:"id"`
	Alias    string `json:"alias"`
	Name     string `json:"name"`
	Category string `json:"category"`

	RequiresVariantSelection bool          `json:"requires_variant"`
	VariantFamily            VariantFamily `json:"variant_family"`
	// VariantSubject is the noun the variant controls are labelled with, each
	// word of it must appear in a matching control.
	VariantSubject string   `json:"variant_subject"`
	VariantLabels  []string `json:"variant_labels"`

	FormURL            string `json:"form_url"`
	ScrapingDisabled   bool   `json:"scraping_disabled"`
	UnsupportedMessage string `json:"unsupported_message"`
	Priority           int    `json:"priority"`
}

// RequiresVariant is safe to call on a nil descriptor.
func (d *ServiceDescriptor) RequiresVariant() bool {
	return d != nil && d.RequiresVariantSelection
}

// Unsupported reports whether the remote site is known not to quote this service online.
func (d *ServiceDescriptor) Unsupported() bool {
	return d.UnsupportedMessage != ""
}

// DualSide is one half of a dual-variant service.
type DualSide struct {
	ServiceID string `json:"service_id"`
	Label     string `json:"label"`
}

// File is the on-disk shape of a catalog.
type File struct {
	Services        []ServiceDescriptor   `json:"services"`
	SelectionLabels map[string]string     `json:"selection_labels"`
	DualVariants    map[string][]DualSide `json:"dual_variants"`
}

// Catalog indexes a File for lookups, it is safe for concurrent use since it
// is never mutated after construction.
type Catalog struct {
	services        []ServiceDescriptor
	byID            map[string]int
	byAlias         map[string]int
	byURL           map[string]int
	selectionLabels map[string]string
	dualVariants    map[string][2]DualSide
}

func aliasKey(s string) string {
	return strings.TrimSuffix(textutil.Slugify(s), "s")
}

// New validates file and builds a Catalog from it.
func New(file File) (*Catalog, error) {
	c := &Catalog{
		byID:            map[string]int{},
		byAlias:         map[string]int{},
		byURL:           map[string]int{},
		selectionLabels: map[string]string{},
		dualVariants:    map[string][2]DualSide{},
	}

	for _, svc := range file.Services {
		if svc.ID == "" {
			return nil, fmt.Errorf("catalog: service without an id")
		}
		if _, exists := c.byID[svc.ID]; exists {
			return nil, fmt.Errorf("catalog: duplicate service id %q", svc.ID)
		}
		if svc.VariantFamily == "" {
			svc.VariantFamily = FamilyNone
		}
		if svc.RequiresVariantSelection && len(svc.VariantLabels) == 0 {
			return nil, fmt.Errorf("catalog: service %q requires a variant but lists no variant labels", svc.ID)
		}
		if svc.RequiresVariantSelection && svc.VariantFamily == FamilyNone {
			return nil, fmt.Errorf("catalog: service %q requires a variant but has no variant family", svc.ID)
		}

		idx := len(c.services)
		c.services = append(c.services, svc)
		c.byID[svc.ID] = idx
		c.byAlias[aliasKey(svc.ID)] = idx
		if svc.Alias != "" {
			c.byAlias[aliasKey(svc.Alias)] = idx
		}
		// the first service listed for a url owns it
		if _, taken := c.byURL[svc.FormURL]; svc.FormURL != "" && !taken {
			c.byURL[svc.FormURL] = idx
		}
	}

	for slug, label := range file.SelectionLabels {
		c.selectionLabels[textutil.Slugify(slug)] = label
	}

	for slug, sides := range file.DualVariants {
		if len(sides) != 2 {
			return nil, fmt.Errorf("catalog: dual variant %q must have exactly two sides, got %d", slug, len(sides))
		}
		for _, side := range sides {
			if _, ok := c.byID[side.ServiceID]; !ok {
				return nil, fmt.Errorf("catalog: dual variant %q refers to unknown service %q", slug, side.ServiceID)
			}
		}
		c.dualVariants[textutil.Slugify(slug)] = [2]DualSide{sides[0], sides[1]}
	}

	return c, nil
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	file, err := configutil.Decode[File](defaultFile)
	if err != nil {
		return nil, fmt.Errorf("catalog: decode embedded default: %w", err)
	}
	return New(file)
}

// Load reads the catalog at path (merged with its .local override), or the
// embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	file, err := configutil.ReadConfig[File](path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return New(file)
}

func (c *Catalog) at(idx int) *ServiceDescriptor {
	svc := c.services[idx]
	svc.VariantLabels = append([]string(nil), svc.VariantLabels...)
	return &svc
}

// Lookup finds a service by its exact id.
func (c *Catalog) Lookup(id string) (*ServiceDescriptor, bool) {
	idx, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return c.at(idx), true
}

// LookupAlias finds a service by id or alternate identifier, ignoring case,
// accents, separators and a trailing plural "s".
func (c *Catalog) LookupAlias(slug string) (*ServiceDescriptor, bool) {
	idx, ok := c.byAlias[aliasKey(slug)]
	if !ok {
		return nil, false
	}
	return c.at(idx), true
}

// LookupURL finds the service whose remote form lives at url.
func (c *Catalog) LookupURL(url string) (*ServiceDescriptor, bool) {
	idx, ok := c.byURL[strings.TrimSpace(url)]
	if !ok {
		return nil, false
	}
	return c.at(idx), true
}

// Resolve tries the id, then the alias, then the remote url.
func (c *Catalog) Resolve(key string) (*ServiceDescriptor, bool) {
	if svc, ok := c.Lookup(key); ok {
		return svc, true
	}
	if svc, ok := c.LookupAlias(key); ok {
		return svc, true
	}
	return c.LookupURL(key)
}

// Services returns every service ordered by priority, then id.
func (c *Catalog) Services() []ServiceDescriptor {
	out := make([]ServiceDescriptor, len(c.services))
	copy(out, c.services)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SelectionLabel maps a selection slug such as "plaquettes-avant" to the
// label shown on the remote form.
func (c *Catalog) SelectionLabel(slug string) (string, bool) {
	label, ok := c.selectionLabels[textutil.Slugify(slug)]
	return label, ok
}

// DualVariant returns the two halves of a dual-variant parent service.
func (c *Catalog) DualVariant(slug string) ([2]DualSide, bool) {
	sides, ok := c.dualVariants[textutil.Slugify(slug)]
	return sides, ok
}

// Suggest returns the known service id closest to id, or "" when nothing is
// reasonably close.
func (c *Catalog) Suggest(id string) string {
	target := textutil.Slugify(id)
	best := ""
	bestScore := 0.0
	for _, svc := range c.services {
		for _, candidate := range []string{svc.ID, svc.Alias} {
			if candidate == "" {
				continue
			}
			score := matchr.JaroWinkler(target, textutil.Slugify(candidate), false)
			if score > bestScore {
				best = svc.ID
				bestScore = score
			}
		}
	}
	if bestScore < 0.8 {
		return ""
	}
	return best
}
