package quote

import (
	"regexp"
	"strings"

	"autoquote-backend/internal/catalog"
	"autoquote-backend/lib/textutil"
)

// TokenGroup matches text containing every one of its tokens.
type TokenGroup []string

// SelectionLabels resolves selection slugs to the labels shown on the form.
type SelectionLabels interface {
	SelectionLabel(slug string) (string, bool)
}

func hasWord(normalized, word string) bool {
	for _, w := range strings.Fields(normalized) {
		if w == word {
			return true
		}
	}
	return false
}

// labelWith returns the first label whose normalized form contains want and
// none of avoid.
func labelWith(labels []string, want string, avoid ...string) string {
outer:
	for _, label := range labels {
		n := textutil.NormalizeForMatch(label)
		if !strings.Contains(n, want) {
			continue
		}
		for _, a := range avoid {
			if strings.Contains(n, a) {
				continue outer
			}
		}
		return label
	}
	return ""
}

// TargetLabel decides which variant control a session must click.
//
// A caller supplied variant wins: it is looked up as a selection slug, then
// against the service's labels, and is otherwise used verbatim. Without one
// the label is derived from the service id and variant family.
func TargetLabel(svc *catalog.ServiceDescriptor, variant *string, labels SelectionLabels) string {
	if variant != nil && strings.TrimSpace(*variant) != "" {
		v := strings.TrimSpace(*variant)
		if labels != nil {
			if label, ok := labels.SelectionLabel(v); ok {
				return label
			}
		}
		if svc != nil {
			nv := textutil.NormalizeForMatch(v)
			for _, label := range svc.VariantLabels {
				if textutil.NormalizeForMatch(label) == nv {
					return label
				}
			}
		}
		return v
	}
	if svc == nil {
		return ""
	}
	if labels != nil {
		if label, ok := labels.SelectionLabel(svc.ID); ok {
			return label
		}
	}

	id := textutil.Slugify(svc.ID)
	switch svc.VariantFamily {
	case catalog.FamilyFrontRear:
		front := strings.Contains(id, "avant")
		rear := strings.Contains(id, "arriere")
		switch {
		case (front && rear) || strings.Contains(id, "complet") || strings.Contains(id, "deux"):
			return labelWith(svc.VariantLabels, "deux")
		case front:
			return labelWith(svc.VariantLabels, "avant", "arri")
		case rear:
			return labelWith(svc.VariantLabels, "arri", "avant")
		}
	case catalog.FamilyMultiChoice:
		for _, side := range []string{"conducteur", "passager", "tous"} {
			if strings.Contains(id, side) {
				return labelWith(svc.VariantLabels, side)
			}
		}
		if len(svc.VariantLabels) > 0 {
			return svc.VariantLabels[0]
		}
	}
	if len(svc.VariantLabels) == 1 {
		return svc.VariantLabels[0]
	}
	return ""
}

func subjectTokens(svc *catalog.ServiceDescriptor) []string {
	if svc == nil {
		return nil
	}
	return strings.Fields(textutil.NormalizeForMatch(svc.VariantSubject))
}

func with(base []string, extra ...string) TokenGroup {
	group := make(TokenGroup, 0, len(base)+len(extra))
	group = append(group, base...)
	return append(group, extra...)
}

// BuildMatchers derives the token groups a control's text may satisfy to be
// taken for target: its words, the whole label, then the subject noun paired
// with the discriminating word of the label.
func BuildMatchers(svc *catalog.ServiceDescriptor, target string) []TokenGroup {
	n := textutil.NormalizeForMatch(target)
	if n == "" {
		return nil
	}
	groups := []TokenGroup{strings.Fields(n), {n}}

	subject := subjectTokens(svc)
	if len(subject) == 0 {
		return groups
	}
	family := catalog.FamilyNone
	if svc != nil {
		family = svc.VariantFamily
	}

	switch family {
	case catalog.FamilyFrontRear:
		if strings.Contains(n, "deux") {
			groups = append(groups, TokenGroup{"les", "deux"}, TokenGroup{"avant", "arri"})
		} else if strings.Contains(n, "avant") {
			groups = append(groups, with(subject, "avant"))
		} else if strings.Contains(n, "arri") {
			groups = append(groups, with(subject, "arri"))
		}
	case catalog.FamilyMultiChoice:
		switch {
		case strings.Contains(n, "conducteur"):
			groups = append(groups, with(subject, "conducteur"))
		case strings.Contains(n, "passager"):
			groups = append(groups, with(subject, "passager"))
		case n == "tous":
			groups = append(groups, with(subject, "tous"))
		case hasWord(n, "pas"):
			groups = append(groups, with(subject, "pas"))
		default:
			groups = append(groups, with(subject))
		}
	}
	return groups
}

// Match reports whether text satisfies any of groups. Text is normalized the
// same way the groups are.
func Match(text string, groups []TokenGroup) bool {
	n := textutil.NormalizeForMatch(text)
	if n == "" {
		return false
	}
	for _, g := range groups {
		if textutil.ContainsAll(n, g) {
			return true
		}
	}
	return false
}

var directions = []struct {
	token   string
	pattern string
}{
	{"avant", `(?i)avant`},
	{"arri", `(?i)arri[eè]re`},
	{"conducteur", `(?i)conducteur`},
	{"passager", `(?i)passager`},
	{"deux", `(?i)deux`},
	{"tous", `(?i)\btous\b`},
	{"pas", `(?i)\bpas\b`},
}

// labelPattern matches the label with flexible whitespace and either kind of
// apostrophe.
func labelPattern(label string) *regexp.Regexp {
	words := strings.Fields(label)
	for i, w := range words {
		w = regexp.QuoteMeta(w)
		w = strings.NewReplacer("'", `['’]`, "’", `['’]`).Replace(w)
		words[i] = w
	}
	return regexp.MustCompile(`(?i)` + strings.Join(words, `\s+`))
}

// BuildFilters returns the containment filters a candidate's raw text must
// all pass: the subject noun when the label carries it, the first direction
// word of the label, then the label itself.
func BuildFilters(svc *catalog.ServiceDescriptor, target string) []*regexp.Regexp {
	n := textutil.NormalizeForMatch(target)
	if n == "" {
		return nil
	}
	var filters []*regexp.Regexp
	if subject := subjectTokens(svc); len(subject) > 0 && strings.Contains(n, subject[0]) {
		filters = append(filters, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(subject[0])))
	}
	for _, d := range directions {
		hit := strings.Contains(n, d.token)
		if d.token == "pas" || d.token == "tous" {
			hit = hasWord(n, d.token)
		}
		if hit {
			filters = append(filters, regexp.MustCompile(d.pattern))
			break
		}
	}
	return append(filters, labelPattern(target))
}

// PassesFilters reports whether text passes every filter.
func PassesFilters(text string, filters []*regexp.Regexp) bool {
	if len(filters) == 0 {
		return false
	}
	for _, f := range filters {
		if !f.MatchString(text) {
			return false
		}
	}
	return true
}
