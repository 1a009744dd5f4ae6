package quote

import (
	"testing"

	"autoquote-backend/internal/catalog"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Default()
	require.NoError(t, err)
	return c
}

func service(t *testing.T, c *catalog.Catalog, id string) *catalog.ServiceDescriptor {
	t.Helper()
	svc, ok := c.Lookup(id)
	require.True(t, ok, id)
	return svc
}

func ptr(s string) *string {
	return &s
}

func TestTargetLabel(t *testing.T) {
	c := testCatalog(t)

	cases := []struct {
		name     string
		service  string
		variant  *string
		expected string
	}{
		{"front from id", "plaquettes-avant", nil, "Plaquette avant"},
		{"rear from id", "disques-arriere", nil, "Disque arrière"},
		{"shock absorbers", "amortisseurs-arriere", nil, "Amortisseurs arrière"},
		{"wiper driver side", "balais-essuie-glace-conducteur", nil, "Balai avant côté conducteur"},
		{"wiper passenger side", "balais-essuie-glace-passager", nil, "Balai avant côté passager"},
		{"battery default", "batterie", nil, "Je n'ai pas le start & stop"},
		{"slug variant", "batterie", ptr("batterie-avec-start-stop"), "J'ai le start & stop"},
		{"label variant", "plaquettes-avant", ptr("les deux"), "Les deux"},
		{"verbatim variant", "plaquettes-avant", ptr("Kit complet"), "Kit complet"},
		{"blank variant ignored", "plaquettes-arriere", ptr("  "), "Plaquette arrière"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, TargetLabel(service(t, c, tc.service), tc.variant, c))
		})
	}

	require.Equal(t, "", TargetLabel(nil, nil, c))
	require.Equal(t, "Plaquette avant", TargetLabel(nil, ptr("plaquette-avant"), c))
}

func TestBuildMatchers(t *testing.T) {
	c := testCatalog(t)

	front := BuildMatchers(service(t, c, "plaquettes-avant"), "Plaquette avant")
	require.Empty(t, cmp.Diff([]TokenGroup{
		{"plaquette", "avant"},
		{"plaquette avant"},
		{"plaquette", "avant"},
	}, front))

	both := BuildMatchers(service(t, c, "plaquettes-avant"), "Les deux")
	require.Contains(t, both, TokenGroup{"avant", "arri"})

	battery := BuildMatchers(service(t, c, "batterie"), "Je n'ai pas le start & stop")
	require.Contains(t, battery, TokenGroup{"start", "stop", "pas"})

	withStartStop := BuildMatchers(service(t, c, "batterie"), "J'ai le start & stop")
	require.Contains(t, withStartStop, TokenGroup{"start", "stop"})

	require.Nil(t, BuildMatchers(nil, "  "))
}

func TestMatch(t *testing.T) {
	c := testCatalog(t)
	groups := BuildMatchers(service(t, c, "plaquettes-arriere"), "Plaquette arrière")

	require.True(t, Match("Plaquettes ARRIÈRE", groups))
	require.True(t, Match("  plaquette   arriere ", groups))
	require.False(t, Match("Plaquette avant", groups))
	require.False(t, Match("", groups))
	require.False(t, Match("anything", nil))

	// matching is a pure function of its inputs
	require.Equal(t, Match("Plaquette arrière", groups), Match("Plaquette arrière", groups))
}

func TestBuildFilters(t *testing.T) {
	c := testCatalog(t)

	filters := BuildFilters(service(t, c, "plaquettes-arriere"), "Plaquette arrière")
	require.Len(t, filters, 3)
	require.True(t, PassesFilters("Plaquette arrière", filters))
	require.True(t, PassesFilters("PLAQUETTE  ARRIÈRE", filters))
	require.False(t, PassesFilters("Plaquette avant", filters))

	// the subject is only required when the label mentions it
	both := BuildFilters(service(t, c, "plaquettes-avant"), "Les deux")
	require.Len(t, both, 2)
	require.True(t, PassesFilters("Les deux", both))

	battery := BuildFilters(service(t, c, "batterie"), "J'ai le start & stop")
	require.True(t, PassesFilters("J’ai le start & stop", battery))
	require.False(t, PassesFilters("Je n'ai pas le start & stop", battery))

	require.False(t, PassesFilters("anything", nil))
}

func TestNormalizePlate(t *testing.T) {
	require.Equal(t, "AB123CD", NormalizePlate("ab-123 cd"))
	require.Equal(t, NormalizePlate("AB-123-CD"), NormalizePlate("AB123CD"))
}
