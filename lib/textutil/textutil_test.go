package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFold(t *testing.T) {
	require.Equal(t, "Plaquette arriere", Fold("Plaquette arrière"))
	require.Equal(t, "Citroen", Fold("Citroën"))
	require.Equal(t, "cote conducteur", Fold("côté conducteur"))
}

func TestNormalizeForMatch(t *testing.T) {
	require.Equal(t, "balai avant cote passager", NormalizeForMatch("  Balai avant\n\t CÔTÉ passager "))
	require.Equal(t, "", NormalizeForMatch(" \n "))
}

func TestSlugify(t *testing.T) {
	require.Equal(t, "plaquettes-avant", Slugify(" Plaquettes Avant "))
	require.Equal(t, "batterie-avec-start-stop", Slugify("Batterie avec Start & Stop"))
	require.Equal(t, "disque-arriere", Slugify("--Disque arrière--"))
}

func TestContainsAll(t *testing.T) {
	require.True(t, ContainsAll("plaquette arriere", []string{"plaqu", "arri"}))
	require.False(t, ContainsAll("plaquette avant", []string{"plaqu", "arri"}))
	require.False(t, ContainsAll("anything", nil))
}

func TestMatchName(t *testing.T) {
	require.True(t, MatchName("Je calcule mon DEVIS", []string{"calcul"}))
	require.False(t, MatchName("Continuer", []string{"calcul", "valider"}))
}
