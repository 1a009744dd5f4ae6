package htmlutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func parse(t *testing.T, doc string) *html.Node {
	node, err := html.Parse(strings.NewReader(doc))
	require.NoError(t, err)
	return node
}

func TestGetText(t *testing.T) {
	node := parse(t, `<p>Total <b>189,90</b> €</p>`)
	require.Equal(t, "Total 189,90 €", GetText(node))
}

func TestTextChunks(t *testing.T) {
	node := parse(t, `<html><head><style>.price{}</style><script>var p = "12,00 €"</script></head>
		<body><div><span>12</span><span>3,50&nbsp;€</span></div><p>  Votre   devis </p></body></html>`)
	require.Equal(t, []string{"12", "3,50 €", "Votre devis"}, TextChunks(node))
}

func TestCleanText(t *testing.T) {
	require.Equal(t, "Je calcule mon devis", CleanText("\n  Je calcule   mon\tdevis \u0007"))
}

func TestSnippet(t *testing.T) {
	require.Equal(t, "Plaquette", Snippet("  Plaquette avant ", 9))
	require.Equal(t, "Les deux", Snippet("Les deux", 120))
	require.Equal(t, "arriè", Snippet("arrière", 5))
}
