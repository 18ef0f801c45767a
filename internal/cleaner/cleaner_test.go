package cleaner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<html><head><title>Inspection &amp; Food</title></head><body>
<header>Site header</header>
<nav>Menu</nav>
<main>
  <h1>Title</h1>
  <!-- hidden comment -->
  <div class="alert">Cookie banner</div>
  <p>Keep   this
     paragraph.</p>
  <aside>Related</aside>
  <script>track()</script>
  <div class="pagedetails">Date modified</div>
  <div class="nojs-hide">js only</div>
  <footer>Main footer</footer>
</main>
<footer>Site footer</footer>
</body></html>`

func TestSelectorKeepsMainWithoutBoilerplate(t *testing.T) {
	t.Parallel()

	out, err := NewSelector(nil).Clean(page)
	require.NoError(t, err)

	assert.Contains(t, out, "<title>Inspection &amp; Food</title>")
	assert.Contains(t, out, "<h1>Title</h1>")
	assert.Contains(t, out, "<p>Keep this paragraph.</p>")
	for _, gone := range []string{"Site header", "Menu", "Cookie banner", "Related", "track()", "Date modified", "js only", "Main footer", "Site footer", "hidden comment"} {
		assert.NotContains(t, out, gone)
	}
	assert.False(t, strings.Contains(out, "\n"))
}

func TestSelectorFallsBackToBody(t *testing.T) {
	t.Parallel()

	out, err := NewSelector(nil).Clean(`<html><body><nav>menu</nav><p>text</p><!-- c --></body></html>`)
	require.NoError(t, err)
	// Without <main> the body is kept whole, minus comments.
	assert.Contains(t, out, "<nav>menu</nav>")
	assert.Contains(t, out, "<p>text</p>")
	assert.NotContains(t, out, "<!--")
}

func TestNewModes(t *testing.T) {
	t.Parallel()

	c, err := New("")
	require.NoError(t, err)
	assert.IsType(t, &Selector{}, c)

	c, err = New(ModeTrafilatura)
	require.NoError(t, err)
	assert.IsType(t, Trafilatura{}, c)

	c, err = New(ModeNone)
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = New("readability")
	require.Error(t, err)
}

func TestTrafilaturaExtractsArticle(t *testing.T) {
	t.Parallel()

	article := `<html><head><title>Story</title></head><body><nav><a href="/">Home</a></nav><article><h1>Story</h1>` +
		strings.Repeat("<p>This is a long paragraph of article text that trafilatura should keep as main content.</p>", 8) +
		`</article><footer>Copyright</footer></body></html>`
	out, err := Trafilatura{}.Clean(article)
	require.NoError(t, err)
	assert.Contains(t, out, "long paragraph of article text")
	assert.NotContains(t, out, "Copyright")
}
