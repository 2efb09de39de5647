package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const landingPage = `<!doctype html>
<html>
<head>
  <title>Acme Rockets | Fast delivery anywhere</title>
  <meta name="description" content="Acme builds rockets. We ship worldwide.">
  <meta property="og:description" content="Rockets for everyone">
  <meta name="theme-color" content="#ff5500">
  <meta name="keywords" content="Rockets, space,  rockets ,launch">
  <meta property="og:image" content="https://cdn.acme.test/og.png">
  <link rel="shortcut icon" href="/favicon.ico">
  <link rel="apple-touch-icon" href="img/touch.png">
</head>
<body>
  <a href="https://twitter.com/acme">Twitter</a>
  <a href="https://x.com/acme-second">X</a>
  <a href="https://www.linkedin.com/company/acme">LinkedIn</a>
  <a href="https://github.com/">GitHub home</a>
  <a href="/about">About</a>
</body>
</html>`

func TestAnalyze_ExtractsProfile(t *testing.T) {
	t.Parallel()

	p, err := Analyze("https://acme.test/home/", []byte(landingPage))
	require.NoError(t, err)

	require.Equal(t, "Acme Rockets", p.BrandName)
	require.Equal(t, "Acme builds rockets. We ship worldwide.", p.Description)
	require.Equal(t, "Rockets for everyone", p.Tagline)
	require.Equal(t, "#ff5500", p.PrimaryColor)
	require.Equal(t, []string{"rockets", "space", "launch"}, p.Keywords)
	require.Equal(t, "https://acme.test/favicon.ico", p.FaviconURL)
	require.Equal(t, "https://acme.test/home/img/touch.png", p.LogoURL)
	require.Equal(t, map[string]string{
		"twitter":  "https://twitter.com/acme",
		"linkedin": "https://www.linkedin.com/company/acme",
	}, p.SocialLinks)
}

func TestAnalyze_Fallbacks(t *testing.T) {
	t.Parallel()

	html := `<html><head>
<meta property="og:site_name" content="Beta Co">
<meta property="og:description" content="Beta makes widgets. Lots of them.">
<meta property="og:image" content="/share.png">
<title>Ignored</title>
</head><body></body></html>`

	p, err := Analyze("https://beta.test", []byte(html))
	require.NoError(t, err)
	require.Equal(t, "Beta Co", p.BrandName)
	require.Equal(t, "Beta makes widgets. Lots of them.", p.Description)
	require.Equal(t, "Beta makes widgets.", p.Tagline)
	require.Equal(t, "https://beta.test/share.png", p.LogoURL)
	require.Empty(t, p.FaviconURL)
	require.Empty(t, p.Keywords)
	require.NotNil(t, p.Keywords)
	require.Empty(t, p.SocialLinks)
}

func TestBrandName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Site", brandName("Site", "Other | Title"))
	require.Equal(t, "Gamma", brandName("", "  Gamma - Home "))
	require.Equal(t, "Plain", brandName("", "Plain"))
}
