package workflow

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Profile is the brand information extracted from a landing page.
type Profile struct {
	BrandName    string
	Tagline      string
	Description  string
	LogoURL      string
	FaviconURL   string
	PrimaryColor string
	Keywords     []string
	SocialLinks  map[string]string
}

// socialHosts maps a registrable host onto the network name stored in
// SocialLinks.
var socialHosts = map[string]string{
	"twitter.com":   "twitter",
	"x.com":         "twitter",
	"facebook.com":  "facebook",
	"instagram.com": "instagram",
	"linkedin.com":  "linkedin",
	"youtube.com":   "youtube",
	"github.com":    "github",
	"tiktok.com":    "tiktok",
}

// Analyze extracts a Profile from html. Relative asset URLs resolve against
// pageURL.
func Analyze(pageURL string, html []byte) (Profile, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return Profile{}, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return Profile{}, fmt.Errorf("parse page url: %w", err)
	}

	meta := collectMeta(doc)
	profile := Profile{
		BrandName:    brandName(meta["og:site_name"], doc.Find("title").First().Text()),
		PrimaryColor: firstNonEmpty(meta["theme-color"], meta["msapplication-tilecolor"]),
		Keywords:     splitKeywords(meta["keywords"]),
		SocialLinks:  map[string]string{},
	}

	profile.Description = firstNonEmpty(meta["description"], meta["og:description"])
	profile.Tagline = tagline(meta["og:description"], profile.Description)

	doc.Find("link[rel]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" {
			return
		}
		rels := strings.Fields(strings.ToLower(s.AttrOr("rel", "")))
		for _, rel := range rels {
			switch rel {
			case "icon":
				if profile.FaviconURL == "" {
					profile.FaviconURL = resolve(base, href)
				}
			case "apple-touch-icon":
				if profile.LogoURL == "" {
					profile.LogoURL = resolve(base, href)
				}
			}
		}
	})
	if profile.LogoURL == "" && meta["og:image"] != "" {
		profile.LogoURL = resolve(base, meta["og:image"])
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := resolve(base, s.AttrOr("href", ""))
		u, err := url.Parse(href)
		if err != nil || u.Path == "" || u.Path == "/" {
			return
		}
		host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		network, ok := socialHosts[host]
		if !ok {
			return
		}
		if _, seen := profile.SocialLinks[network]; !seen {
			profile.SocialLinks[network] = href
		}
	})

	return profile, nil
}

// collectMeta indexes meta tags by lowercased name or property. The first
// occurrence wins.
func collectMeta(doc *goquery.Document) map[string]string {
	meta := make(map[string]string)
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		key := s.AttrOr("property", "")
		if key == "" {
			key = s.AttrOr("name", "")
		}
		key = strings.ToLower(strings.TrimSpace(key))
		content := strings.TrimSpace(s.AttrOr("content", ""))
		if key == "" || content == "" {
			return
		}
		if _, ok := meta[key]; !ok {
			meta[key] = content
		}
	})
	return meta
}

func brandName(siteName, title string) string {
	if siteName != "" {
		return siteName
	}
	title = strings.TrimSpace(title)
	for _, sep := range []string{" | ", " - ", " – ", " — ", " · "} {
		if before, _, ok := strings.Cut(title, sep); ok {
			return strings.TrimSpace(before)
		}
	}
	return title
}

// tagline prefers a distinct og:description, then the first sentence of the
// description.
func tagline(ogDescription, description string) string {
	if ogDescription != "" && ogDescription != description {
		return ogDescription
	}
	if before, _, ok := strings.Cut(description, ". "); ok {
		return before + "."
	}
	return description
}

func splitKeywords(raw string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		kw := strings.ToLower(strings.TrimSpace(part))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}
	return out
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
