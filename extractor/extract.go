// Package extractor turns rendered search-listing HTML into candidate leads.
//
// Extraction is pure: it never navigates or persists. Callers own all
// side effects.
package extractor

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/use-agent/leadscout/models"
	"github.com/use-agent/leadscout/simhash"
)

// Page is the extraction result for one rendered listing page.
type Page struct {
	// Leads are the accepted candidates in card order.
	Leads []models.Lead

	// Cards is the number of result cards found on the page.
	Cards int

	// Skipped counts cards dropped for a missing name or profile link.
	Skipped int
}

// Card and field selectors, keyed to the listing's structural positions.
var (
	cardSel         = cascadia.MustCompile(`[data-x-search-result="LEAD"]`)
	fallbackCardSel = cascadia.MustCompile(`ol.artdeco-list > li.artdeco-list__item`)

	nameSel        = cascadia.MustCompile(`[data-anonymize="person-name"]`)
	titleSel       = cascadia.MustCompile(`[data-anonymize="title"]`)
	headlineSel    = cascadia.MustCompile(`[data-anonymize="headline"]`)
	subtitleSel    = cascadia.MustCompile(`.artdeco-entity-lockup__subtitle`)
	companySel     = cascadia.MustCompile(`[data-anonymize="company-name"]`)
	companyLinkSel = cascadia.MustCompile(`a[href*="/sales/company/"]`)
	locationSel    = cascadia.MustCompile(`[data-anonymize="location"]`)
	profileLinkSel = cascadia.MustCompile(`a[href*="/sales/lead/"], a[href*="/in/"]`)
	imageSel       = cascadia.MustCompile(`img[data-anonymize="headshot-photo"]`)
	degreeSel      = cascadia.MustCompile(`.artdeco-entity-lockup__degree`)
	totalCountSels = []cascadia.Selector{
		cascadia.MustCompile(`[data-test-search-results-count]`),
		cascadia.MustCompile(`.search-results__result-count`),
		cascadia.MustCompile(`[class*="results-count"]`),
	}
)

var (
	totalRe  = regexp.MustCompile(`(?i)([\d][\d.,]*)\s*([km])?\+?\s+results?\b`)
	degreeRe = regexp.MustCompile(`(\d)`)
	dottedRe = regexp.MustCompile(`^\d{1,3}(\.\d{3})+$`)
)

// ExtractPage parses one rendered listing page. Cards missing a name or a
// profile link are skipped, not fatal. A page with no result cards at all
// returns a STRUCTURE_NOT_FOUND error.
func ExtractPage(rawHTML, baseURL string) (*Page, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput, "invalid base URL", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeStructure, "unparseable listing HTML", err)
	}

	cards := doc.FindMatcher(cardSel)
	if cards.Length() == 0 {
		cards = doc.FindMatcher(fallbackCardSel)
	}
	if cards.Length() == 0 {
		return nil, models.NewScrapeError(models.ErrCodeStructure, "no result cards on page", nil)
	}

	page := &Page{Cards: cards.Length()}
	cards.Each(func(_ int, card *goquery.Selection) {
		lead, ok := extractCard(card, base)
		if !ok {
			page.Skipped++
			return
		}
		page.Leads = append(page.Leads, lead)
	})
	return page, nil
}

// extractCard reads the fixed field set from one card.
func extractCard(card *goquery.Selection, base *url.URL) (models.Lead, bool) {
	name := text(card.FindMatcher(nameSel))
	href, _ := card.FindMatcher(profileLinkSel).First().Attr("href")
	profileURL := NormalizeProfileURL(base, href)
	if name == "" || profileURL == "" {
		return models.Lead{}, false
	}

	headline := text(card.FindMatcher(headlineSel))
	if headline == "" {
		headline = text(card.FindMatcher(subtitleSel))
	}

	lead := models.Lead{
		ProfileURL: profileURL,
		Name:       name,
		Headline:   headline,
		Title:      text(card.FindMatcher(titleSel)),
		Company:    text(card.FindMatcher(companySel)),
		Location:   text(card.FindMatcher(locationSel)),
	}

	if companyHref, ok := card.FindMatcher(companyLinkSel).First().Attr("href"); ok {
		lead.CompanyID = companyID(companyHref)
	}
	if src, ok := card.FindMatcher(imageSel).First().Attr("src"); ok && !strings.HasPrefix(src, "data:") {
		if resolved, err := base.Parse(src); err == nil {
			lead.ImageURL = resolved.String()
		}
	}
	if m := degreeRe.FindStringSubmatch(text(card.FindMatcher(degreeSel))); m != nil {
		lead.ConnectionDegree, _ = strconv.Atoi(m[1])
	}
	return lead, true
}

// NormalizeProfileURL resolves href against base and strips everything that
// varies between searches: query, fragment, and the search-context suffix
// after the first comma of a lead id. It returns "" for non-http links.
func NormalizeProfileURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	u, err := base.Parse(href)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	u.RawQuery = ""
	u.Fragment = ""
	if i := strings.IndexByte(u.Path, ','); i >= 0 {
		u.Path = u.Path[:i]
	}
	u.RawPath = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

// companyID returns the id segment of a /sales/company/<id> link.
func companyID(href string) string {
	_, rest, ok := strings.Cut(href, "/sales/company/")
	if !ok {
		return ""
	}
	if i := strings.IndexAny(rest, "/?#,"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// ParseTotalResults reads the total result count from a listing page.
// It accepts forms such as "57 results", "1,234 results" and "2.5K+ results".
// ok is false when the page has no result-count element.
func ParseTotalResults(rawHTML string) (total int, ok bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return 0, false
	}

	// Only the count element is trusted; card text such as a headline
	// "Drove 300 results" must never be read as the total.
	for _, sel := range totalCountSels {
		if n, found := parseCount(text(doc.FindMatcher(sel).First())); found {
			return n, true
		}
	}
	return 0, false
}

func parseCount(s string) (int, bool) {
	m := totalRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	digits, suffix := m[1], strings.ToLower(m[2])

	if suffix != "" {
		f, err := strconv.ParseFloat(strings.ReplaceAll(digits, ",", ""), 64)
		if err != nil {
			return 0, false
		}
		mult := 1000.0
		if suffix == "m" {
			mult = 1_000_000
		}
		return int(f * mult), true
	}

	if dottedRe.MatchString(digits) {
		digits = strings.ReplaceAll(digits, ".", "")
	}
	n, err := strconv.Atoi(strings.ReplaceAll(digits, ",", ""))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Fingerprint is a SimHash over the page's profile URLs. Two pages with the
// same fingerprint list the same profiles, which means a pagination click
// did not advance the listing.
func Fingerprint(leads []models.Lead) uint64 {
	urls := make([]string, len(leads))
	for i, l := range leads {
		urls[i] = l.ProfileURL
	}
	return simhash.Fingerprint(urls)
}

// text returns the whitespace-collapsed text of a selection.
func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}
