// Package extractortest renders synthetic search-listing pages in the
// markup the extractor understands.
package extractortest

import (
	"fmt"
	"strings"
)

// Card describes one result card. Empty Name or ProfilePath renders a card
// without that field.
type Card struct {
	Name        string
	ProfilePath string
	Title       string
	Company     string
	CompanyID   string
	Location    string
	Degree      string
}

// PersonCard returns a fully populated card for person i.
func PersonCard(i int) Card {
	return Card{
		Name:        fmt.Sprintf("Person %d", i),
		ProfilePath: fmt.Sprintf("/sales/lead/ACwAA%06d,NAME_SEARCH,x%d?_ntb=abc", i, i),
		Title:       "Head of Sales",
		Company:     fmt.Sprintf("Company %d", i%7),
		CompanyID:   fmt.Sprintf("%d", 1000+i%7),
		Location:    "Berlin, Germany",
		Degree:      "2nd",
	}
}

// Range returns PersonCards for ids [from, from+n).
func Range(from, n int) []Card {
	cards := make([]Card, n)
	for i := range cards {
		cards[i] = PersonCard(from + i)
	}
	return cards
}

// Listing renders a listing page. total < 0 omits the result count.
func Listing(total int, cards []Card) string {
	var b strings.Builder
	b.WriteString("<html><head><title>Sales Navigator</title></head><body>")
	if total >= 0 {
		fmt.Fprintf(&b, `<div class="search-results__result-count"><span>%s results</span></div>`, commas(total))
	}
	b.WriteString(`<div id="search-results-container"><ol class="artdeco-list">`)
	for _, c := range cards {
		b.WriteString(`<li class="artdeco-list__item"><div data-x-search-result="LEAD"><div class="artdeco-entity-lockup">`)
		b.WriteString(`<img data-anonymize="headshot-photo" src="https://media.example.com/p.jpg">`)
		if c.ProfilePath != "" {
			fmt.Fprintf(&b, `<a href="%s">`, c.ProfilePath)
		}
		if c.Name != "" {
			fmt.Fprintf(&b, `<span data-anonymize="person-name">%s</span>`, c.Name)
		}
		if c.ProfilePath != "" {
			b.WriteString(`</a>`)
		}
		if c.Degree != "" {
			fmt.Fprintf(&b, `<span class="artdeco-entity-lockup__degree">· %s</span>`, c.Degree)
		}
		fmt.Fprintf(&b, `<div class="artdeco-entity-lockup__subtitle"><span data-anonymize="title">%s</span> <a href="/sales/company/%s?_ntb=1" data-anonymize="company-name">%s</a></div>`,
			c.Title, c.CompanyID, c.Company)
		fmt.Fprintf(&b, `<div class="artdeco-entity-lockup__caption"><span data-anonymize="location">%s</span></div>`, c.Location)
		b.WriteString(`</div></div></li>`)
	}
	b.WriteString(`</ol></div></body></html>`)
	return b.String()
}

func commas(n int) string {
	s := fmt.Sprintf("%d", n)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}
