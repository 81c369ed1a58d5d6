// Package pipeline filters raw search results into accepted candidates
// through a fixed stage order. Rejection reasons accumulate per candidate
// so the outcome stays explainable.
package pipeline

import (
	"net/url"
	"strings"

	"leadscout/internal/search"
)

// Reason is a machine-readable rejection code. Reasons are appended in
// stage order and never removed, except by the image waiver.
type Reason string

const (
	ReasonGovEdu          Reason = "exclude_gov_edu"
	ReasonNegativeKeyword Reason = "negative_keyword"
	ReasonFewImages       Reason = "insufficient_images"
	ReasonNoEmail         Reason = "email_not_found"
	ReasonDuplicateDomain Reason = "duplicate_domain"
	ReasonBelowMinWords   Reason = "below_min_words"
)

// minImages is the image-sufficiency floor. It is deliberately not
// configurable.
const minImages = 3

// fallbackTitle stands in when the provider returns no title.
const fallbackTitle = "Untitled"

// Candidate is one search result moving through the stages.
type Candidate struct {
	Title    string
	URL      string
	Snippet  string
	Domain   string
	Position int
	Email    string
	Reasons  []Reason

	// host keeps the full lowercased hostname (www intact) for the
	// gov/edu substring test; Domain is the normalized dedup key.
	host string
}

func (c *Candidate) reject(r Reason) { c.Reasons = append(c.Reasons, r) }

// Accepted reports whether the candidate survived every stage so far.
func (c *Candidate) Accepted() bool { return len(c.Reasons) == 0 }

func newCandidate(r search.Result, position int) Candidate {
	title := strings.TrimSpace(r.Title)
	if title == "" {
		title = fallbackTitle
	}
	link := strings.TrimSpace(r.Link)
	host := hostOf(link)
	return Candidate{
		Title:    title,
		URL:      link,
		Snippet:  strings.TrimSpace(r.Snippet),
		Domain:   strings.TrimPrefix(host, "www."),
		Position: position,
		host:     host,
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		// Malformed URLs keep a stable fallback key instead of failing here;
		// fetching stages will reject them.
		return strings.ToLower(rawURL)
	}
	return strings.ToLower(u.Hostname())
}
