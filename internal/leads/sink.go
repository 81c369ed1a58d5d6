package leads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"leadscout/internal/pipeline"
	logx "leadscout/pkg/logx"
)

// ErrDuplicateURL reports that a lead with the same URL already exists.
// The store returns it from CreateLead on a unique-index violation.
var ErrDuplicateURL = errors.New("leads: duplicate url")

// Writer persists constructed leads.
type Writer interface {
	CreateLead(ctx context.Context, l Lead) error
}

// ModTimeProber resolves a page's last-modified instant. A zero instant
// with a nil error means the page carries no usable header.
type ModTimeProber interface {
	LastModified(ctx context.Context, url string) (time.Time, error)
}

// Sink turns accepted pipeline candidates into persisted leads.
type Sink struct {
	writer Writer
	pages  ModTimeProber
	log    logx.Logger

	now   func() time.Time
	newID func() string
}

func NewSink(writer Writer, pages ModTimeProber, log logx.Logger) *Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sink{
		writer: writer,
		pages:  pages,
		log:    log,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Store persists every accepted candidate for one keyword and returns the
// leads actually created. A duplicate URL is a skip, counted in the second
// return value; any other storage error aborts the remainder of the batch.
func (s *Sink) Store(ctx context.Context, keyword string, accepted []pipeline.Candidate) ([]Lead, int, error) {
	created := make([]Lead, 0, len(accepted))
	skipped := 0
	for _, c := range accepted {
		lead := s.build(ctx, keyword, c)
		err := s.writer.CreateLead(ctx, lead)
		switch {
		case errors.Is(err, ErrDuplicateURL):
			skipped++
			s.log.Debug("lead already known, skipping",
				logx.String("keyword", keyword), logx.String("url", c.URL))
			continue
		case err != nil:
			return created, skipped, fmt.Errorf("store lead %s: %w", c.URL, err)
		}
		created = append(created, lead)
	}
	return created, skipped, nil
}

func (s *Sink) build(ctx context.Context, keyword string, c pipeline.Candidate) Lead {
	now := s.now()

	var lastMod *time.Time
	activity := ActivityUnknown
	if s.pages != nil {
		t, err := s.pages.LastModified(ctx, c.URL)
		switch {
		case err != nil:
			s.log.Debug("last-modified probe failed",
				logx.String("url", c.URL), logx.Err(err))
		case !t.IsZero():
			lastMod = &t
			activity = ActivityFor(t, now)
		}
	}

	score := scoreFor(keyword, c)
	return Lead{
		ID:           s.newID(),
		Keyword:      keyword,
		Title:        c.Title,
		URL:          c.URL,
		Domain:       c.Domain,
		Snippet:      c.Snippet,
		Email:        c.Email,
		Score:        score,
		Rank:         RankFor(score),
		Activity:     activity,
		LastModified: lastMod,
		Status:       StatusPendingReview,
		CreatedAt:    now.UTC(),
	}
}

// scoreFor orders the review queue: earlier provider positions score
// higher, with a small bonus when the yielding keyword appears in the
// title. Clamped to [0.1, 1].
func scoreFor(keyword string, c pipeline.Candidate) float64 {
	score := 1.0 - 0.04*float64(c.Position)
	if keyword != "" && strings.Contains(strings.ToLower(c.Title), strings.ToLower(keyword)) {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	if score < 0.1 {
		score = 0.1
	}
	return score
}
