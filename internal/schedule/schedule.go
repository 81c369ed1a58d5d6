// Package schedule defines the persisted schedule entity and the
// translation from its recurrence fields to cron trigger expressions.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Frequency selects how often a schedule recurs.
type Frequency string

const (
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
)

// RunStatus is the persisted outcome of the most recent run.
// Empty means the schedule has never run.
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// SearchConfig carries the per-schedule search and filter settings the
// candidate pipeline runs with.
type SearchConfig struct {
	Keywords         []string `json:"keywords"`
	Language         string   `json:"language,omitempty"`
	Region           string   `json:"region,omitempty"`
	ResultsPerPage   int      `json:"results_per_page,omitempty"`
	Pages            int      `json:"pages,omitempty"`
	ExcludeGovEdu    bool     `json:"exclude_gov_edu,omitempty"`
	NegativeKeywords []string `json:"negative_keywords,omitempty"`
	RequireImages    bool     `json:"require_images,omitempty"`
	RequireEmail     bool     `json:"require_email,omitempty"`
	AvoidDuplicates  bool     `json:"avoid_duplicates,omitempty"`
	MinWordCount     int      `json:"min_word_count,omitempty"`
	ExpandKeywords   bool     `json:"expand_keywords,omitempty"`
}

// WithDefaults fills unset paging knobs.
func (c SearchConfig) WithDefaults() SearchConfig {
	if c.ResultsPerPage <= 0 {
		c.ResultsPerPage = 10
	}
	if c.Pages <= 0 {
		c.Pages = 1
	}
	return c
}

// Schedule is one recurring keyword search owned by an operator.
type Schedule struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	// EnabledFrom suppresses execution before this instant even while
	// Enabled is true. Nil means immediately runnable.
	EnabledFrom *time.Time `json:"enabled_from,omitempty"`

	Frequency Frequency `json:"frequency"`
	Hour      int       `json:"hour"`
	Minute    int       `json:"minute"`
	// DayOfWeek applies to weekly schedules; 0 is the first day of the week.
	DayOfWeek int `json:"day_of_week,omitempty"`
	// DayOfMonth applies to monthly schedules; 1-based.
	DayOfMonth int `json:"day_of_month,omitempty"`

	Search SearchConfig `json:"search"`

	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LastRunStatus RunStatus  `json:"last_run_status,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the fields an operator can set. Run bookkeeping fields
// are not validated; the engine owns those.
func (s Schedule) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("name required")
	}
	if s.Hour < 0 || s.Hour > 23 {
		return fmt.Errorf("invalid hour %d", s.Hour)
	}
	if s.Minute < 0 || s.Minute > 59 {
		return fmt.Errorf("invalid minute %d", s.Minute)
	}
	switch s.Frequency {
	case FreqDaily, "":
	case FreqWeekly:
		if s.DayOfWeek < 0 || s.DayOfWeek > 6 {
			return fmt.Errorf("invalid day_of_week %d", s.DayOfWeek)
		}
	case FreqMonthly:
		if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
			return fmt.Errorf("invalid day_of_month %d", s.DayOfMonth)
		}
	default:
		return fmt.Errorf("unknown frequency %q", s.Frequency)
	}
	if len(s.Search.Keywords) == 0 {
		return errors.New("at least one keyword required")
	}
	return nil
}

// RunnableAt reports whether the schedule may execute at the given instant.
// Disabled schedules never run; an enablement instant in the future
// suppresses execution until it passes. Callers re-check this at every
// trigger fire rather than rescheduling around it.
func (s Schedule) RunnableAt(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.EnabledFrom != nil && s.EnabledFrom.After(now) {
		return false
	}
	return true
}

// NextRunAfter projects the run following now: one full period ahead
// (calendar month for monthly) with the clock forced to Hour:Minute.
// The result is strictly after now for valid clock fields.
func (s Schedule) NextRunAfter(now time.Time) time.Time {
	var next time.Time
	switch s.Frequency {
	case FreqWeekly:
		next = now.AddDate(0, 0, 7)
	case FreqMonthly:
		next = now.AddDate(0, 1, 0)
	default:
		next = now.AddDate(0, 0, 1)
	}
	return time.Date(next.Year(), next.Month(), next.Day(), s.Hour, s.Minute, 0, 0, now.Location())
}
