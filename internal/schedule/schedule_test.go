package schedule

import (
	"testing"
	"time"
)

func TestNextRunAfter(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 4, 16, 45, 12, 0, time.UTC)

	tests := []struct {
		name string
		s    Schedule
		want time.Time
	}{
		{
			name: "daily",
			s:    Schedule{Frequency: FreqDaily, Hour: 14, Minute: 30},
			want: time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC),
		},
		{
			name: "weekly",
			s:    Schedule{Frequency: FreqWeekly, Hour: 9, Minute: 30, DayOfWeek: 3},
			want: time.Date(2024, 3, 11, 9, 30, 0, 0, time.UTC),
		},
		{
			name: "monthly",
			s:    Schedule{Frequency: FreqMonthly, Hour: 0, Minute: 5, DayOfMonth: 4},
			want: time.Date(2024, 4, 4, 0, 5, 0, 0, time.UTC),
		},
		{
			name: "unknown frequency treated as daily",
			s:    Schedule{Frequency: "bogus", Hour: 8},
			want: time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := tt.s.NextRunAfter(now)
			if !got.Equal(tt.want) {
				t.Fatalf("NextRunAfter(%v) = %v, want %v", now, got, tt.want)
			}
			if !got.After(now) {
				t.Fatalf("NextRunAfter(%v) = %v, not in the future", now, got)
			}
		})
	}
}

func TestRunnableAt(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		s    Schedule
		want bool
	}{
		{name: "enabled no gate", s: Schedule{Enabled: true}, want: true},
		{name: "disabled", s: Schedule{Enabled: false}, want: false},
		{name: "enablement instant passed", s: Schedule{Enabled: true, EnabledFrom: &past}, want: true},
		{name: "enablement instant in future", s: Schedule{Enabled: true, EnabledFrom: &future}, want: false},
		{name: "disabled with past instant", s: Schedule{Enabled: false, EnabledFrom: &past}, want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.RunnableAt(now); got != tt.want {
				t.Fatalf("RunnableAt = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScheduleValidate(t *testing.T) {
	t.Parallel()
	valid := Schedule{
		Name:      "coffee roasters",
		Frequency: FreqWeekly,
		Hour:      9,
		Minute:    30,
		DayOfWeek: 3,
		Search:    SearchConfig{Keywords: []string{"coffee roasters"}},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Schedule)
	}{
		{name: "empty name", mutate: func(s *Schedule) { s.Name = "  " }},
		{name: "hour out of range", mutate: func(s *Schedule) { s.Hour = 24 }},
		{name: "minute out of range", mutate: func(s *Schedule) { s.Minute = -1 }},
		{name: "weekly day out of range", mutate: func(s *Schedule) { s.DayOfWeek = 7 }},
		{name: "monthly day missing", mutate: func(s *Schedule) { s.Frequency = FreqMonthly; s.DayOfMonth = 0 }},
		{name: "unknown frequency", mutate: func(s *Schedule) { s.Frequency = "hourly" }},
		{name: "no keywords", mutate: func(s *Schedule) { s.Search.Keywords = nil }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSearchConfigWithDefaults(t *testing.T) {
	t.Parallel()
	c := SearchConfig{}.WithDefaults()
	if c.ResultsPerPage != 10 {
		t.Fatalf("ResultsPerPage = %d, want 10", c.ResultsPerPage)
	}
	if c.Pages != 1 {
		t.Fatalf("Pages = %d, want 1", c.Pages)
	}

	set := SearchConfig{ResultsPerPage: 25, Pages: 3}.WithDefaults()
	if set.ResultsPerPage != 25 || set.Pages != 3 {
		t.Fatalf("WithDefaults overwrote explicit values: %+v", set)
	}
}
