package leads

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"leadscout/internal/pipeline"
	logx "leadscout/pkg/logx"
)

type fakeWriter struct {
	leads  []Lead
	failOn map[string]error
}

func (f *fakeWriter) CreateLead(_ context.Context, l Lead) error {
	if err, ok := f.failOn[l.URL]; ok {
		return err
	}
	f.leads = append(f.leads, l)
	return nil
}

type fakeProber struct {
	modified map[string]time.Time
	errOn    map[string]error
}

func (f *fakeProber) LastModified(_ context.Context, url string) (time.Time, error) {
	if err, ok := f.errOn[url]; ok {
		return time.Time{}, err
	}
	return f.modified[url], nil
}

func newTestSink(w *fakeWriter, p *fakeProber, now time.Time) *Sink {
	s := NewSink(w, p, logx.Nop())
	s.now = func() time.Time { return now }
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("lead-%d", n)
	}
	return s
}

func TestSinkStoreBuildsLeads(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	w := &fakeWriter{}
	p := &fakeProber{modified: map[string]time.Time{
		"https://roastery.example/": now.AddDate(0, 0, -10),
	}}
	s := newTestSink(w, p, now)

	created, skipped, err := s.Store(context.Background(), "coffee roasters", []pipeline.Candidate{
		{
			Title:    "Coffee Roasters of Berlin",
			URL:      "https://roastery.example/",
			Domain:   "roastery.example",
			Snippet:  "specialty beans",
			Email:    "hello@roastery.example",
			Position: 0,
		},
	})
	if err != nil {
		t.Fatalf("Store() error: %v", err)
	}
	if skipped != 0 {
		t.Fatalf("skipped = %d, want 0", skipped)
	}
	if len(created) != 1 {
		t.Fatalf("created = %d leads, want 1", len(created))
	}

	l := created[0]
	if l.ID != "lead-1" {
		t.Fatalf("ID = %q, want lead-1", l.ID)
	}
	if l.Keyword != "coffee roasters" {
		t.Fatalf("Keyword = %q, want coffee roasters", l.Keyword)
	}
	if l.Status != StatusPendingReview {
		t.Fatalf("Status = %q, want %q", l.Status, StatusPendingReview)
	}
	if l.Activity != ActivityActive {
		t.Fatalf("Activity = %q, want %q", l.Activity, ActivityActive)
	}
	if l.LastModified == nil || !l.LastModified.Equal(now.AddDate(0, 0, -10)) {
		t.Fatalf("LastModified = %v, want the probed instant", l.LastModified)
	}
	// Position 0 plus the keyword-in-title bonus clamps to 1.
	if l.Score != 1.0 {
		t.Fatalf("Score = %v, want 1.0", l.Score)
	}
	if l.Rank != "high" {
		t.Fatalf("Rank = %q, want high", l.Rank)
	}
	if !l.CreatedAt.Equal(now) {
		t.Fatalf("CreatedAt = %v, want %v", l.CreatedAt, now)
	}
	if len(w.leads) != 1 {
		t.Fatalf("writer saw %d leads, want 1", len(w.leads))
	}
}

func TestSinkDuplicateURLIsSkippedNotFailed(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	w := &fakeWriter{failOn: map[string]error{
		"https://known.example/": ErrDuplicateURL,
	}}
	s := newTestSink(w, &fakeProber{}, now)

	created, skipped, err := s.Store(context.Background(), "x", []pipeline.Candidate{
		{Title: "A", URL: "https://a.example/", Domain: "a.example"},
		{Title: "Known", URL: "https://known.example/", Domain: "known.example"},
		{Title: "B", URL: "https://b.example/", Domain: "b.example"},
	})
	if err != nil {
		t.Fatalf("Store() error: %v", err)
	}
	if skipped != 1 {
		t.Fatalf("skipped = %d, want 1", skipped)
	}
	if len(created) != 2 {
		t.Fatalf("created = %d leads, want 2", len(created))
	}
	if created[0].URL != "https://a.example/" || created[1].URL != "https://b.example/" {
		t.Fatalf("created URLs = %s, %s, want a then b", created[0].URL, created[1].URL)
	}
}

func TestSinkStorageErrorAbortsBatch(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	w := &fakeWriter{failOn: map[string]error{
		"https://broken.example/": errors.New("disk full"),
	}}
	s := newTestSink(w, &fakeProber{}, now)

	created, skipped, err := s.Store(context.Background(), "x", []pipeline.Candidate{
		{Title: "A", URL: "https://a.example/", Domain: "a.example"},
		{Title: "Broken", URL: "https://broken.example/", Domain: "broken.example"},
		{Title: "B", URL: "https://b.example/", Domain: "b.example"},
	})
	if err == nil {
		t.Fatal("Store() error = nil, want storage failure")
	}
	if skipped != 0 {
		t.Fatalf("skipped = %d, want 0", skipped)
	}
	if len(created) != 1 {
		t.Fatalf("created = %d leads before the failure, want 1", len(created))
	}
	// The batch stops at the failure; the third candidate is not attempted.
	if len(w.leads) != 1 {
		t.Fatalf("writer saw %d leads, want 1", len(w.leads))
	}
}

func TestSinkActivityResolution(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		url          string
		prober       *fakeProber
		wantActivity Activity
		wantModified bool
	}{
		{
			name:         "recent page",
			url:          "https://a.example/",
			prober:       &fakeProber{modified: map[string]time.Time{"https://a.example/": now.AddDate(0, 0, -5)}},
			wantActivity: ActivityActive,
			wantModified: true,
		},
		{
			name:         "stale page",
			url:          "https://b.example/",
			prober:       &fakeProber{modified: map[string]time.Time{"https://b.example/": now.AddDate(0, 0, -150)}},
			wantActivity: ActivityNormal,
			wantModified: true,
		},
		{
			name:         "ancient page",
			url:          "https://c.example/",
			prober:       &fakeProber{modified: map[string]time.Time{"https://c.example/": now.AddDate(-2, 0, 0)}},
			wantActivity: ActivityOld,
			wantModified: true,
		},
		{
			name:         "no header",
			url:          "https://d.example/",
			prober:       &fakeProber{},
			wantActivity: ActivityUnknown,
			wantModified: false,
		},
		{
			name:         "probe failure",
			url:          "https://e.example/",
			prober:       &fakeProber{errOn: map[string]error{"https://e.example/": errors.New("timeout")}},
			wantActivity: ActivityUnknown,
			wantModified: false,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			w := &fakeWriter{}
			s := newTestSink(w, tt.prober, now)
			created, _, err := s.Store(context.Background(), "x", []pipeline.Candidate{
				{Title: "T", URL: tt.url, Domain: "x.example"},
			})
			if err != nil {
				t.Fatalf("Store() error: %v", err)
			}
			if got := created[0].Activity; got != tt.wantActivity {
				t.Fatalf("Activity = %q, want %q", got, tt.wantActivity)
			}
			if got := created[0].LastModified != nil; got != tt.wantModified {
				t.Fatalf("LastModified set = %v, want %v", got, tt.wantModified)
			}
		})
	}
}

func TestScoreFor(t *testing.T) {
	tests := []struct {
		name string
		kw   string
		cand pipeline.Candidate
		want float64
	}{
		{"top position", "roasters", pipeline.Candidate{Title: "Berlin cafes", Position: 0}, 1.0},
		{"bonus clamped", "cafes", pipeline.Candidate{Title: "Berlin cafes", Position: 0}, 1.0},
		{"mid position", "x", pipeline.Candidate{Title: "Other", Position: 10}, 0.6},
		{"mid position with bonus", "other", pipeline.Candidate{Title: "Other place", Position: 10}, 0.7},
		{"deep position floors", "x", pipeline.Candidate{Title: "Other", Position: 40}, 0.1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := scoreFor(tt.kw, tt.cand)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("scoreFor(%q, pos %d) = %v, want %v", tt.kw, tt.cand.Position, got, tt.want)
			}
		})
	}
}
