package schedule

import "fmt"

// TriggerKind tags the recurrence variant carried by a TriggerSpec.
type TriggerKind int

const (
	TriggerDaily TriggerKind = iota
	TriggerWeekly
	TriggerMonthly
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerWeekly:
		return "weekly"
	case TriggerMonthly:
		return "monthly"
	default:
		return "daily"
	}
}

// TriggerSpec is the structured recurrence of a schedule. Cron text is an
// output format only, produced at the registration boundary by CronExpr;
// nothing else in the repo builds or parses cron strings.
type TriggerSpec struct {
	Kind   TriggerKind
	Minute int
	Hour   int
	// Weekday holds the day-of-week for weekly triggers; 0 is the first
	// day of the week (Sunday in cron terms).
	Weekday int
	// Monthday holds the 1-based day-of-month for monthly triggers.
	Monthday int
}

// TriggerFor maps a schedule's recurrence fields onto a TriggerSpec.
// It is total and never errors: unknown frequencies fall back to a daily
// trigger, absent clock fields stay 0. Out-of-range values pass through
// unchanged; the cron parser rejects them at registration, where the
// failure is logged.
func TriggerFor(s Schedule) TriggerSpec {
	t := TriggerSpec{Minute: s.Minute, Hour: s.Hour}
	switch s.Frequency {
	case FreqWeekly:
		t.Kind = TriggerWeekly
		t.Weekday = s.DayOfWeek
	case FreqMonthly:
		t.Kind = TriggerMonthly
		t.Monthday = s.DayOfMonth
	default:
		// Daily, empty, and anything unrecognized.
		t.Kind = TriggerDaily
	}
	return t
}

// CronExpr serializes the trigger to a five-field cron expression.
func (t TriggerSpec) CronExpr() string {
	switch t.Kind {
	case TriggerWeekly:
		return fmt.Sprintf("%d %d * * %d", t.Minute, t.Hour, t.Weekday)
	case TriggerMonthly:
		return fmt.Sprintf("%d %d %d * *", t.Minute, t.Hour, t.Monthday)
	default:
		return fmt.Sprintf("%d %d * * *", t.Minute, t.Hour)
	}
}
