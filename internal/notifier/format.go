package notifier

import (
	"fmt"
	"strings"
	"time"

	"leadscout/internal/runner"
)

// formatReport renders one run report as a compact chat message.
func formatReport(rep runner.Report) string {
	name := rep.Name
	if name == "" {
		name = fmt.Sprintf("schedule %d", rep.ScheduleID)
	}

	var b strings.Builder
	if rep.Error != "" {
		fmt.Fprintf(&b, "❌ %s (%s) failed after %s\n%s\n", name, rep.Trigger, fmtDuration(rep.Duration), rep.Error)
	} else {
		fmt.Fprintf(&b, "✅ %s (%s) finished in %s\n", name, rep.Trigger, fmtDuration(rep.Duration))
	}

	fmt.Fprintf(&b, "found %d, candidates %d, accepted %d, leads %d",
		rep.Found, rep.Candidates, rep.Accepted, rep.Created)
	if rep.Duplicates > 0 {
		fmt.Fprintf(&b, ", duplicates %d", rep.Duplicates)
	}
	if rep.PagesFailed > 0 {
		fmt.Fprintf(&b, ", pages failed %d", rep.PagesFailed)
	}

	if n := len(rep.Keywords); n > 0 {
		kws := rep.Keywords
		if n > 5 {
			kws = append(append([]string(nil), kws[:5]...), fmt.Sprintf("+%d more", n-5))
		}
		fmt.Fprintf(&b, "\nkeywords: %s", strings.Join(kws, ", "))
	}
	return b.String()
}

func fmtDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
