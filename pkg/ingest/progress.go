package ingest

import (
	"fmt"
	"time"
)

// FormatDuration renders d the way the CLI prints elapsed time and ETA:
// seconds under a minute, minutes+seconds under an hour, hours+minutes
// beyond that.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", hours, mins)
}
