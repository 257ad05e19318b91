package httpapi

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

type introStats struct {
	ActiveRooms      int
	ActiveUsers      int
	Uptime           string
	HeartbitInterval int
	DocumentLimit    int
	LogOpsThreshold  int
}

// introTemplate is a direct port of the original service's f-string-built
// intro.js response: a small commented JS snippet describing the CRDT
// primer for the landing editor, with the operator's live counters and
// config baked in.
var introTemplate = template.Must(template.New("intro").Parse(`// livecoding demo snippet
// A character-level CRDT keeps every open editor converged without a
// central lock: each keystroke becomes an Insert or Delete tagged with a
// globally unique (counter, siteId) pair, and replicas apply them in an
// order that always agrees regardless of network delay.
//
// live stats:
//   activeRooms: {{.ActiveRooms}}
//   activeUsers: {{.ActiveUsers}}
//   uptime: {{.Uptime}}
//
// config:
//   heartbitInterval: {{.HeartbitInterval}}s
//   documentSizeLimit: {{.DocumentLimit}}
//   compactionOpsThreshold: {{.LogOpsThreshold}}
`))

func renderIntroJS(stats introStats) string {
	var b strings.Builder
	if err := introTemplate.Execute(&b, stats); err != nil {
		return fmt.Sprintf("// failed to render intro.js: %v", err)
	}
	return b.String()
}

// formatUptime mirrors original_source/livecoding/utils.py's format_uptime.
func formatUptime(start, end time.Time) string {
	delta := end.Sub(start)
	days := int(delta.Hours()) / 24
	hours := int(delta.Hours()) % 24
	minutes := int(delta.Minutes()) % 60
	return fmt.Sprintf("%d days, %02d:%02d", days, hours, minutes)
}
