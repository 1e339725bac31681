package messenger

import (
	"fmt"
	"html"
	"strings"

	"remindbot/internal/schedule"
)

const listHeader = "List of all current messages"

// FormatListing renders recs as an HTML <pre> block, one line per record:
//
//	<createdAt> <status> <recipient> (<interval>s): <body>
func FormatListing(recs []schedule.Record) string {
	var b strings.Builder
	b.WriteString("<pre>")
	b.WriteString(listHeader)
	b.WriteByte('\n')
	b.WriteString(strings.Repeat("-", 30))
	b.WriteByte('\n')
	for _, r := range recs {
		b.WriteString(html.EscapeString(FormatLine(r)))
		b.WriteByte('\n')
	}
	b.WriteString("</pre>")
	return b.String()
}

// FormatLine renders one record as plain text.
func FormatLine(r schedule.Record) string {
	return fmt.Sprintf("%s %s %s (%ds): %s", r.CreatedAt, r.Status, r.RecipientName, r.Interval, r.Body)
}
