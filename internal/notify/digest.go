package notify

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/frameward/jobcore/internal/domain"
)

// Digest assembly. Full template rendering belongs to the portal
// application; the engine produces the summary body the templates wrap.

type entryData struct {
	Author string `json:"author"`
	Text   string `json:"text"`
	Media  string `json:"media"`
}

var typeLabels = map[domain.NotificationType]string{
	domain.NotifyClientComment:   "Client comments",
	domain.NotifyInternalComment: "Team comments",
	domain.NotifyAdminReply:      "Replies",
}

// BuildProjectDigest summarizes a project's pending entries as one
// email.
func BuildProjectDigest(projectID string, entries []domain.NotificationEntry) Message {
	return Message{
		Subject: fmt.Sprintf("%d new update(s) on your project", len(entries)),
		HTML:    digestBody(entries),
	}
}

// BuildUserDigest summarizes entries addressed to a single user.
func BuildUserDigest(entries []domain.NotificationEntry) Message {
	return Message{
		Subject: fmt.Sprintf("%d new notification(s)", len(entries)),
		HTML:    digestBody(entries),
	}
}

func digestBody(entries []domain.NotificationEntry) string {
	groups := map[domain.NotificationType][]domain.NotificationEntry{}
	var order []domain.NotificationType
	for _, e := range entries {
		if _, seen := groups[e.Type]; !seen {
			order = append(order, e.Type)
		}
		groups[e.Type] = append(groups[e.Type], e)
	}

	var b strings.Builder
	for _, t := range order {
		label := typeLabels[t]
		if label == "" {
			label = string(t)
		}
		fmt.Fprintf(&b, "<h3>%s</h3>\n<ul>\n", html.EscapeString(label))
		for _, e := range groups[t] {
			var d entryData
			_ = json.Unmarshal(e.Data, &d)
			line := d.Text
			if d.Author != "" {
				line = d.Author + ": " + line
			}
			if d.Media != "" {
				line += " (" + d.Media + ")"
			}
			fmt.Fprintf(&b, "<li>%s</li>\n", html.EscapeString(line))
		}
		b.WriteString("</ul>\n")
	}
	return b.String()
}
