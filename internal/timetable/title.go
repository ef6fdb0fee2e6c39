package timetable

import (
	"regexp"
	"strings"

	"unical/internal/model"
)

var (
	bracketPrefix = regexp.MustCompile(`\[.*?\]\s*`)
	edgeDashes    = regexp.MustCompile(`^[-\s]+|[-\s]+$`)
	multiSpace    = regexp.MustCompile(`\s{2,}`)
)

// DisplayTitle strips bracketed prefixes such as "[DTM - 2 - ]" from the
// title and, when the program name is repeated in it, the program's longer
// words. If nothing is left it falls back to the title without brackets.
func DisplayTitle(e model.Event) string {
	title := bracketPrefix.ReplaceAllString(e.Title, "")

	if e.Program != "" && strings.Contains(title, e.Program) {
		for _, part := range strings.Fields(e.Program) {
			if len(part) <= 3 {
				continue
			}
			re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(part))
			title = strings.TrimSpace(re.ReplaceAllString(title, ""))
		}
	}

	title = edgeDashes.ReplaceAllString(title, "")
	title = multiSpace.ReplaceAllString(title, " ")

	if strings.TrimSpace(title) == "" {
		title = bracketPrefix.ReplaceAllString(e.Title, "")
	}
	return strings.TrimSpace(title)
}

// Location formats the first room as "<location> - <resource>". It returns
// "" when the event has no room.
func Location(e model.Event) string {
	if len(e.Aule) == 0 {
		return ""
	}
	r := e.Aule[0]
	switch {
	case r.Location != "" && r.Resource != "":
		return r.Location + " - " + r.Resource
	case r.Resource != "":
		return r.Resource
	default:
		return r.Location
	}
}

// Description is the free-text body used for exported events.
func Description(e model.Event) string {
	teacher := e.Docente
	if teacher == "" {
		teacher = "N/A"
	}
	var b strings.Builder
	b.WriteString("Course: " + e.Title)
	b.WriteString("\nTeacher: " + teacher)
	b.WriteString("\nProgram: " + e.Program)
	if e.Note != "" {
		b.WriteString("\nNotes: " + e.Note)
	}
	return b.String()
}
