package annotation

import (
	"strings"

	"github.com/mnemomark/mnemomark/internal/domain"
)

const unknownDocument = "Unknown"

// Export renders highlights as plain text for the clipboard. Each entry is
//
//	{text}
//	Tags: a, b            (or "Tags: (none)")
//	File: {document}
//	Note: {note}          (only when present)
//
// Entries are separated by a blank line. tagNames maps tag ids to names;
// ids without a name are left out.
func Export(hs []domain.DocumentHighlight, tagNames map[string]string) string {
	entries := make([]string, 0, len(hs))
	for _, h := range hs {
		var names []string
		for _, id := range h.Tags {
			if name, ok := tagNames[id]; ok && name != "" {
				names = append(names, name)
			}
		}

		var sb strings.Builder
		sb.WriteString(h.Text)
		sb.WriteString("\nTags: ")
		if len(names) == 0 {
			sb.WriteString("(none)")
		} else {
			sb.WriteString(strings.Join(names, ", "))
		}
		sb.WriteString("\nFile: ")
		if h.DocumentID == "" {
			sb.WriteString(unknownDocument)
		} else {
			sb.WriteString(h.DocumentID)
		}
		if h.Note != "" {
			sb.WriteString("\nNote: ")
			sb.WriteString(h.Note)
		}
		entries = append(entries, sb.String())
	}
	return strings.Join(entries, "\n\n")
}
