package clinic

import (
	"fmt"
	"strings"

	"github.com/cliniscribe/dxgraph/internal/store"
)

// RenderReport produces the plain-text case narrative handed to export
// providers. The output is deterministic for a given record.
func RenderReport(rec *store.CaseRecord) string {
	var b strings.Builder

	title := rec.Title
	if title == "" {
		title = "Untitled case"
	}
	fmt.Fprintf(&b, "Clinical Reasoning Report: %s\n", title)
	fmt.Fprintf(&b, "Case ID: %s\n\n", rec.ID)

	if rec.CurrentSymptom != "" {
		fmt.Fprintf(&b, "Current symptom: %s\n\n", rec.CurrentSymptom)
	} else {
		b.WriteString("Current symptom: not documented\n\n")
	}

	b.WriteString("Associated symptoms:\n")
	writeLabelList(&b, rec.AssociatedSymptoms)
	b.WriteString("\n")

	b.WriteString("Differential diagnoses:\n")
	if len(rec.Diagnoses) == 0 {
		b.WriteString("  none documented\n")
	}
	for i, d := range rec.Diagnoses {
		fmt.Fprintf(&b, "  %d. %s (confidence %.2f", i+1, d.Name, d.Confidence)
		if d.Category != "" {
			fmt.Fprintf(&b, ", %s", d.Category)
		}
		b.WriteString(")")
		if d.Name == rec.Prioritized {
			b.WriteString(" [prioritized]")
		}
		if d.Excluded {
			b.WriteString(" [excluded]")
		}
		b.WriteString("\n")
		if d.Description != "" {
			fmt.Fprintf(&b, "     %s\n", d.Description)
		}
		if len(d.SupportingSymptoms) > 0 {
			fmt.Fprintf(&b, "     Supporting: %s\n", strings.Join(d.SupportingSymptoms, ", "))
		}
		if len(d.ExcludingSymptoms) > 0 {
			fmt.Fprintf(&b, "     Excluding: %s\n", strings.Join(d.ExcludingSymptoms, ", "))
		}
		if len(d.RedFlags) > 0 {
			fmt.Fprintf(&b, "     Red flags: %s\n", strings.Join(d.RedFlags, ", "))
		}
	}
	b.WriteString("\n")

	b.WriteString("Red flags:\n")
	writeLabelList(&b, rec.RedFlags)

	return b.String()
}

func writeLabelList(b *strings.Builder, labels []string) {
	if len(labels) == 0 {
		b.WriteString("  none documented\n")
		return
	}
	for _, label := range labels {
		fmt.Fprintf(b, "  - %s\n", label)
	}
}
