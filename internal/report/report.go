// Package report renders run summaries for the terminal and notifications.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"CommunityScanner/internal/domain"
)

// Summary renders one row per entity followed by the run totals.
func Summary(s domain.RunSummary) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.Style().Format.Footer = text.FormatDefault
	t.SetTitle("run %s", s.RunID)
	t.AppendHeader(table.Row{"Entity", "Community", "State", "New items", "Batches", "Note"})

	for _, o := range s.Outcomes {
		community := ""
		if o.Community != "" {
			community = "r/" + o.Community
		}
		note := o.Reason
		if o.Failed {
			note = "FAILED: " + note
		}
		t.AppendRow(table.Row{o.Entity, community, string(o.State), o.NewItems, o.Batches, note})
	}

	failed := 0
	for _, o := range s.Outcomes {
		if o.Failed {
			failed++
		}
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d entities", len(s.Outcomes)),
		"",
		fmt.Sprintf("%d done, %d skipped", s.Count(domain.StateDone), s.Count(domain.StateSkipped)),
		s.NewItems(),
		"",
		fmt.Sprintf("%d failed", failed),
	})

	var b strings.Builder
	b.WriteString(t.Render())
	if !s.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "\nduration %s", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	}
	return b.String()
}

// Resolutions renders the resolution map for review.
func Resolutions(entries []domain.ResolutionEntry) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Entity", "Community", "Reviewed"})
	for _, e := range entries {
		community := "-"
		if e.Resolved() {
			community = "r/" + e.Handle()
		}
		reviewed := ""
		if e.Reviewed {
			reviewed = "yes"
		}
		t.AppendRow(table.Row{e.EntityName, community, reviewed})
	}
	return t.Render()
}
