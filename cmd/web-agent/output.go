package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/web-agent/web-agent/internal/orchestrator"
	"github.com/web-agent/web-agent/internal/store"
)

const separator = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

func printErrors(w io.Writer, errs []string) {
	if len(errs) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "⚠️  %d errors:\n", len(errs))
	for _, e := range errs {
		fmt.Fprintf(w, "  ❌ %s\n", e)
	}
}

func printRunResult(w io.Writer, siteID string, res orchestrator.RunResult) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, separator)
	fmt.Fprintf(w, "📊 Run complete: %d threads processed, %d drafts created\n", res.ThreadsProcessed, res.DraftsCreated)
	printErrors(w, res.Errors)
	if res.ThreadsProcessed > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Next: web-agent review --site %s\n", siteID)
	}
}

func printSendResult(w io.Writer, res orchestrator.SendResult, dryRun bool) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, separator)
	if dryRun {
		fmt.Fprintf(w, "📊 Dry run complete: %d replies would be sent\n", res.WouldSend)
	} else {
		fmt.Fprintf(w, "📊 Complete: %d sent, %d failed\n", res.Sent, res.Failed)
	}
	printErrors(w, res.Errors)
}

func statusIcon(s store.Status) string {
	switch s {
	case store.StatusSent:
		return "✅"
	case store.StatusFailed:
		return "❌"
	case store.StatusApproved:
		return "📤"
	}
	return "📝"
}

func printStatus(w io.Writer, siteID string, st store.Stats, drafts []store.Draft, limit int) {
	title := "📊 Draft Statistics"
	if siteID != "" {
		title += " (" + siteID + ")"
	}
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, separator)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Total:    %d\n", st.Total)
	fmt.Fprintf(w, "  Pending:  %d\n", st.Pending)
	fmt.Fprintf(w, "  Approved: %d\n", st.Approved)
	fmt.Fprintf(w, "  Sent:     %d\n", st.Sent)
	fmt.Fprintf(w, "  Failed:   %d\n", st.Failed)

	if len(drafts) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "📜 Recent Drafts (last %d)\n", limit)
	fmt.Fprintln(w, separator)
	for i := len(drafts) - 1; i >= 0; i-- {
		d := drafts[i]
		fmt.Fprintf(w, "%s #%d %s - %s/%s [%s] %s\n",
			statusIcon(d.Status),
			d.ID,
			d.CreatedAt.Local().Format("2006-01-02 15:04"),
			d.Site,
			d.ThreadID,
			d.Status,
			truncateString(strings.Join(strings.Fields(d.DraftText), " "), 50),
		)
		if d.Error != "" {
			fmt.Fprintf(w, "   Error: %s\n", truncateString(d.Error, 120))
		}
	}
}

// confirm asks a yes/no question; anything but y or yes is a no.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// truncateString shortens s to maxLen runes, ending in "...".
func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
