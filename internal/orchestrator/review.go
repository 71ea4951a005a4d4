package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/web-agent/web-agent/internal/store"
)

type ReviewOptions struct {
	Site       string
	Store      Store
	OutputPath string
	Now        func() time.Time
	Logger     *slog.Logger
}

// GenerateReview writes the review document for every pending draft of the
// site and returns how many it contains. With nothing pending no file is
// written and the count is 0.
func GenerateReview(ctx context.Context, opts ReviewOptions) (int, error) {
	log := opts.Logger
	if log == nil {
		log = discardLogger()
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	log = log.With("site", opts.Site)

	drafts, err := opts.Store.GetDraftsBySiteAndStatus(ctx, opts.Site, store.StatusPending)
	if err != nil {
		return 0, err
	}
	if len(drafts) == 0 {
		log.Info("no pending drafts to review")
		return 0, nil
	}

	doc := RenderReview(opts.Site, now(), drafts, opts.OutputPath)
	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0700); err != nil {
		return 0, fmt.Errorf("failed to create review directory: %w", err)
	}
	if err := os.WriteFile(opts.OutputPath, []byte(doc), 0600); err != nil {
		return 0, fmt.Errorf("failed to write review file: %w", err)
	}

	log.Info("review file created", "path", opts.OutputPath, "count", len(drafts))
	return len(drafts), nil
}

// RenderReview builds the review document. reviewPath only appears in the
// instructions; empty renders a "<path>" placeholder.
func RenderReview(site string, day time.Time, drafts []store.Draft, reviewPath string) string {
	if reviewPath == "" {
		reviewPath = "<path>"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Review: %s - %s\n\n", site, day.UTC().Format("2006-01-02"))
	fmt.Fprintf(&b, "**Total Drafts:** %d\n\n", len(drafts))
	b.WriteString("## Instructions\n\n")
	b.WriteString("- Edit draft text inline to modify\n")
	b.WriteString("- Delete entire section (including `---`) to reject\n")
	b.WriteString("- Keep as-is to approve\n")
	fmt.Fprintf(&b, "- Save file and run: `web-agent send --site %s --review-file %s`\n\n", site, reviewPath)
	b.WriteString("---\n\n")

	for _, d := range drafts {
		confidence := string(d.Confidence)
		if confidence == "" {
			confidence = "unknown"
		}
		requiresReview := "No"
		if d.RequiresReview {
			requiresReview = "Yes"
		}
		fence := fenceFor(d.DraftText)

		fmt.Fprintf(&b, "## Draft %d\n\n", d.ID)
		fmt.Fprintf(&b, "**Thread:** %s\n", d.ThreadID)
		fmt.Fprintf(&b, "**Confidence:** %s\n", confidence)
		fmt.Fprintf(&b, "**Requires Review:** %s\n\n", requiresReview)
		b.WriteString("**Draft Reply:**\n\n")
		fmt.Fprintf(&b, "%s\n%s\n%s\n\n", fence, d.DraftText, fence)
		b.WriteString("---\n\n")
	}
	return b.String()
}

// fenceFor returns a backtick fence longer than any backtick run in text.
func fenceFor(text string) string {
	longest, run := 0, 0
	for _, r := range text {
		if r == '`' {
			run++
			if run > longest {
				longest = run
			}
			continue
		}
		run = 0
	}
	n := 3
	if longest >= n {
		n = longest + 1
	}
	return strings.Repeat("`", n)
}

var draftHeading = regexp.MustCompile(`(?m)^## Draft (\d+)[ \t]*$`)

// ParseReview returns the approved text per draft id of an edited review
// document. Deleted sections are simply absent. Sections without a fenced
// block, or whose block is empty, are skipped. A repeated id keeps its first
// section.
func ParseReview(content string) map[int64]string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	approved := make(map[int64]string)

	headings := draftHeading.FindAllStringSubmatchIndex(content, -1)
	for i, h := range headings {
		id, err := strconv.ParseInt(content[h[2]:h[3]], 10, 64)
		if err != nil {
			continue
		}
		if _, seen := approved[id]; seen {
			continue
		}

		end := len(content)
		if i+1 < len(headings) {
			end = headings[i+1][0]
		}
		text, ok := firstFencedBlock(content[h[1]:end])
		if !ok {
			continue
		}
		if text = strings.TrimSpace(text); text == "" {
			continue
		}
		approved[id] = text
	}
	return approved
}

// firstFencedBlock returns the body of the first block opened by a line of
// three or more backticks and closed by an identical line.
func firstFencedBlock(section string) (string, bool) {
	lines := strings.Split(section, "\n")
	for i, line := range lines {
		fence := strings.TrimRight(line, " \t")
		if len(fence) < 3 || strings.Trim(fence, "`") != "" {
			continue
		}
		for j := i + 1; j < len(lines); j++ {
			if strings.TrimRight(lines[j], " \t") == fence {
				return strings.Join(lines[i+1:j], "\n"), true
			}
		}
		return "", false
	}
	return "", false
}
