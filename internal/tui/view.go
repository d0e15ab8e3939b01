package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/marcin-skalski/prwatch/internal/daemon"
	"github.com/marcin-skalski/prwatch/internal/pr"
	"github.com/marcin-skalski/prwatch/internal/status"
)

const defaultWidth = 100

func renderView(snap daemon.Snapshot, selected int, notice string, width int) string {
	if width <= 0 {
		width = defaultWidth
	}

	var b strings.Builder

	sort := "fetch order"
	if snap.SettledLast {
		sort = "settled last"
	}
	header := fmt.Sprintf("prwatch │ %d PRs │ every %s │ sort: %s", len(snap.Items), snap.Interval, sort)
	b.WriteString(headerStyle.Render(header))
	if worst, ok := mostUrgent(snap.Items); ok {
		b.WriteString(lipgloss.NewStyle().Foreground(statusColor(worst)).
			Render(fmt.Sprintf("%s %s", statusIcon(worst), worst)))
	}
	b.WriteString("\n")

	if snap.Error != "" {
		b.WriteString(errorStyle.Render("  " + snap.Error))
		b.WriteString("\n")
	}

	// Items are already grouped review requests first, then authored.
	var review, authored []int
	for i, it := range snap.Items {
		if it.Category == pr.CategoryReviewRequested {
			review = append(review, i)
		} else {
			authored = append(authored, i)
		}
	}

	b.WriteString(sectionStyle.Render(fmt.Sprintf("Review requested (%d)", len(review))))
	b.WriteString("\n")
	b.WriteString(renderSection(snap.Items, review, selected, width))

	b.WriteString(sectionStyle.Render(fmt.Sprintf("Authored (%d)", len(authored))))
	b.WriteString("\n")
	b.WriteString(renderSection(snap.Items, authored, selected, width))

	var footer []string
	switch {
	case snap.Fetching:
		footer = append(footer, "fetching…")
	case snap.LastRefresh.IsZero():
		footer = append(footer, "never refreshed")
	default:
		footer = append(footer, "Last updated: "+snap.LastRefresh.Format("15:04:05"))
	}
	if notice != "" {
		footer = append(footer, notice)
	}
	footer = append(footer, "q:quit r:refresh w:watch s:sort j/k:move")
	b.WriteString(footerStyle.Render(strings.Join(footer, " │ ")))

	return b.String()
}

func renderSection(items []pr.Item, idx []int, selected, width int) string {
	if len(idx) == 0 {
		return emptyStyle.Render("  (none)") + "\n"
	}

	var b strings.Builder
	for _, i := range idx {
		b.WriteString(renderItem(items[i], i == selected, width))
		b.WriteString("\n")
	}
	return b.String()
}

func renderItem(it pr.Item, selected bool, width int) string {
	watch := " "
	if it.Watched {
		watch = "👁"
	}
	icon := lipgloss.NewStyle().Foreground(statusColor(it.Status)).
		Render(fmt.Sprintf("%s %-17s", statusIcon(it.Status), it.Status))

	ref := fmt.Sprintf("%s#%d", it.RepoName, it.Number)
	prefix := fmt.Sprintf(" %s %s %s ", watch, icon, repoStyle.Render(ref))

	// Title takes whatever is left of the row.
	used := 2 + runewidth.StringWidth(watch) + 1 + 19 + 1 + runewidth.StringWidth(ref) + 1
	title := it.Title
	if it.IsDraft {
		title = "[draft] " + title
	}
	if it.Branch != "" {
		title += " (" + it.Branch + ")"
	}
	if len(it.Labels) > 0 {
		names := make([]string, 0, len(it.Labels))
		for _, l := range it.Labels {
			names = append(names, l.Name)
		}
		title += " [" + strings.Join(names, ", ") + "]"
	}
	if room := width - used; room > 3 && runewidth.StringWidth(title) > room {
		title = runewidth.Truncate(title, room, "...")
	}

	line := prefix + title
	if selected {
		return selectedStyle.Render(line)
	}
	return itemStyle.Render(line)
}

// mostUrgent returns the highest-priority status among items.
func mostUrgent(items []pr.Item) (status.BuildStatus, bool) {
	if len(items) == 0 {
		return "", false
	}
	worst := items[0].Status
	for _, it := range items[1:] {
		if it.Status.Priority() < worst.Priority() {
			worst = it.Status
		}
	}
	return worst, true
}
