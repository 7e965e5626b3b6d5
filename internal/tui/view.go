package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/muesli/reflow/wordwrap"

	"github.com/kingrea/director/internal/logbook"
	"github.com/kingrea/director/internal/story"
)

const logPanelHeight = 6

var (
	accent       = lipgloss.Color("#5B8DEF")
	muted        = lipgloss.Color("#888888")
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B"))
	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accent)
	focusedSectionStyle = sectionStyle.
				Underline(true).
				Foreground(lipgloss.Color("#F2C14E"))
	placeholderStyle = lipgloss.NewStyle().
				Italic(true).
				Foreground(muted)
	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#AAAAAA"))
	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF5F5F"))
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// View renders the current screen.
func (a *App) View() string {
	var content string
	switch a.state {
	case stateSetup:
		content = a.renderSetup()
	case stateStory:
		content = a.viewport.View()
	case statePreview:
		content = lipgloss.JoinVertical(lipgloss.Left,
			a.preview.View(),
			hintStyle.Render("esc back · ↑/↓ scroll"),
		)
	}
	parts := []string{a.renderHeader(), boxStyle.Render(content), a.renderStatusLine(), a.renderHelp()}
	if panel := a.renderLogPanel(); panel != "" {
		parts = append(parts, panel)
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (a *App) renderHeader() string {
	title := headerStyle.Render("⬡ DIRECTOR")
	if a.session == nil {
		return title
	}
	snap := a.session.Snapshot()
	info := fmt.Sprintf("%s · %s · %s", snap.ID, snap.Mode, snap.Strategy)
	if !snap.UpdatedAt.IsZero() {
		info += " · saved " + humanize.RelTime(snap.UpdatedAt, a.clock(), "ago", "from now")
	}
	if next, ok := a.controller.NextStep(a.session); ok {
		info += fmt.Sprintf(" · next: %s", next.FriendlyName())
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, title, "  ", hintStyle.Render(info))
}

func (a *App) renderSetup() string {
	strategy := "manual (run steps yourself)"
	if a.strategy == story.StrategyAuto {
		strategy = "auto (generate the whole story at once)"
	}
	label := sectionStyle
	premiseLabel := label.Render("Premise")
	if a.focus == focusPremise {
		premiseLabel = focusedSectionStyle.Render("Premise")
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		a.modeMenu.View(),
		"",
		fmt.Sprintf("%s %s", label.Render("Strategy"), strategy),
		"",
		premiseLabel,
		a.premise.View(),
	)
}

func (a *App) renderStatusLine() string {
	switch {
	case a.busy:
		return fmt.Sprintf("%s %s...", a.spinner.View(), a.busyLabel)
	case a.errMsg != "":
		return errorStyle.Render("✗ " + a.errMsg)
	case a.statusMsg != "":
		return hintStyle.Render(a.statusMsg)
	}
	return ""
}

func (a *App) renderHelp() string {
	var help string
	switch a.state {
	case stateSetup:
		help = "tab switch field · ctrl+t toggle strategy · ctrl+s create · q quit"
	case stateStory:
		help = "1-4 step · n next · c chain · f full · [ ] focus · s narrate · e/E export · p preview · d delete · q quit"
	default:
		return ""
	}
	return lipgloss.NewStyle().Foreground(muted).Render(help)
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	entries := a.logbook.Recent(logPanelHeight)
	if len(entries) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	lines := make([]string, len(entries))
	for i, entry := range entries {
		lines[i] = renderEntry(entry)
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(accent).
		Render(fmt.Sprintf("LOG · %s", fileName))
	return boxStyle.Render(fmt.Sprintf("%s\n%s", head, strings.Join(lines, "\n")))
}

func renderEntry(entry logbook.Entry) string {
	stamp := ""
	if !entry.Time.IsZero() {
		stamp = entry.Time.Format("15:04:05") + " "
	}
	style := hintStyle
	switch entry.Level {
	case logbook.LevelWarn:
		style = style.Foreground(lipgloss.Color("#F2C14E"))
	case logbook.LevelError:
		style = style.Foreground(lipgloss.Color("#FF5F5F"))
	}
	return style.Render(stamp + entry.Message)
}

// section is one narratable piece of the story.
type section struct {
	label string
	step  story.Step
	text  string
}

// sectionsOf lists the generated parts of state in reading order.
func sectionsOf(state story.State) []section {
	var out []section
	if text := strings.TrimSpace(state.CharacterSheet); text != "" {
		out = append(out, section{label: story.StepCharacter.FriendlyName(), step: story.StepCharacter, text: text})
	}
	if text := strings.TrimSpace(state.Outline); text != "" {
		out = append(out, section{label: story.StepOutline.FriendlyName(), step: story.StepOutline, text: text})
	}
	for i, scene := range state.Scenes {
		if text := strings.TrimSpace(scene); text != "" {
			out = append(out, section{label: fmt.Sprintf("Scene %d", i+1), step: story.StepScenes, text: text})
		}
	}
	for i, line := range state.Dialogues {
		if text := strings.TrimSpace(line); text != "" {
			out = append(out, section{label: fmt.Sprintf("Dialogue %d", i+1), step: story.StepDialogue, text: text})
		}
	}
	return out
}

// refreshStory re-renders the state into the story viewport.
func (a *App) refreshStory() {
	state := a.currentState()
	sections := sectionsOf(state)
	if a.focused >= len(sections) {
		a.focused = max(0, len(sections)-1)
	}
	width := max(20, a.viewport.Width-2)

	var b strings.Builder
	idx := 0
	for n, step := range story.Steps() {
		fmt.Fprintf(&b, "%s\n", sectionStyle.Render(fmt.Sprintf("%d · %s", n+1, step.FriendlyName())))
		if !state.Has(step) {
			fmt.Fprintf(&b, "%s\n\n", placeholderStyle.Render(fmt.Sprintf("Not generated yet. Press %d.", n+1)))
			continue
		}
		for idx < len(sections) && sections[idx].step == step {
			sec := sections[idx]
			heading := sec.label
			style := hintStyle
			if idx == a.focused {
				heading = "▸ " + heading
				style = focusedSectionStyle
			}
			if step == story.StepScenes || step == story.StepDialogue {
				fmt.Fprintf(&b, "%s\n", style.Render(heading))
			} else if idx == a.focused {
				fmt.Fprintf(&b, "%s\n", style.Render(heading))
			}
			fmt.Fprintf(&b, "%s\n\n", wordwrap.String(sec.text, width))
			idx++
		}
	}
	a.viewport.SetContent(strings.TrimRight(b.String(), "\n"))
}
