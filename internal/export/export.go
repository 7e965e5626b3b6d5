// Package export flattens a story state into a paginated document. Rendering
// is a pure read of the state; nothing here mutates a session.
package export

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/kingrea/director/internal/story"
)

// Format names an output encoding.
type Format string

const (
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
)

// ParseFormat accepts md, markdown or html. Empty means Markdown.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "md", "markdown":
		return FormatMarkdown, nil
	case "html", "htm":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("export: unknown format %q (want md or html)", raw)
	}
}

// Extension returns the file extension for the format, with the dot.
func (f Format) Extension() string {
	if f == FormatHTML {
		return ".html"
	}
	return ".md"
}

// Meta describes the story being exported.
type Meta struct {
	Title       string
	Mode        story.Mode
	Premise     string
	SessionID   string
	GeneratedAt time.Time
}

// Page is one page of the document. Body is Markdown.
type Page struct {
	Heading string
	Body    string
}

// Document is the paginated story.
type Document struct {
	Meta  Meta
	Pages []Page
}

const emptyNotice = "_Nothing has been generated yet._"

// Render lays out the state as a title page, the character sheet, the outline
// beats, one page per scene with its aligned dialogue, and a final page for
// dialogue left over once the scenes run out.
func Render(meta Meta, state story.State) Document {
	if strings.TrimSpace(meta.Title) == "" {
		meta.Title = titleFromPremise(meta.Premise)
	}
	doc := Document{Meta: meta}
	doc.Pages = append(doc.Pages, titlePage(meta, state))

	if sheet := strings.TrimSpace(state.CharacterSheet); sheet != "" {
		doc.Pages = append(doc.Pages, Page{Heading: story.StepCharacter.FriendlyName(), Body: sheet})
	}
	if beats := story.Beats(state.Outline); len(beats) > 0 {
		var b strings.Builder
		for i, beat := range beats {
			fmt.Fprintf(&b, "%d. %s\n", i+1, beat)
		}
		doc.Pages = append(doc.Pages, Page{Heading: story.StepOutline.FriendlyName(), Body: strings.TrimRight(b.String(), "\n")})
	}
	for i, scene := range state.Scenes {
		var b strings.Builder
		b.WriteString(strings.TrimSpace(scene))
		if i < len(state.Dialogues) {
			if line := strings.TrimSpace(state.Dialogues[i]); line != "" {
				b.WriteString("\n\n#### Dialogue\n\n")
				b.WriteString(quote(line))
			}
		}
		doc.Pages = append(doc.Pages, Page{Heading: fmt.Sprintf("Scene %d", i+1), Body: b.String()})
	}
	if extra := extraDialogues(state); len(extra) > 0 {
		doc.Pages = append(doc.Pages, Page{Heading: "Additional Dialogue", Body: strings.Join(extra, "\n\n")})
	}
	return doc
}

// Markdown joins the pages with horizontal rules as page breaks.
func Markdown(doc Document) string {
	parts := make([]string, 0, len(doc.Pages))
	for i, page := range doc.Pages {
		level := "##"
		if i == 0 {
			level = "#"
		}
		parts = append(parts, fmt.Sprintf("%s %s\n\n%s", level, page.Heading, page.Body))
	}
	return strings.Join(parts, "\n\n---\n\n") + "\n"
}

var markdown = goldmark.New(goldmark.WithRendererOptions(gmhtml.WithHardWraps()))

const pageCSS = `body { font-family: Georgia, serif; max-width: 42rem; margin: 2rem auto; line-height: 1.5; }
section.page { page-break-after: always; break-after: page; padding-bottom: 2rem; }
section.page:last-child { page-break-after: auto; break-after: auto; }
blockquote { border-left: 3px solid #999; margin-left: 0; padding-left: 1rem; color: #333; }`

// HTML renders a standalone page, one <section> per document page.
func HTML(doc Document) (string, error) {
	var out bytes.Buffer
	out.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&out, "<title>%s</title>\n<style>\n%s\n</style>\n</head>\n<body>\n", html.EscapeString(doc.Meta.Title), pageCSS)
	for i, page := range doc.Pages {
		tag := "h2"
		if i == 0 {
			tag = "h1"
		}
		fmt.Fprintf(&out, "<section class=\"page\">\n<%s>%s</%s>\n", tag, html.EscapeString(page.Heading), tag)
		if err := markdown.Convert([]byte(page.Body), &out); err != nil {
			return "", fmt.Errorf("export: render page %d: %w", i+1, err)
		}
		out.WriteString("</section>\n")
	}
	out.WriteString("</body>\n</html>\n")
	return out.String(), nil
}

// Write encodes doc in format f.
func Write(w io.Writer, doc Document, f Format) error {
	var text string
	switch f {
	case FormatHTML:
		rendered, err := HTML(doc)
		if err != nil {
			return err
		}
		text = rendered
	case FormatMarkdown, "":
		text = Markdown(doc)
	default:
		return fmt.Errorf("export: unknown format %q", f)
	}
	if _, err := io.WriteString(w, text); err != nil {
		return fmt.Errorf("export: write: %w", err)
	}
	return nil
}

func titlePage(meta Meta, state story.State) Page {
	var lines []string
	if meta.Mode != "" {
		lines = append(lines, fmt.Sprintf("**Mode:** %s", meta.Mode))
	}
	if premise := strings.TrimSpace(meta.Premise); premise != "" {
		lines = append(lines, fmt.Sprintf("**Premise:** %s", premise))
	}
	if !meta.GeneratedAt.IsZero() {
		lines = append(lines, fmt.Sprintf("**Exported:** %s", meta.GeneratedAt.UTC().Format("2006-01-02 15:04 MST")))
	}
	if meta.SessionID != "" {
		lines = append(lines, fmt.Sprintf("**Session:** `%s`", meta.SessionID))
	}
	if state.IsEmpty() {
		lines = append(lines, emptyNotice)
	}
	return Page{Heading: meta.Title, Body: strings.Join(lines, "\n\n")}
}

func extraDialogues(state story.State) []string {
	if len(state.Dialogues) <= len(state.Scenes) {
		return nil
	}
	var extra []string
	for _, line := range state.Dialogues[len(state.Scenes):] {
		if line = strings.TrimSpace(line); line != "" {
			extra = append(extra, quote(line))
		}
	}
	return extra
}

func quote(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight("> "+line, " ")
	}
	return strings.Join(lines, "\n")
}

func titleFromPremise(premise string) string {
	premise = strings.Join(strings.Fields(premise), " ")
	if premise == "" {
		return "Untitled Story"
	}
	if idx := strings.IndexAny(premise, ".!?"); idx > 0 {
		premise = premise[:idx]
	}
	const limit = 60
	if runes := []rune(premise); len(runes) > limit {
		cut := string(runes[:limit])
		if sp := strings.LastIndex(cut, " "); sp > 0 {
			cut = cut[:sp]
		}
		premise = cut + "…"
	}
	return premise
}
