package story

import "strings"

// Beats splits an outline into short story beats for display and export.
//
// Lines that start with "Beat" are taken as-is when the outline uses them.
// Otherwise each blank-line separated paragraph becomes a beat of at most its
// first two sentences, and an outline with neither shape is one beat.
func Beats(outline string) []string {
	trimmed := strings.TrimSpace(outline)
	if trimmed == "" {
		return nil
	}

	var beats []string
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(line), "beat") {
			beats = append(beats, line)
		}
	}
	if len(beats) > 0 {
		return beats
	}

	for _, paragraph := range strings.Split(trimmed, "\n\n") {
		sentences := splitSentences(paragraph)
		if len(sentences) == 0 {
			continue
		}
		if len(sentences) > 2 {
			sentences = sentences[:2]
		}
		beats = append(beats, strings.Join(sentences, ". ")+".")
	}
	if len(beats) > 0 {
		return beats
	}
	return []string{trimmed}
}

func splitSentences(paragraph string) []string {
	var sentences []string
	for _, part := range strings.Split(paragraph, ".") {
		sentence := strings.Join(strings.Fields(part), " ")
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
	}
	return sentences
}
