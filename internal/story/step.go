// internal/story/step.go
//
// Steps are the four fixed generation sub-tasks. Their order is the order a
// story is built in: a character sheet feeds the outline, the outline feeds
// the scenes, and the scenes feed the dialogue.

package story

import (
	"fmt"
	"strings"
)

// Step names one generation sub-task.
type Step string

const (
	StepCharacter Step = "character"
	StepOutline   Step = "outline"
	StepScenes    Step = "scenes"
	StepDialogue  Step = "dialogue"
)

var stepOrder = []Step{StepCharacter, StepOutline, StepScenes, StepDialogue}

// Steps returns the steps in narrative order.
func Steps() []Step {
	out := make([]Step, len(stepOrder))
	copy(out, stepOrder)
	return out
}

// FinalStep is the last step in the sequence.
func FinalStep() Step {
	return stepOrder[len(stepOrder)-1]
}

// ParseStep accepts a step token, ignoring case and surrounding whitespace.
func ParseStep(raw string) (Step, error) {
	step := Step(strings.ToLower(strings.TrimSpace(raw)))
	if !step.Valid() {
		return "", fmt.Errorf("story: unknown step %q (want one of %s)", raw, joinSteps(stepOrder))
	}
	return step, nil
}

// Valid reports whether s is one of the four known steps.
func (s Step) Valid() bool {
	return s.Index() >= 0
}

// Index returns the position of s in the sequence, or -1.
func (s Step) Index() int {
	for i, candidate := range stepOrder {
		if candidate == s {
			return i
		}
	}
	return -1
}

// Next returns the step that follows s. The zero Step (nothing run yet) is
// followed by the first step; the final step has no successor.
func (s Step) Next() (Step, bool) {
	if s == "" {
		return stepOrder[0], true
	}
	idx := s.Index()
	if idx < 0 || s == FinalStep() {
		return "", false
	}
	return stepOrder[idx+1], true
}

// FriendlyName is the label shown to users.
func (s Step) FriendlyName() string {
	switch s {
	case StepCharacter:
		return "Character Sheet"
	case StepOutline:
		return "Outline"
	case StepScenes:
		return "Scenes"
	case StepDialogue:
		return "Dialogue"
	default:
		return string(s)
	}
}

func (s Step) String() string {
	return string(s)
}

func joinSteps(steps []Step) string {
	names := make([]string, len(steps))
	for i, step := range steps {
		names[i] = string(step)
	}
	return strings.Join(names, ", ")
}
