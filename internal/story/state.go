package story

// State is the accumulated narrative of a session. Every field is optional;
// an empty value means the producing step has not run (or returned nothing).
type State struct {
	CharacterSheet string   `json:"character_sheet,omitempty"`
	Outline        string   `json:"outline,omitempty"`
	Scenes         []string `json:"scenes,omitempty"`
	Dialogues      []string `json:"dialogues,omitempty"`
}

// Patch carries the fields a service response supplied. A nil field was
// absent from the response and leaves the previous value in place.
type Patch struct {
	CharacterSheet *string
	Outline        *string
	Scenes         *[]string
	Dialogues      *[]string
}

// Merge folds p into base. Present scalar fields replace the prior value.
// Present list fields replace the prior list wholesale, since the service
// returns the full current list on every call. Neither input is modified.
func Merge(base State, p Patch) State {
	out := base.Clone()
	if p.CharacterSheet != nil {
		out.CharacterSheet = *p.CharacterSheet
	}
	if p.Outline != nil {
		out.Outline = *p.Outline
	}
	if p.Scenes != nil {
		out.Scenes = cloneStrings(*p.Scenes)
	}
	if p.Dialogues != nil {
		out.Dialogues = cloneStrings(*p.Dialogues)
	}
	return out
}

// Replace builds a state from p alone. A full run uses it to supersede every
// earlier partial result.
func Replace(p Patch) State {
	return Merge(State{}, p)
}

// Clone returns a copy that shares no slices with s.
func (s State) Clone() State {
	return State{
		CharacterSheet: s.CharacterSheet,
		Outline:        s.Outline,
		Scenes:         cloneStrings(s.Scenes),
		Dialogues:      cloneStrings(s.Dialogues),
	}
}

// IsEmpty reports whether nothing has been generated yet.
func (s State) IsEmpty() bool {
	return s.CharacterSheet == "" && s.Outline == "" && len(s.Scenes) == 0 && len(s.Dialogues) == 0
}

// Has reports whether the field produced by step holds any content.
func (s State) Has(step Step) bool {
	switch step {
	case StepCharacter:
		return s.CharacterSheet != ""
	case StepOutline:
		return s.Outline != ""
	case StepScenes:
		return len(s.Scenes) > 0
	case StepDialogue:
		return len(s.Dialogues) > 0
	default:
		return false
	}
}

// Completed lists the steps whose fields hold content, in sequence order.
func (s State) Completed() []Step {
	var done []Step
	for _, step := range stepOrder {
		if s.Has(step) {
			done = append(done, step)
		}
	}
	return done
}

// Fields reports which fields the patch carries, as the steps producing them.
func (p Patch) Fields() []Step {
	var steps []Step
	if p.CharacterSheet != nil {
		steps = append(steps, StepCharacter)
	}
	if p.Outline != nil {
		steps = append(steps, StepOutline)
	}
	if p.Scenes != nil {
		steps = append(steps, StepScenes)
	}
	if p.Dialogues != nil {
		steps = append(steps, StepDialogue)
	}
	return steps
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
