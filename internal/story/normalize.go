package story

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrMalformedState is returned when a response body does not hold a state object.
var ErrMalformedState = errors.New("story: response is not a state object")

// Responses carry the state either bare or under one of these wrapper keys.
var stateWrappers = []string{"state", "full_state"}

// Field labels the service has used for each logical field, preferred first.
var (
	characterKeys = []string{"character_sheet"}
	outlineKeys   = []string{"outline", "outline_text"}
	sceneKeys     = []string{"scenes"}
	dialogueKeys  = []string{"dialogues", "dialogue"}
)

// Normalize turns a service response body into a Patch. It unwraps a state
// nested under a conventional wrapper key and folds field aliases together,
// so the rest of the client only ever sees the four canonical fields.
func Normalize(body []byte) (Patch, error) {
	if !gjson.ValidBytes(body) {
		return Patch{}, fmt.Errorf("%w: invalid JSON", ErrMalformedState)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return Patch{}, fmt.Errorf("%w: got %s", ErrMalformedState, root.Type)
	}
	return normalizeObject(unwrapState(root)), nil
}

func unwrapState(root gjson.Result) gjson.Result {
	for _, key := range stateWrappers {
		if inner := root.Get(key); inner.IsObject() {
			return inner
		}
	}
	return root
}

func normalizeObject(obj gjson.Result) Patch {
	return Patch{
		CharacterSheet: textField(obj, characterKeys),
		Outline:        textField(obj, outlineKeys),
		Scenes:         listField(obj, sceneKeys),
		Dialogues:      listField(obj, dialogueKeys),
	}
}

// textField returns the first present alias. An empty value yields to a later
// alias that has content.
func textField(obj gjson.Result, keys []string) *string {
	var found *string
	for _, key := range keys {
		value, ok := lookup(obj, key)
		if !ok {
			continue
		}
		text := value.String()
		if found == nil {
			found = &text
		} else if strings.TrimSpace(*found) == "" && strings.TrimSpace(text) != "" {
			found = &text
		}
	}
	return found
}

// listField accepts an array of strings or a single string; the service has
// returned both shapes for scenes and dialogue.
func listField(obj gjson.Result, keys []string) *[]string {
	for _, key := range keys {
		value, ok := lookup(obj, key)
		if !ok {
			continue
		}
		items := []string{}
		switch {
		case value.IsArray():
			for _, item := range value.Array() {
				if item.Type == gjson.Null {
					items = append(items, "")
					continue
				}
				items = append(items, item.String())
			}
		case value.Type == gjson.String:
			if strings.TrimSpace(value.Str) != "" {
				items = append(items, value.Str)
			}
		default:
			items = append(items, value.String())
		}
		return &items
	}
	return nil
}

// lookup treats JSON null the same as a missing key.
func lookup(obj gjson.Result, key string) (gjson.Result, bool) {
	value := obj.Get(key)
	if !value.Exists() || value.Type == gjson.Null {
		return gjson.Result{}, false
	}
	return value, true
}
