package emotion

import (
	"fmt"
	"regexp"
	"strings"
)

// Label is the persona's affect for one reply.
type Label string

// None means the reply carried no recognizable tag.
const None Label = ""

const (
	Happy      Label = "HAPPY"
	Sad        Label = "SAD"
	Excited    Label = "EXCITED"
	Calm       Label = "CALM"
	Angry      Label = "ANGRY"
	Surprised  Label = "SURPRISED"
	Thoughtful Label = "THOUGHTFUL"
)

// Labels is the closed vocabulary the model is asked to choose from.
var Labels = []Label{Happy, Sad, Excited, Calm, Angry, Surprised, Thoughtful}

var tagPattern = regexp.MustCompile(`(?i)\[\s*EMOTION\s*:\s*(HAPPY|SAD|EXCITED|CALM|ANGRY|SURPRISED|THOUGHTFUL)\s*\]`)

// Valid reports whether l belongs to the closed vocabulary.
func (l Label) Valid() bool {
	for _, known := range Labels {
		if l == known {
			return true
		}
	}
	return false
}

// Parse normalizes s into a Label.
func Parse(s string) (Label, bool) {
	l := Label(strings.ToUpper(strings.TrimSpace(s)))
	if !l.Valid() {
		return None, false
	}
	return l, true
}

// Tag renders the inline marker for l, e.g. "[EMOTION: HAPPY]".
func Tag(l Label) string {
	return fmt.Sprintf("[EMOTION: %s]", l)
}

// stripTags removes markers until none remain. One pass is not enough when
// removing an inner marker joins its neighbours into a new one.
func stripTags(s string) string {
	for {
		next := tagPattern.ReplaceAllString(s, "")
		if next == s {
			return s
		}
		s = next
	}
}

// Decode extracts the first emotion marker from a raw model reply. Every
// recognized marker is stripped so that decoding the cleaned text again
// yields (None, text).
func Decode(raw string) (Label, string) {
	m := tagPattern.FindStringSubmatch(raw)
	if m == nil {
		return None, strings.TrimSpace(raw)
	}

	label := Label(strings.ToUpper(m[1]))
	return label, strings.TrimSpace(stripTags(raw))
}
