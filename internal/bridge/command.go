package bridge

import (
	"strings"

	"github.com/trestle-dev/trestle/internal/resolve"
)

// ApplyCommand reclassifies an event whose text is a recognized command.
// "stop" or "cancel" alone cancels the conversation's session;
// "set-model <model> [effort]" stores a user preference. Anything else is
// left untouched.
func ApplyCommand(ev *Event, text string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return
	}
	switch strings.ToLower(fields[0]) {
	case "stop", "cancel":
		if len(fields) == 1 {
			ev.Kind = EventStop
		}
	case "set-model":
		ev.Kind = EventSetPreference
		override := resolve.Override{}
		if len(fields) > 1 {
			override.Model = fields[1]
		}
		if len(fields) > 2 {
			override.Effort = fields[2]
		}
		ev.Override = override
	}
}
