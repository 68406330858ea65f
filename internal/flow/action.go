package flow

import (
	"fmt"
	"strings"

	"github.com/you/ytmediabot/internal/media"
)

// ActionKind is what the requester asked for.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionVideo
	ActionAudio
	ActionTranscript
	ActionSummary
	ActionConvertVideo
	ActionSplit
)

func (k ActionKind) String() string {
	switch k {
	case ActionVideo:
		return "video"
	case ActionAudio:
		return "audio"
	case ActionTranscript:
		return "transcript"
	case ActionSummary:
		return "summary"
	case ActionConvertVideo:
		return "convert"
	case ActionSplit:
		return "split"
	}
	return "none"
}

// Action is the tagged variant parsed once at the event boundary.
type Action struct {
	Kind ActionKind
	Tier media.Tier // only for ActionConvertVideo
}

// Scope narrows an AI-backed action to the whole video or an excerpt.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeFull
	ScopePartial
)

// Callback is a parsed button press: either an action or a scope choice.
type Callback struct {
	Action Action
	Scope  Scope
}

// ParseCallback decodes an inline-button token. Tokens are the whole
// vocabulary the bot ever attaches to buttons, so anything else is a
// protocol error.
func ParseCallback(data string) (Callback, error) {
	data = strings.TrimSpace(data)
	switch {
	case data == "act:video":
		return Callback{Action: Action{Kind: ActionVideo}}, nil
	case data == "act:audio":
		return Callback{Action: Action{Kind: ActionAudio}}, nil
	case data == "act:transcript":
		return Callback{Action: Action{Kind: ActionTranscript}}, nil
	case data == "act:summary":
		return Callback{Action: Action{Kind: ActionSummary}}, nil
	case data == "scope:full":
		return Callback{Scope: ScopeFull}, nil
	case data == "scope:partial":
		return Callback{Scope: ScopePartial}, nil
	case data == "split":
		return Callback{Action: Action{Kind: ActionSplit}}, nil
	case strings.HasPrefix(data, "tier:"):
		tier := media.Tier(strings.TrimPrefix(data, "tier:"))
		if !tier.Valid() {
			return Callback{}, fmt.Errorf("unknown tier token %q", data)
		}
		return Callback{Action: Action{Kind: ActionConvertVideo, Tier: tier}}, nil
	}
	return Callback{}, fmt.Errorf("unknown callback token %q", data)
}
