// Package session drives a single user's draft through the submission flow:
// upload states, required tags, optional link/title/note, the spoiler choice
// and finally the publish pipeline.
package session

import (
	"subgate/internal/draft"
)

// State is the user's position in the linear submission flow.
type State int

const (
	// StateNone means no active conversation.
	StateNone State = iota
	StateSelectMode
	StateDocumentUpload
	StateMediaUpload
	StateTag
	StateLink
	StateTitle
	StateNote
	StateSpoiler
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateSelectMode:
		return "select_mode"
	case StateDocumentUpload:
		return "document_upload"
	case StateMediaUpload:
		return "media_upload"
	case StateTag:
		return "tag"
	case StateLink:
		return "link"
	case StateTitle:
		return "title"
	case StateNote:
		return "note"
	case StateSpoiler:
		return "spoiler"
	}
	return "unknown"
}

// Command is a parsed slash command.
type Command string

const (
	CmdNone         Command = ""
	CmdStart        Command = "start"
	CmdCancel       Command = "cancel"
	CmdDoneMedia    Command = "done_media"
	CmdSkipMedia    Command = "skip_media"
	CmdDoneDoc      Command = "done_doc"
	CmdSkipOptional Command = "skip_optional"
	CmdDebug        Command = "debug"

	// Owner-only commands, routed outside the state machine.
	CmdBlacklistAdd    Command = "blacklist_add"
	CmdBlacklistRemove Command = "blacklist_remove"
	CmdBlacklistList   Command = "blacklist_list"
)

// DocumentUpload is a raw file upload with its declared MIME type, before
// the accumulator reclassifies it.
type DocumentUpload struct {
	FileRef string
	MIME    string
}

// Event is one inbound user action. Exactly one of Command, Media, Document
// or Text is meaningful.
type Event struct {
	UserID   int64
	ChatID   int64
	Username string

	Command  Command
	Text     string
	Media    *draft.Item
	Document *DocumentUpload
}

// OutcomeKind distinguishes "stay in state" from "advance" from "session
// over" so recoverable conditions never tear a session down.
type OutcomeKind int

const (
	OutcomeStay OutcomeKind = iota
	OutcomeAdvance
	OutcomeTerminate
)

// Outcome is the result of handling one event. Reply, when non-empty, is
// sent back to the user's chat.
type Outcome struct {
	Kind  OutcomeKind
	State State
	Reply string
}

func stay(s State, reply string) Outcome {
	return Outcome{Kind: OutcomeStay, State: s, Reply: reply}
}

func advance(s State, reply string) Outcome {
	return Outcome{Kind: OutcomeAdvance, State: s, Reply: reply}
}

func terminate(reply string) Outcome {
	return Outcome{Kind: OutcomeTerminate, State: StateNone, Reply: reply}
}
