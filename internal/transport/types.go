package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

// MediaKind is the normalized media classification used across the bot.
type MediaKind string

const (
	KindPhoto     MediaKind = "photo"
	KindVideo     MediaKind = "video"
	KindAnimation MediaKind = "animation"
	KindAudio     MediaKind = "audio"
	KindDocument  MediaKind = "document"
)

// GroupCompatible reports whether the kind can be posted inside a mixed
// photo/video/animation album.
func (k MediaKind) GroupCompatible() bool {
	switch k {
	case KindPhoto, KindVideo, KindAnimation:
		return true
	}
	return false
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string

	// Media is set for photo/video/animation/audio messages.
	Media *MediaItem
	// Document is set for generic file uploads.
	Document *DocumentItem
}

// MediaItem is an uploaded media attachment identified by its platform file reference.
type MediaItem struct {
	Kind    MediaKind
	FileRef string
}

// DocumentItem is a generic file upload with its declared MIME type.
// Reclassification (gif -> animation, audio/* -> audio) is a core concern,
// not a transport concern; the adapter passes the MIME through untouched.
type DocumentItem struct {
	FileRef string
	MIME    string
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

// ChatTarget addresses an outbound destination. Either ChatID or Username
// ("@channel") is set; Username wins when both are present.
type ChatTarget struct {
	ChatID   int64
	Username string
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

func (r MessageRef) IsZero() bool { return r.MessageID == 0 }

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Spoiler        bool
	ReplyTo        *MessageRef
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)

	// SendMedia posts a single media item or document. Caption may be empty.
	SendMedia(ctx context.Context, to ChatTarget, item MediaItem, caption string, opt *SendOptions) (MessageRef, error)

	// SendMediaGroup posts up to 10 items as one visually-grouped album.
	// The caption is attached to the item at captionIndex (-1 for none).
	SendMediaGroup(ctx context.Context, to ChatTarget, items []MediaItem, caption string, captionIndex int, opt *SendOptions) ([]MessageRef, error)
}
