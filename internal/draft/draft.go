// Package draft holds the per-user submission record and its invariants.
package draft

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"subgate/internal/transport"
	"subgate/pkg/tgui"
)

// Mode is the submission type for a draft. It is selected once (at /start or
// at mode selection in mixed deployments) and never changes afterwards.
type Mode string

const (
	ModeMedia    Mode = "media"
	ModeDocument Mode = "document"
	ModeMixed    Mode = "mixed"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeMedia:
		return ModeMedia, nil
	case ModeDocument:
		return ModeDocument, nil
	case ModeMixed, "":
		return ModeMixed, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

const (
	// MediaCapMediaOnly applies when the whole submission is media.
	MediaCapMediaOnly = 50
	// MediaCapAssist applies when media accompanies documents.
	MediaCapAssist = 10
	// DocumentCap bounds the document list in every mode.
	DocumentCap = 10

	TitleMaxRunes = 100
	NoteMaxRunes  = 600
)

// MediaCap returns the media list bound for the given mode.
func (m Mode) MediaCap() int {
	if m == ModeMedia {
		return MediaCapMediaOnly
	}
	return MediaCapAssist
}

// Item is one uploaded attachment, stored as a "kind:reference" token.
type Item struct {
	Kind    transport.MediaKind
	FileRef string
}

func (it Item) String() string { return string(it.Kind) + ":" + it.FileRef }

var errBadItemToken = errors.New("malformed item token")

// ParseItem parses the persisted "kind:reference" token form.
func ParseItem(tok string) (Item, error) {
	kind, ref, ok := strings.Cut(tok, ":")
	if !ok || kind == "" || ref == "" {
		return Item{}, fmt.Errorf("%w: %q", errBadItemToken, tok)
	}
	switch k := transport.MediaKind(kind); k {
	case transport.KindPhoto, transport.KindVideo, transport.KindAnimation,
		transport.KindAudio, transport.KindDocument:
		return Item{Kind: k, FileRef: ref}, nil
	}
	return Item{}, fmt.Errorf("%w: unknown kind in %q", errBadItemToken, tok)
}

// Draft is the mutable, single-owner-per-user record of an in-progress
// submission. At most one draft exists per user at any time.
type Draft struct {
	UserID       int64
	CreatedAt    time.Time
	LastActivity time.Time

	Mode Mode

	Media     []Item
	Documents []Item

	Tags    string // rendered tag string ("#a #b"), not raw input
	Link    string
	Title   string
	Note    string
	Spoiler bool

	// Username is captured at draft creation for attribution.
	Username string
}

// SetTitle truncates at write time so stored drafts never carry oversized fields.
func (d *Draft) SetTitle(s string) { d.Title = tgui.TruncRunes(s, TitleMaxRunes) }

// SetNote truncates at write time so stored drafts never carry oversized fields.
func (d *Draft) SetNote(s string) { d.Note = tgui.TruncRunes(s, NoteMaxRunes) }

// HasUploads reports whether the draft carries anything publishable.
// A draft with neither media nor documents is invalid for completion.
func (d *Draft) HasUploads() bool { return len(d.Media) > 0 || len(d.Documents) > 0 }
