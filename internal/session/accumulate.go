package session

import (
	"errors"
	"strings"

	"subgate/internal/draft"
	"subgate/internal/transport"
)

// errCapacity signals an append rejected by the mode-specific cap.
// It is recoverable: the caller stays in state and re-prompts.
var errCapacity = errors.New("item cap reached")

// NormalizeDocument reclassifies a generic file upload by its declared MIME
// type: image-sequence formats become animations, audio formats become
// audio, everything else stays a document.
func NormalizeDocument(up DocumentUpload) draft.Item {
	mime := strings.ToLower(strings.TrimSpace(up.MIME))
	switch {
	case mime == "image/gif":
		return draft.Item{Kind: transport.KindAnimation, FileRef: up.FileRef}
	case strings.HasPrefix(mime, "audio/"):
		return draft.Item{Kind: transport.KindAudio, FileRef: up.FileRef}
	}
	return draft.Item{Kind: transport.KindDocument, FileRef: up.FileRef}
}

// appendMedia enforces the mode-specific media cap before appending.
func appendMedia(d *draft.Draft, it draft.Item) error {
	if len(d.Media) >= d.Mode.MediaCap() {
		return errCapacity
	}
	d.Media = append(d.Media, it)
	return nil
}

// appendDocument enforces the document cap before appending.
func appendDocument(d *draft.Draft, it draft.Item) error {
	if len(d.Documents) >= draft.DocumentCap {
		return errCapacity
	}
	d.Documents = append(d.Documents, it)
	return nil
}
