package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"subgate/internal/draft"
	"subgate/internal/publish"
	"subgate/internal/storage"
	"subgate/internal/transport"
	logx "subgate/pkg/logx"
)

// Publisher is the downstream pipeline invoked when a draft completes.
type Publisher interface {
	Publish(ctx context.Context, d *draft.Draft) (publish.Result, error)
}

type Config struct {
	// Mode is the deployment operating mode. Mixed deployments start in
	// mode selection; single-purpose ones skip straight to the upload state.
	Mode draft.Mode

	MaxTags int

	// SessionTTL feeds the opportunistic sweep at session start.
	SessionTTL time.Duration
}

// Engine is the submission state machine. Conversation position lives in
// memory per user; the draft itself is durable. Events for one user must be
// handled sequentially (the dispatcher guarantees that); different users'
// engines run concurrently.
type Engine struct {
	store storage.Store
	pub   Publisher
	cfg   Config
	log   logx.Logger

	// progress, when set, delivers an immediate interim reply (used before
	// the potentially slow publish pipeline runs).
	progress func(ctx context.Context, chatID int64, text string)

	mu     sync.Mutex
	states map[int64]State
}

func NewEngine(store storage.Store, pub Publisher, cfg Config, log logx.Logger) *Engine {
	if cfg.MaxTags <= 0 {
		cfg.MaxTags = 10
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 15 * time.Minute
	}
	if cfg.Mode == "" {
		cfg.Mode = draft.ModeMixed
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		store:  store,
		pub:    pub,
		cfg:    cfg,
		log:    log,
		states: map[int64]State{},
	}
}

// SetProgressFunc installs the interim-reply callback.
func (e *Engine) SetProgressFunc(fn func(ctx context.Context, chatID int64, text string)) {
	e.progress = fn
}

// StateOf reports the user's current conversation state.
func (e *Engine) StateOf(userID int64) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[userID]
}

func (e *Engine) setState(userID int64, s State) {
	e.mu.Lock()
	if s == StateNone {
		delete(e.states, userID)
	} else {
		e.states[userID] = s
	}
	e.mu.Unlock()
}

// Handle processes one inbound event to completion.
func (e *Engine) Handle(ctx context.Context, ev Event) Outcome {
	switch ev.Command {
	case CmdDebug:
		return stay(e.StateOf(ev.UserID), msgDebug)
	case CmdCancel:
		return e.cancel(ctx, ev)
	case CmdStart:
		return e.start(ctx, ev)
	}

	switch e.StateOf(ev.UserID) {
	case StateSelectMode:
		return e.selectMode(ctx, ev)
	case StateDocumentUpload:
		return e.documentUpload(ctx, ev)
	case StateMediaUpload:
		return e.mediaUpload(ctx, ev)
	case StateTag:
		return e.tag(ctx, ev)
	case StateLink:
		return e.link(ctx, ev)
	case StateTitle:
		return e.title(ctx, ev)
	case StateNote:
		return e.note(ctx, ev)
	case StateSpoiler:
		return e.spoiler(ctx, ev)
	}
	// No active conversation: ignore silently (catch-all behavior).
	e.log.Debug("event without active session", logx.Int64("user_id", ev.UserID))
	return stay(StateNone, "")
}

// ---- session lifecycle ----

func (e *Engine) start(ctx context.Context, ev Event) Outcome {
	// Opportunistic sweep so a stale draft never blocks a restart.
	if _, err := e.store.SweepExpired(ctx, e.cfg.SessionTTL); err != nil {
		e.log.Warn("sweep at session start failed", logx.Err(err))
	}

	username := ev.Username
	if username == "" {
		username = fmt.Sprintf("user%d", ev.UserID)
	}
	d := &draft.Draft{UserID: ev.UserID, Mode: e.cfg.Mode, Username: username}

	if err := e.store.CreateDraft(ctx, d); err != nil {
		return e.persistFail(ctx, ev, err)
	}

	switch e.cfg.Mode {
	case draft.ModeMedia:
		e.setState(ev.UserID, StateMediaUpload)
		return advance(StateMediaUpload, welcomeMedia)
	case draft.ModeDocument:
		e.setState(ev.UserID, StateDocumentUpload)
		return advance(StateDocumentUpload, welcomeDocument)
	}
	e.setState(ev.UserID, StateSelectMode)
	return advance(StateSelectMode, msgChooseMode)
}

func (e *Engine) cancel(ctx context.Context, ev Event) Outcome {
	if _, err := e.store.DeleteDraft(ctx, ev.UserID); err != nil {
		e.log.Warn("draft delete on cancel failed", logx.Int64("user_id", ev.UserID), logx.Err(err))
	}
	e.setState(ev.UserID, StateNone)
	return terminate(msgCancelled)
}

// expired ends the session when the draft was swept away mid-conversation.
func (e *Engine) expired(userID int64) Outcome {
	e.setState(userID, StateNone)
	return terminate(msgExpired)
}

// persistFail implements the failure contract: a storage error ends the
// session rather than retrying; the user restarts from scratch. The draft
// is deleted best-effort so /start works cleanly afterwards.
func (e *Engine) persistFail(ctx context.Context, ev Event, err error) Outcome {
	e.log.Error("draft persistence failed",
		logx.Int64("user_id", ev.UserID),
		logx.String("state", e.StateOf(ev.UserID).String()),
		logx.Err(err))
	e.setState(ev.UserID, StateNone)
	if _, derr := e.store.DeleteDraft(ctx, ev.UserID); derr != nil {
		e.log.Warn("draft cleanup after failure failed", logx.Int64("user_id", ev.UserID), logx.Err(derr))
	}
	return terminate(msgInternalError)
}

// ---- state handlers ----

func (e *Engine) selectMode(ctx context.Context, ev Event) Outcome {
	text := strings.TrimSpace(ev.Text)
	var (
		mode    draft.Mode
		next    State
		confirm string
		welcome string
	)
	switch {
	case strings.Contains(text, "媒体投稿"):
		mode, next = draft.ModeMedia, StateMediaUpload
		confirm, welcome = msgModeMediaSet, welcomeMedia
	case strings.Contains(text, "文档投稿"):
		mode, next = draft.ModeDocument, StateDocumentUpload
		confirm, welcome = msgModeDocSet, welcomeDocument
	default:
		return stay(StateSelectMode, msgChooseModeBad)
	}

	err := e.store.UpdateDraft(ctx, ev.UserID, func(d *draft.Draft) error {
		d.Mode = mode
		d.Media = nil
		d.Documents = nil
		return nil
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return e.expired(ev.UserID)
	case err != nil:
		return e.persistFail(ctx, ev, err)
	}
	e.setState(ev.UserID, next)
	return advance(next, confirm+"\n\n"+welcome)
}

func (e *Engine) mediaUpload(ctx context.Context, ev Event) Outcome {
	switch {
	case ev.Command == CmdDoneMedia:
		d, err := e.store.GetDraft(ctx, ev.UserID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return e.expired(ev.UserID)
		case err != nil:
			return e.persistFail(ctx, ev, err)
		}
		if d.Mode == draft.ModeMedia && len(d.Media) == 0 {
			return stay(StateMediaUpload, msgNeedMedia)
		}
		e.setState(ev.UserID, StateTag)
		return advance(StateTag, msgAskTags)

	case ev.Command == CmdSkipMedia:
		d, err := e.store.GetDraft(ctx, ev.UserID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return e.expired(ev.UserID)
		case err != nil:
			return e.persistFail(ctx, ev, err)
		}
		if d.Mode == draft.ModeMedia {
			return stay(StateMediaUpload, msgMediaRequired)
		}
		e.setState(ev.UserID, StateTag)
		return advance(StateTag, msgAskTags)

	case ev.Media != nil:
		return e.appendMediaItem(ctx, ev, *ev.Media)

	case ev.Document != nil:
		it := NormalizeDocument(*ev.Document)
		if it.Kind == transport.KindDocument {
			return stay(StateMediaUpload, msgUnsupportedDoc)
		}
		return e.appendMediaItem(ctx, ev, it)
	}

	// Wrong event type: re-prompt with a mode-appropriate hint.
	d, err := e.store.GetDraft(ctx, ev.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return e.expired(ev.UserID)
		}
		return e.persistFail(ctx, ev, err)
	}
	if d.Mode == draft.ModeMedia {
		return stay(StateMediaUpload, msgWantMedia)
	}
	return stay(StateMediaUpload, msgWantMediaSkip)
}

func (e *Engine) appendMediaItem(ctx context.Context, ev Event, it draft.Item) Outcome {
	var (
		count    int
		limit    int
		skipHint bool
	)
	err := e.store.UpdateDraft(ctx, ev.UserID, func(d *draft.Draft) error {
		limit = d.Mode.MediaCap()
		skipHint = d.Mode != draft.ModeMedia
		if err := appendMedia(d, it); err != nil {
			return err
		}
		count = len(d.Media)
		return nil
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return e.expired(ev.UserID)
	case errors.Is(err, errCapacity):
		return stay(StateMediaUpload, msgMediaCap(limit))
	case err != nil:
		return e.persistFail(ctx, ev, err)
	}
	return stay(StateMediaUpload, msgMediaCount(count, skipHint))
}

func (e *Engine) documentUpload(ctx context.Context, ev Event) Outcome {
	switch {
	case ev.Command == CmdDoneDoc:
		d, err := e.store.GetDraft(ctx, ev.UserID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return e.expired(ev.UserID)
		case err != nil:
			return e.persistFail(ctx, ev, err)
		}
		if len(d.Documents) == 0 {
			return stay(StateDocumentUpload, msgNeedDoc)
		}
		// Documents done; media is the optional assist step.
		e.setState(ev.UserID, StateMediaUpload)
		return advance(StateMediaUpload, msgWantMediaSkip)

	case ev.Document != nil:
		var count int
		err := e.store.UpdateDraft(ctx, ev.UserID, func(d *draft.Draft) error {
			it := draft.Item{Kind: transport.KindDocument, FileRef: ev.Document.FileRef}
			if err := appendDocument(d, it); err != nil {
				return err
			}
			count = len(d.Documents)
			return nil
		})
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return e.expired(ev.UserID)
		case errors.Is(err, errCapacity):
			return stay(StateDocumentUpload, msgDocCap(draft.DocumentCap))
		case err != nil:
			return e.persistFail(ctx, ev, err)
		}
		return stay(StateDocumentUpload, msgDocCount(count))
	}
	return stay(StateDocumentUpload, msgWantDoc)
}

// commandEvent reports whether the event carries a bot command. Slash-prefixed
// text that matched no known command still counts; it is never draft content.
func commandEvent(ev Event) bool {
	return ev.Command != CmdNone || strings.HasPrefix(strings.TrimSpace(ev.Text), "/")
}

func (e *Engine) tag(ctx context.Context, ev Event) Outcome {
	if ev.Text == "" || commandEvent(ev) {
		return stay(StateTag, msgBadTags)
	}
	processed := draft.ProcessTags(ev.Text, e.cfg.MaxTags)
	if processed == "" {
		return stay(StateTag, msgBadTags)
	}
	err := e.store.UpdateDraft(ctx, ev.UserID, func(d *draft.Draft) error {
		d.Tags = processed
		return nil
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return e.expired(ev.UserID)
	case err != nil:
		return e.persistFail(ctx, ev, err)
	}
	e.setState(ev.UserID, StateLink)
	return advance(StateLink, msgAskLink)
}

func (e *Engine) link(ctx context.Context, ev Event) Outcome {
	if ev.Command == CmdSkipOptional {
		return e.skipOptional(ctx, ev, "链接、标题、简介", func(d *draft.Draft) {
			d.Link = ""
			d.Title = ""
			d.Note = ""
		})
	}
	if ev.Text == "" || commandEvent(ev) {
		return stay(StateLink, msgBadLink)
	}
	link := strings.TrimSpace(ev.Text)
	if link == noneToken {
		link = ""
	} else if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
		return stay(StateLink, msgBadLink)
	}
	err := e.store.UpdateDraft(ctx, ev.UserID, func(d *draft.Draft) error {
		d.Link = link
		return nil
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return e.expired(ev.UserID)
	case err != nil:
		return e.persistFail(ctx, ev, err)
	}
	e.setState(ev.UserID, StateTitle)
	return advance(StateTitle, msgAskTitle)
}

func (e *Engine) title(ctx context.Context, ev Event) Outcome {
	if ev.Command == CmdSkipOptional {
		return e.skipOptional(ctx, ev, "标题、简介", func(d *draft.Draft) {
			d.Title = ""
			d.Note = ""
		})
	}
	if ev.Text == "" || commandEvent(ev) {
		return stay(StateTitle, msgAskTitle)
	}
	title := strings.TrimSpace(ev.Text)
	if title == noneToken {
		title = ""
	}
	err := e.store.UpdateDraft(ctx, ev.UserID, func(d *draft.Draft) error {
		d.SetTitle(title)
		return nil
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return e.expired(ev.UserID)
	case err != nil:
		return e.persistFail(ctx, ev, err)
	}
	e.setState(ev.UserID, StateNote)
	return advance(StateNote, msgAskNote)
}

func (e *Engine) note(ctx context.Context, ev Event) Outcome {
	if ev.Command == CmdSkipOptional {
		return e.skipOptional(ctx, ev, "简介", func(d *draft.Draft) {
			d.Note = ""
		})
	}
	if ev.Text == "" || commandEvent(ev) {
		return stay(StateNote, msgAskNote)
	}
	note := strings.TrimSpace(ev.Text)
	if note == noneToken {
		note = ""
	}
	err := e.store.UpdateDraft(ctx, ev.UserID, func(d *draft.Draft) error {
		d.SetNote(note)
		return nil
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return e.expired(ev.UserID)
	case err != nil:
		return e.persistFail(ctx, ev, err)
	}
	e.setState(ev.UserID, StateSpoiler)
	return advance(StateSpoiler, "✅ 简介已保存，"+msgAskSpoiler)
}

// skipOptional clears the remaining optional fields in one step and jumps
// straight to the spoiler question.
func (e *Engine) skipOptional(ctx context.Context, ev Event, skipped string, clear func(*draft.Draft)) Outcome {
	err := e.store.UpdateDraft(ctx, ev.UserID, func(d *draft.Draft) error {
		clear(d)
		return nil
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return e.expired(ev.UserID)
	case err != nil:
		return e.persistFail(ctx, ev, err)
	}
	e.setState(ev.UserID, StateSpoiler)
	return advance(StateSpoiler, msgSkippedTo(skipped))
}

func (e *Engine) spoiler(ctx context.Context, ev Event) Outcome {
	if ev.Text == "" || commandEvent(ev) {
		return stay(StateSpoiler, msgAskSpoiler)
	}
	// Only the exact affirmative token enables the spoiler; anything else is
	// treated as "no". Known usability wart, kept as-is.
	flag := strings.TrimSpace(ev.Text) == affirmativeToken

	err := e.store.UpdateDraft(ctx, ev.UserID, func(d *draft.Draft) error {
		d.Spoiler = flag
		return nil
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return e.expired(ev.UserID)
	case err != nil:
		return e.persistFail(ctx, ev, err)
	}

	d, err := e.store.GetDraft(ctx, ev.UserID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return e.expired(ev.UserID)
	case err != nil:
		return e.persistFail(ctx, ev, err)
	}

	e.setState(ev.UserID, StateNone)

	if !d.HasUploads() {
		if _, derr := e.store.DeleteDraft(ctx, ev.UserID); derr != nil {
			e.log.Warn("empty draft cleanup failed", logx.Int64("user_id", ev.UserID), logx.Err(derr))
		}
		return terminate(msgNothingToSend)
	}

	if e.progress != nil {
		e.progress(ctx, ev.ChatID, msgPublishing)
	}

	res, err := e.pub.Publish(ctx, d)
	if err != nil {
		e.log.Error("publish failed", logx.Int64("user_id", ev.UserID), logx.Err(err))
		var perr *publish.Error
		if errors.As(err, &perr) && perr.Class == publish.ClassFlood {
			return terminate(msgRateLimited(perr.Wait))
		}
		return terminate(msgPublishFailed)
	}

	reply := msgPublished(res.Link)
	if res.NotifyFailed {
		reply += "\n" + msgNotifyWarning
	}
	return terminate(reply)
}
