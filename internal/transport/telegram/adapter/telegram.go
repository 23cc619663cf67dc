package adapter

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "subgate/internal/transport"
	logx "subgate/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    sync.WaitGroup

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop. Logged periodically to avoid per-update spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// The client timeout backstops hung connections; it must outlast both
	// the long-poll window and any per-send budget, which callers enforce
	// through their context.
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		Client: &http.Client{Timeout: timeout + 5*time.Minute},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: baseMessage(m)})
		return nil
	})

	media := func(kind kit.MediaKind, fileID func(*tele.Message) string) func(tele.Context) error {
		return func(c tele.Context) error {
			m := c.Message()
			if m == nil || m.Sender == nil {
				return nil
			}
			id := fileID(m)
			if id == "" {
				return nil
			}
			msg := baseMessage(m)
			msg.Media = &kit.MediaItem{Kind: kind, FileRef: id}
			a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: msg})
			return nil
		}
	}
	a.bot.Handle(tele.OnPhoto, media(kit.KindPhoto, func(m *tele.Message) string {
		if m.Photo == nil {
			return ""
		}
		return m.Photo.FileID
	}))
	a.bot.Handle(tele.OnVideo, media(kit.KindVideo, func(m *tele.Message) string {
		if m.Video == nil {
			return ""
		}
		return m.Video.FileID
	}))
	a.bot.Handle(tele.OnAnimation, media(kit.KindAnimation, func(m *tele.Message) string {
		if m.Animation == nil {
			return ""
		}
		return m.Animation.FileID
	}))
	a.bot.Handle(tele.OnAudio, media(kit.KindAudio, func(m *tele.Message) string {
		if m.Audio == nil {
			return ""
		}
		return m.Audio.FileID
	}))

	a.bot.Handle(tele.OnDocument, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Document == nil {
			return nil
		}
		msg := baseMessage(m)
		msg.Document = &kit.DocumentItem{FileRef: m.Document.FileID, MIME: m.Document.MIME}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: msg})
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateCallback,
			Callback: &kit.Callback{
				ID:        cb.ID,
				ChatID:    m.Chat.ID,
				FromID:    cb.Sender.ID,
				MessageID: m.ID,
				Data:      cb.Data,
			},
		})
		return nil
	})
}

func baseMessage(m *tele.Message) *kit.Message {
	return &kit.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		Text:         messageText(m),
	}
}

// messageText prefers the caption for media messages so a photo captioned
// with text still carries it.
func messageText(m *tele.Message) string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.runMu.Unlock()

	// Periodic summary for dropped updates.
	a.done.Add(1)
	go func() {
		defer a.done.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-runCtx.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	}()

	a.done.Add(1)
	go func() {
		defer a.done.Done()
		<-runCtx.Done()
		a.bot.Stop()
	}()

	a.done.Add(1)
	go func() {
		defer a.done.Done()
		a.log.Info("polling started")
		// Start blocks until Stop() is called.
		a.bot.Start()
		a.log.Info("polling stopped")
	}()

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.cancel
	a.cancel = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	// Don't block shutdown on a lingering getUpdates long-poll.
	finished := make(chan struct{})
	go func() {
		a.done.Wait()
		close(finished)
	}()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	select {
	case <-finished:
	case <-time.After(grace):
		a.log.Warn("telegram stop timed out")
	}
	return nil
}

// ---- outbound ----

// handle addresses channels by public @username; everything else goes by id.
type handle string

func (h handle) Recipient() string { return string(h) }

func recipientFor(to kit.ChatTarget) tele.Recipient {
	if to.Username != "" {
		return handle(to.Username)
	}
	return tele.ChatID(to.ChatID)
}

func sendOptions(opt *kit.SendOptions) *tele.SendOptions {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		HasSpoiler:            opt.Spoiler,
	}
	if opt.ReplyTo != nil && !opt.ReplyTo.IsZero() {
		so.ReplyTo = &tele.Message{ID: opt.ReplyTo.MessageID, Chat: &tele.Chat{ID: opt.ReplyTo.ChatID}}
	}
	return so
}

// call runs a blocking API request on its own goroutine so the caller's
// deadline is honored even when the connection hangs. The abandoned request
// is reaped by the bot's HTTP client timeout.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v: v, err: err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	msg, err := call(ctx, func() (*tele.Message, error) {
		return a.bot.Send(recipientFor(to), text, sendOptions(opt))
	})
	if err != nil {
		return kit.MessageRef{}, err
	}
	return refOf(msg), nil
}

func (a *Adapter) SendMedia(ctx context.Context, to kit.ChatTarget, item kit.MediaItem, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	media := toInputtable(item, caption)
	if media == nil {
		return kit.MessageRef{}, errors.New("unsupported media kind " + string(item.Kind))
	}
	msg, err := call(ctx, func() (*tele.Message, error) {
		return a.bot.Send(recipientFor(to), media, sendOptions(opt))
	})
	if err != nil {
		return kit.MessageRef{}, err
	}
	return refOf(msg), nil
}

func (a *Adapter) SendMediaGroup(ctx context.Context, to kit.ChatTarget, items []kit.MediaItem, caption string, captionIndex int, opt *kit.SendOptions) ([]kit.MessageRef, error) {
	album := make(tele.Album, 0, len(items))
	for i, it := range items {
		c := ""
		if i == captionIndex {
			c = caption
		}
		media := toInputtable(it, c)
		if media == nil {
			return nil, errors.New("unsupported media kind " + string(it.Kind))
		}
		album = append(album, media)
	}
	msgs, err := call(ctx, func() ([]tele.Message, error) {
		return a.bot.SendAlbum(recipientFor(to), album, sendOptions(opt))
	})
	if err != nil {
		return nil, err
	}
	refs := make([]kit.MessageRef, 0, len(msgs))
	for i := range msgs {
		refs = append(refs, refOf(&msgs[i]))
	}
	return refs, nil
}

func toInputtable(item kit.MediaItem, caption string) tele.Inputtable {
	f := tele.File{FileID: item.FileRef}
	switch item.Kind {
	case kit.KindPhoto:
		return &tele.Photo{File: f, Caption: caption}
	case kit.KindVideo:
		return &tele.Video{File: f, Caption: caption}
	case kit.KindAnimation:
		return &tele.Animation{File: f, Caption: caption}
	case kit.KindAudio:
		return &tele.Audio{File: f, Caption: caption}
	case kit.KindDocument:
		return &tele.Document{File: f, Caption: caption}
	}
	return nil
}

func refOf(m *tele.Message) kit.MessageRef {
	if m == nil {
		return kit.MessageRef{}
	}
	var chatID int64
	if m.Chat != nil {
		chatID = m.Chat.ID
	}
	return kit.MessageRef{ChatID: chatID, MessageID: m.ID}
}
