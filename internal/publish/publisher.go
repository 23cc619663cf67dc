package publish

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"subgate/internal/caption"
	"subgate/internal/draft"
	"subgate/internal/storage"
	"subgate/internal/transport"
	"subgate/pkg/logx"
	"subgate/pkg/tgui"
)

const (
	// albumLimit is the platform cap on items per visually-grouped album.
	albumLimit = 10

	defaultSendTimeout = 120 * time.Second
	maxRetries         = 2
	retryBackoff       = 2 * time.Second
)

// Config carries the publication target and delivery tuning.
type Config struct {
	// Channel is the destination, either "@username" or a numeric chat id.
	Channel string

	OwnerID     int64
	NotifyOwner bool

	ShowSubmitter bool

	// NetTimeout bounds each individual send call.
	NetTimeout time.Duration

	// SendRatePerSec paces outbound channel traffic.
	SendRatePerSec float64

	// SessionTTL feeds the opportunistic sweep after each publication.
	SessionTTL time.Duration
}

// Result reports what a publication produced.
type Result struct {
	// Ref is the first message posted to the channel.
	Ref transport.MessageRef
	// Link is a public URL to the post, empty when the channel has no
	// public username.
	Link string
	// NotifyFailed is set when the owner notification could not be
	// delivered after all fallback attempts.
	NotifyFailed bool
}

// Publisher turns a completed draft into channel posts. Regardless of
// outcome the draft is removed from storage: a failed publication must not
// leave the user wedged.
type Publisher struct {
	tr      transport.Adapter
	store   storage.Store
	cfg     Config
	target  transport.ChatTarget
	limiter *rate.Limiter
	log     logx.Logger
}

func New(tr transport.Adapter, store storage.Store, cfg Config, log logx.Logger) (*Publisher, error) {
	target, err := parseTarget(cfg.Channel)
	if err != nil {
		return nil, err
	}
	if cfg.NetTimeout <= 0 {
		cfg.NetTimeout = defaultSendTimeout
	}
	if cfg.SendRatePerSec <= 0 {
		cfg.SendRatePerSec = 1
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 15 * time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Publisher{
		tr:      tr,
		store:   store,
		cfg:     cfg,
		target:  target,
		limiter: rate.NewLimiter(rate.Limit(cfg.SendRatePerSec), 1),
		log:     log,
	}, nil
}

func parseTarget(channel string) (transport.ChatTarget, error) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return transport.ChatTarget{}, errors.New("publish: channel is empty")
	}
	if strings.HasPrefix(channel, "@") {
		return transport.ChatTarget{Username: channel}, nil
	}
	id, err := strconv.ParseInt(channel, 10, 64)
	if err != nil {
		return transport.ChatTarget{}, fmt.Errorf("publish: channel %q is neither @username nor chat id", channel)
	}
	return transport.ChatTarget{ChatID: id}, nil
}

// Publish posts the draft's media and documents to the channel. The first
// successfully posted message anchors everything else: later chunks and
// documents reply to it so the channel shows one thread per submission.
func (p *Publisher) Publish(ctx context.Context, d *draft.Draft) (res Result, err error) {
	defer p.cleanup(d.UserID)

	capText := caption.Build(d, caption.Options{ShowSubmitter: p.cfg.ShowSubmitter})

	var first transport.MessageRef
	sent := 0

	if len(d.Media) > 0 {
		first, sent, err = p.sendMediaSet(ctx, d, capText)
		if err != nil && sent == 0 && len(d.Documents) == 0 {
			return Result{}, err
		}
	}

	if len(d.Documents) > 0 {
		// When media already carried the caption the documents go bare;
		// a document-only submission puts it on the last file instead.
		docCaption := ""
		if sent == 0 {
			docCaption = capText
		}
		ref, n, derr := p.sendDocumentSet(ctx, d.Documents, docCaption, first)
		if derr != nil && sent == 0 && n == 0 {
			return Result{}, derr
		}
		if first.IsZero() {
			first = ref
		}
		sent += n
	}

	if sent == 0 {
		if err == nil {
			err = errors.New("publish: nothing was sent")
		}
		return Result{}, err
	}

	res = Result{Ref: first, Link: p.postLink(first)}
	if p.cfg.NotifyOwner && p.cfg.OwnerID != 0 {
		res.NotifyFailed = !p.notifyOwner(ctx, d, res.Link)
	}
	p.log.Info("draft published",
		logx.Int64("user_id", d.UserID),
		logx.Int("messages", sent),
		logx.String("link", res.Link))
	return res, nil
}

// sendMediaSet posts the draft's media block and returns the anchor ref and
// the number of messages that made it out.
func (p *Publisher) sendMediaSet(ctx context.Context, d *draft.Draft, capText string) (transport.MessageRef, int, error) {
	items := toMediaItems(d.Media)

	// Single item short-circuits the album machinery entirely.
	if len(items) == 1 {
		opt := &transport.SendOptions{ParseMode: "HTML", Spoiler: d.Spoiler && items[0].Kind != transport.KindAudio}
		ref, err := p.sendMedia(ctx, items[0], capText, opt)
		if err != nil {
			return transport.MessageRef{}, 0, err
		}
		return ref, 1, nil
	}

	// Audio cannot share an album with photos or video, so a mixed batch
	// degrades to sequential individual messages threaded off the first.
	if hasAudio(items) {
		return p.sendSequential(ctx, items, capText, d.Spoiler)
	}

	var (
		first   transport.MessageRef
		sent    int
		lastErr error
	)
	for start := 0; start < len(items); start += albumLimit {
		end := min(start+albumLimit, len(items))
		chunk := items[start:end]

		opt := &transport.SendOptions{ParseMode: "HTML", Spoiler: d.Spoiler}
		chunkCaption, captionIndex := "", -1
		if start == 0 {
			chunkCaption, captionIndex = capText, 0
		} else {
			opt.ReplyTo = &first
		}

		refs, err := p.sendAlbum(ctx, chunk, chunkCaption, captionIndex, opt)
		if err != nil {
			p.log.Warn("album chunk failed",
				logx.Int("offset", start),
				logx.Int("size", len(chunk)),
				logx.Err(err))
			lastErr = err
			if first.IsZero() {
				// Without an anchor the thread cannot form; give up on
				// the remaining chunks.
				return transport.MessageRef{}, 0, err
			}
			continue
		}
		if first.IsZero() && len(refs) > 0 {
			first = refs[0]
		}
		sent += len(refs)
	}
	return first, sent, lastErr
}

func (p *Publisher) sendSequential(ctx context.Context, items []transport.MediaItem, capText string, spoiler bool) (transport.MessageRef, int, error) {
	var (
		first   transport.MessageRef
		sent    int
		lastErr error
	)
	for i, it := range items {
		opt := &transport.SendOptions{ParseMode: "HTML", Spoiler: spoiler && it.Kind != transport.KindAudio}
		itemCaption := ""
		if i == 0 {
			itemCaption = capText
		} else {
			opt.ReplyTo = &first
		}
		ref, err := p.sendMedia(ctx, it, itemCaption, opt)
		if err != nil {
			p.log.Warn("sequential item failed", logx.Int("index", i), logx.Err(err))
			lastErr = err
			if first.IsZero() {
				return transport.MessageRef{}, 0, err
			}
			continue
		}
		if first.IsZero() {
			first = ref
		}
		sent++
	}
	return first, sent, lastErr
}

func (p *Publisher) sendDocumentSet(ctx context.Context, docs []draft.Item, capText string, anchor transport.MessageRef) (transport.MessageRef, int, error) {
	items := toMediaItems(docs)

	var (
		first   transport.MessageRef
		sent    int
		lastErr error
	)
	for start := 0; start < len(items); start += albumLimit {
		end := min(start+albumLimit, len(items))
		chunk := items[start:end]

		opt := &transport.SendOptions{ParseMode: "HTML"}
		if !anchor.IsZero() {
			opt.ReplyTo = &anchor
		} else if !first.IsZero() {
			opt.ReplyTo = &first
		}

		// The caption lands on the last file of the last chunk so it shows
		// under the grouped view.
		chunkCaption, captionIndex := "", -1
		if capText != "" && end == len(items) {
			chunkCaption, captionIndex = capText, len(chunk)-1
		}

		var (
			refs []transport.MessageRef
			err  error
		)
		if len(chunk) == 1 {
			var ref transport.MessageRef
			ref, err = p.sendMedia(ctx, chunk[0], chunkCaption, opt)
			refs = []transport.MessageRef{ref}
		} else {
			refs, err = p.sendAlbum(ctx, chunk, chunkCaption, captionIndex, opt)
		}
		if err != nil {
			p.log.Warn("document chunk failed",
				logx.Int("offset", start),
				logx.Int("size", len(chunk)),
				logx.Err(err))
			lastErr = err
			continue
		}
		if first.IsZero() && len(refs) > 0 {
			first = refs[0]
		}
		sent += len(refs)
	}
	return first, sent, lastErr
}

// ---- delivery plumbing ----

func (p *Publisher) sendMedia(ctx context.Context, it transport.MediaItem, capText string, opt *transport.SendOptions) (transport.MessageRef, error) {
	var ref transport.MessageRef
	err := p.withRetry(ctx, func(sctx context.Context) error {
		var serr error
		ref, serr = p.tr.SendMedia(sctx, p.target, it, capText, opt)
		return serr
	})
	return ref, err
}

func (p *Publisher) sendAlbum(ctx context.Context, items []transport.MediaItem, capText string, captionIndex int, opt *transport.SendOptions) ([]transport.MessageRef, error) {
	var refs []transport.MessageRef
	err := p.withRetry(ctx, func(sctx context.Context) error {
		var serr error
		refs, serr = p.tr.SendMediaGroup(sctx, p.target, items, capText, captionIndex, opt)
		return serr
	})
	return refs, err
}

// withRetry paces the call through the rate limiter and retries transient
// failures. Flood, permission and payload errors are surfaced immediately
// since repeating the same request cannot help.
func (p *Publisher) withRetry(ctx context.Context, op func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff):
			}
		}
		if werr := p.limiter.Wait(ctx); werr != nil {
			return werr
		}
		sctx, cancel := context.WithTimeout(ctx, p.cfg.NetTimeout)
		err = op(sctx)
		cancel()
		if err == nil {
			return nil
		}
		class, wait := Classify(err)
		p.log.Debug("send attempt failed",
			logx.Int("attempt", attempt),
			logx.String("class", class.String()),
			logx.Duration("retry_after", wait),
			logx.Err(err))
		if !class.Retryable() {
			return &Error{Class: class, Wait: wait, Err: err}
		}
	}
	class, wait := Classify(err)
	return &Error{Class: class, Wait: wait, Err: err}
}

// cleanup removes the draft no matter how publication went, then sweeps
// other expired drafts while it holds the write path anyway. Runs on a
// fresh context so a canceled publish still releases the user.
func (p *Publisher) cleanup(userID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := p.store.DeleteDraft(ctx, userID); err != nil {
		p.log.Warn("draft cleanup after publish failed", logx.Int64("user_id", userID), logx.Err(err))
	}
	if _, err := p.store.SweepExpired(ctx, p.cfg.SessionTTL); err != nil {
		p.log.Warn("sweep after publish failed", logx.Err(err))
	}
}

// postLink derives the public URL of the anchor message. Only channels with
// a public @username have linkable posts.
func (p *Publisher) postLink(ref transport.MessageRef) string {
	if ref.IsZero() || p.target.Username == "" {
		return ""
	}
	return fmt.Sprintf("https://t.me/%s/%d", strings.TrimPrefix(p.target.Username, "@"), ref.MessageID)
}

// notifyOwner tells the operator about the new post. Three attempts, each
// simpler than the last, so a formatting rejection cannot silence the
// notification entirely. Reports whether any attempt landed.
func (p *Publisher) notifyOwner(ctx context.Context, d *draft.Draft, link string) bool {
	to := transport.ChatTarget{ChatID: p.cfg.OwnerID}

	// The blacklist command is included copy-ready so moderation is one tap.
	hint := fmt.Sprintf("/blacklist_add %d", d.UserID)
	name := d.Username
	if name == "" {
		name = fmt.Sprintf("user%d", d.UserID)
	}

	rich := tgui.JoinH("\n",
		tgui.Raw("📨 新投稿已发布"),
		tgui.Raw("投稿人："+string(tgui.Mention("@"+name, d.UserID))),
		tgui.Raw("拉黑：<code>"+hint+"</code>"),
	)
	if link != "" {
		rich = tgui.JoinH("\n", rich, tgui.Link("查看投稿", link))
	}

	plain := fmt.Sprintf("新投稿已发布，投稿人 ID %d\n拉黑：%s", d.UserID, hint)
	if link != "" {
		plain += "\n" + link
	}

	attempts := []struct {
		text string
		opt  *transport.SendOptions
	}{
		{string(rich), &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}},
		{plain, &transport.SendOptions{DisablePreview: true}},
		{"📨 有新投稿", nil},
	}
	for i, a := range attempts {
		sctx, cancel := context.WithTimeout(ctx, p.cfg.NetTimeout)
		_, err := p.tr.SendText(sctx, to, a.text, a.opt)
		cancel()
		if err == nil {
			return true
		}
		p.log.Warn("owner notification attempt failed", logx.Int("attempt", i+1), logx.Err(err))
	}
	return false
}

func toMediaItems(items []draft.Item) []transport.MediaItem {
	out := make([]transport.MediaItem, len(items))
	for i, it := range items {
		out[i] = transport.MediaItem{Kind: it.Kind, FileRef: it.FileRef}
	}
	return out
}

func hasAudio(items []transport.MediaItem) bool {
	for _, it := range items {
		if !it.Kind.GroupCompatible() {
			return true
		}
	}
	return false
}
