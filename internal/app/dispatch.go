package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"subgate/internal/draft"
	"subgate/internal/session"
	kit "subgate/internal/transport"
	logx "subgate/pkg/logx"
)

const (
	mailboxSize = 32
	mailboxIdle = 5 * time.Minute
)

const blacklistedReply = "⚠️ 您已被列入黑名单，无法使用投稿功能。如有疑问，请联系管理员。"

// dispatcher fans incoming messages out to one worker per user so each
// user's conversation stays strictly ordered while users never block each
// other.
type dispatcher struct {
	app *App
	log logx.Logger

	mu    sync.Mutex
	boxes map[int64]chan session.Event
	wg    sync.WaitGroup
}

func newDispatcher(app *App, log logx.Logger) *dispatcher {
	return &dispatcher{app: app, log: log, boxes: map[int64]chan session.Event{}}
}

func (d *dispatcher) dispatch(ctx context.Context, m *kit.Message) {
	// Submissions are a private-chat flow. Group chatter is not ours.
	if m.ChatID != m.FromID {
		return
	}

	cmd, args := parseCommand(m.Text)

	if d.app.gate.IsOwner(m.FromID) {
		if handled := d.ownerCommand(ctx, m, cmd, args); handled {
			return
		}
	} else {
		if d.app.gate.IsBlacklisted(m.FromID) {
			d.app.reply(ctx, m.ChatID, blacklistedReply)
			return
		}
		switch cmd {
		case session.CmdBlacklistAdd, session.CmdBlacklistRemove, session.CmdBlacklistList:
			// Administrative commands from regular users are ignored.
			return
		}
	}

	ev := session.Event{
		UserID:   m.FromID,
		ChatID:   m.ChatID,
		Username: m.FromUsername,
		Command:  cmd,
		Text:     m.Text,
	}
	if m.Media != nil {
		ev.Media = &draft.Item{Kind: m.Media.Kind, FileRef: m.Media.FileRef}
	}
	if m.Document != nil {
		ev.Document = &session.DocumentUpload{FileRef: m.Document.FileRef, MIME: m.Document.MIME}
	}

	d.mu.Lock()
	box, ok := d.boxes[ev.UserID]
	if !ok {
		box = make(chan session.Event, mailboxSize)
		d.boxes[ev.UserID] = box
		d.wg.Add(1)
		go d.worker(ctx, ev.UserID, box)
	}
	select {
	case box <- ev:
	default:
		d.log.Warn("user mailbox full, event dropped",
			logx.Int64("user_id", ev.UserID),
			logx.String("command", string(ev.Command)))
	}
	d.mu.Unlock()
}

// worker drains one user's mailbox. It retires itself after an idle period;
// retirement and enqueue race under the dispatcher mutex, so a worker only
// exits when its box is verifiably empty.
func (d *dispatcher) worker(ctx context.Context, userID int64, box chan session.Event) {
	defer d.wg.Done()
	idle := time.NewTimer(mailboxIdle)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			delete(d.boxes, userID)
			d.mu.Unlock()
			return
		case ev := <-box:
			out := d.app.engine.Handle(ctx, ev)
			if out.Reply != "" {
				d.app.reply(ctx, ev.ChatID, out.Reply)
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(mailboxIdle)
		case <-idle.C:
			d.mu.Lock()
			if len(box) > 0 {
				d.mu.Unlock()
				idle.Reset(mailboxIdle)
				continue
			}
			delete(d.boxes, userID)
			d.mu.Unlock()
			return
		}
	}
}

func (d *dispatcher) wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// parseCommand extracts a bot command from the message text. "/cmd@botname"
// addressing is stripped; non-command text returns CmdNone.
func parseCommand(text string) (session.Command, []string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return session.CmdNone, nil
	}
	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	args := fields[1:]

	switch strings.ToLower(name) {
	case "start":
		return session.CmdStart, args
	case "cancel":
		return session.CmdCancel, args
	case "done_media", "done":
		return session.CmdDoneMedia, args
	case "skip_media":
		return session.CmdSkipMedia, args
	case "done_doc":
		return session.CmdDoneDoc, args
	case "skip_optional", "skip":
		return session.CmdSkipOptional, args
	case "debug":
		return session.CmdDebug, args
	case "blacklist_add":
		return session.CmdBlacklistAdd, args
	case "blacklist_remove":
		return session.CmdBlacklistRemove, args
	case "blacklist_list":
		return session.CmdBlacklistList, args
	}
	return session.CmdNone, nil
}

// ownerCommand handles the administrative commands inline. Returns false
// for everything that should flow on to the submission engine (the owner
// can submit too).
func (d *dispatcher) ownerCommand(ctx context.Context, m *kit.Message, cmd session.Command, args []string) bool {
	switch cmd {
	case session.CmdBlacklistAdd:
		if len(args) < 1 {
			d.app.reply(ctx, m.ChatID, "用法：/blacklist_add <用户ID> [原因]")
			return true
		}
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			d.app.reply(ctx, m.ChatID, "⚠️ 无效的用户ID："+args[0])
			return true
		}
		reason := strings.Join(args[1:], " ")
		if err := d.app.gate.Add(ctx, userID, reason); err != nil {
			d.log.Error("blacklist add failed", logx.Int64("target", userID), logx.Err(err))
			d.app.reply(ctx, m.ChatID, "⚠️ 操作失败，请稍后重试")
			return true
		}
		d.app.reply(ctx, m.ChatID, fmt.Sprintf("✅ 已将用户 %d 加入黑名单", userID))
		return true

	case session.CmdBlacklistRemove:
		if len(args) < 1 {
			d.app.reply(ctx, m.ChatID, "用法：/blacklist_remove <用户ID>")
			return true
		}
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			d.app.reply(ctx, m.ChatID, "⚠️ 无效的用户ID："+args[0])
			return true
		}
		existed, err := d.app.gate.Remove(ctx, userID)
		if err != nil {
			d.log.Error("blacklist remove failed", logx.Int64("target", userID), logx.Err(err))
			d.app.reply(ctx, m.ChatID, "⚠️ 操作失败，请稍后重试")
			return true
		}
		if !existed {
			d.app.reply(ctx, m.ChatID, fmt.Sprintf("用户 %d 不在黑名单中", userID))
			return true
		}
		d.app.reply(ctx, m.ChatID, fmt.Sprintf("✅ 已将用户 %d 移出黑名单", userID))
		return true

	case session.CmdBlacklistList:
		entries, err := d.app.gate.List(ctx)
		if err != nil {
			d.log.Error("blacklist list failed", logx.Err(err))
			d.app.reply(ctx, m.ChatID, "⚠️ 操作失败，请稍后重试")
			return true
		}
		if len(entries) == 0 {
			d.app.reply(ctx, m.ChatID, "黑名单为空")
			return true
		}
		var b strings.Builder
		b.WriteString("当前黑名单：\n")
		for _, e := range entries {
			fmt.Fprintf(&b, "• %d", e.UserID)
			if e.Reason != "" {
				fmt.Fprintf(&b, " （%s）", e.Reason)
			}
			b.WriteString("\n")
		}
		d.app.reply(ctx, m.ChatID, strings.TrimRight(b.String(), "\n"))
		return true
	}
	return false
}
