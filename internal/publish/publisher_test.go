package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"subgate/internal/draft"
	"subgate/internal/storage"
	"subgate/internal/transport"
	logx "subgate/pkg/logx"
)

// sentCall records one outbound adapter call.
type sentCall struct {
	kind    string // "text", "media", "group"
	items   []transport.MediaItem
	caption string
	capIdx  int
	opt     transport.SendOptions
}

// fakeAdapter records sends and hands out increasing message ids.
type fakeAdapter struct {
	mu     sync.Mutex
	calls  []sentCall
	nextID int
	fail   func(call int) error // per-call failure injection
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{nextID: 100} }

func (f *fakeAdapter) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                               { return nil }

func (f *fakeAdapter) record(c sentCall) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		if err := f.fail(len(f.calls)); err != nil {
			return 0, err
		}
	}
	f.calls = append(f.calls, c)
	f.nextID++
	return f.nextID, nil
}

func (f *fakeAdapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	c := sentCall{kind: "text", caption: text}
	if opt != nil {
		c.opt = *opt
	}
	id, err := f.record(c)
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: id}, nil
}

func (f *fakeAdapter) SendMedia(ctx context.Context, to transport.ChatTarget, item transport.MediaItem, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	c := sentCall{kind: "media", items: []transport.MediaItem{item}, caption: caption}
	if opt != nil {
		c.opt = *opt
	}
	id, err := f.record(c)
	if err != nil {
		return transport.MessageRef{}, err
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: id}, nil
}

func (f *fakeAdapter) SendMediaGroup(ctx context.Context, to transport.ChatTarget, items []transport.MediaItem, caption string, captionIndex int, opt *transport.SendOptions) ([]transport.MessageRef, error) {
	c := sentCall{kind: "group", items: items, caption: caption, capIdx: captionIndex}
	if opt != nil {
		c.opt = *opt
	}
	id, err := f.record(c)
	if err != nil {
		return nil, err
	}
	refs := make([]transport.MessageRef, len(items))
	for i := range refs {
		refs[i] = transport.MessageRef{ChatID: to.ChatID, MessageID: id + i}
	}
	f.mu.Lock()
	f.nextID += len(items) - 1
	f.mu.Unlock()
	return refs, nil
}

func (f *fakeAdapter) sent() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall(nil), f.calls...)
}

// draftStore is the minimal storage.Store needed by the publisher.
type draftStore struct {
	mu      sync.Mutex
	deleted []int64
}

func (s *draftStore) CreateDraft(ctx context.Context, d *draft.Draft) error { return nil }
func (s *draftStore) GetDraft(ctx context.Context, userID int64) (*draft.Draft, error) {
	return nil, storage.ErrNotFound
}
func (s *draftStore) UpdateDraft(ctx context.Context, userID int64, fn func(*draft.Draft) error) error {
	return storage.ErrNotFound
}
func (s *draftStore) DeleteDraft(ctx context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, userID)
	return true, nil
}
func (s *draftStore) SweepExpired(ctx context.Context, ttl time.Duration) (int, error) {
	return 0, nil
}
func (s *draftStore) AddBlacklist(ctx context.Context, e storage.BlacklistEntry) error { return nil }
func (s *draftStore) RemoveBlacklist(ctx context.Context, userID int64) (bool, error) {
	return false, nil
}
func (s *draftStore) ListBlacklist(ctx context.Context) ([]storage.BlacklistEntry, error) {
	return nil, nil
}
func (s *draftStore) Close() error { return nil }

func (s *draftStore) deletedIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.deleted...)
}

func newTestPublisher(t *testing.T, ad *fakeAdapter, st *draftStore, cfg Config) *Publisher {
	t.Helper()
	if cfg.Channel == "" {
		cfg.Channel = "@target"
	}
	cfg.NetTimeout = 5 * time.Second
	cfg.SendRatePerSec = 1000
	p, err := New(ad, st, cfg, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func photos(n int) []draft.Item {
	out := make([]draft.Item, n)
	for i := range out {
		out[i] = draft.Item{Kind: transport.KindPhoto, FileRef: fmt.Sprintf("p%d", i)}
	}
	return out
}

func TestPublishSingleItem(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	st := &draftStore{}
	p := newTestPublisher(t, ad, st, Config{})

	d := &draft.Draft{UserID: 1, Media: photos(1), Tags: "#a", Spoiler: true}
	res, err := p.Publish(context.Background(), d)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	calls := ad.sent()
	if len(calls) != 1 || calls[0].kind != "media" {
		t.Fatalf("calls = %+v, want one media send", calls)
	}
	if !calls[0].opt.Spoiler {
		t.Fatal("spoiler option not set")
	}
	if calls[0].caption == "" {
		t.Fatal("caption missing on single item")
	}
	if res.Link == "" || !strings.HasPrefix(res.Link, "https://t.me/target/") {
		t.Fatalf("link = %q", res.Link)
	}
	if got := st.deletedIDs(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("draft not cleaned up: %v", got)
	}
}

func TestPublishSingleAudioHasNoSpoiler(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	p := newTestPublisher(t, ad, &draftStore{}, Config{})

	d := &draft.Draft{
		UserID:  2,
		Media:   []draft.Item{{Kind: transport.KindAudio, FileRef: "a1"}},
		Spoiler: true,
		Tags:    "#a",
	}
	if _, err := p.Publish(context.Background(), d); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	calls := ad.sent()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	if calls[0].opt.Spoiler {
		t.Fatal("audio must not carry a spoiler")
	}
}

func TestPublishChunksAlbums(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	p := newTestPublisher(t, ad, &draftStore{}, Config{})

	d := &draft.Draft{UserID: 3, Media: photos(12), Tags: "#a"}
	if _, err := p.Publish(context.Background(), d); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	calls := ad.sent()
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2 album chunks", len(calls))
	}
	if len(calls[0].items) != 10 || len(calls[1].items) != 2 {
		t.Fatalf("chunk sizes = %d,%d, want 10,2", len(calls[0].items), len(calls[1].items))
	}
	if calls[0].caption == "" || calls[0].capIdx != 0 {
		t.Fatalf("caption should sit on the first item of the first chunk: %+v", calls[0])
	}
	if calls[1].caption != "" {
		t.Fatal("second chunk must not repeat the caption")
	}
	if calls[1].opt.ReplyTo == nil {
		t.Fatal("second chunk must reply to the first message")
	}
}

func TestPublishAudioMixFallsBackToSequential(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	p := newTestPublisher(t, ad, &draftStore{}, Config{})

	d := &draft.Draft{
		UserID: 4,
		Media: []draft.Item{
			{Kind: transport.KindPhoto, FileRef: "p0"},
			{Kind: transport.KindAudio, FileRef: "a0"},
			{Kind: transport.KindPhoto, FileRef: "p1"},
		},
		Tags: "#a",
	}
	if _, err := p.Publish(context.Background(), d); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	calls := ad.sent()
	if len(calls) != 3 {
		t.Fatalf("calls = %d, want 3 individual sends", len(calls))
	}
	for i, c := range calls {
		if c.kind != "media" {
			t.Fatalf("call %d kind = %s, want media", i, c.kind)
		}
	}
	if calls[0].caption == "" {
		t.Fatal("caption missing on the first item")
	}
	if calls[1].opt.ReplyTo == nil || calls[2].opt.ReplyTo == nil {
		t.Fatal("followup items must reply to the first message")
	}
}

func TestPublishDocumentsCaptionOnLast(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	p := newTestPublisher(t, ad, &draftStore{}, Config{})

	docs := make([]draft.Item, 3)
	for i := range docs {
		docs[i] = draft.Item{Kind: transport.KindDocument, FileRef: fmt.Sprintf("d%d", i)}
	}
	d := &draft.Draft{UserID: 5, Documents: docs, Tags: "#a"}
	if _, err := p.Publish(context.Background(), d); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	calls := ad.sent()
	if len(calls) != 1 || calls[0].kind != "group" {
		t.Fatalf("calls = %+v, want one document group", calls)
	}
	if calls[0].capIdx != len(docs)-1 {
		t.Fatalf("caption index = %d, want %d", calls[0].capIdx, len(docs)-1)
	}
	if calls[0].caption == "" {
		t.Fatal("caption missing on document-only submission")
	}
}

func TestPublishDocumentsReplyToMediaAnchor(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	p := newTestPublisher(t, ad, &draftStore{}, Config{})

	d := &draft.Draft{
		UserID:    6,
		Media:     photos(2),
		Documents: []draft.Item{{Kind: transport.KindDocument, FileRef: "d0"}},
		Tags:      "#a",
	}
	if _, err := p.Publish(context.Background(), d); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	calls := ad.sent()
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want media group + document", len(calls))
	}
	doc := calls[1]
	if doc.opt.ReplyTo == nil {
		t.Fatal("document must reply to the media anchor")
	}
	if doc.caption != "" {
		t.Fatal("caption already went with the media; document must be bare")
	}
}

func TestPublishDeletesDraftOnFailure(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	ad.fail = func(int) error { return errors.New("boom") }
	st := &draftStore{}
	p := newTestPublisher(t, ad, st, Config{})

	d := &draft.Draft{UserID: 7, Media: photos(1), Tags: "#a"}
	if _, err := p.Publish(context.Background(), d); err == nil {
		t.Fatal("expected publish error")
	}
	if got := st.deletedIDs(); len(got) != 1 || got[0] != 7 {
		t.Fatalf("draft must be deleted even on failure: %v", got)
	}
}

func TestPublishSurfacesFloodWait(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	ad.fail = func(int) error { return tele.FloodError{RetryAfter: 30} }
	p := newTestPublisher(t, ad, &draftStore{}, Config{})

	d := &draft.Draft{UserID: 9, Media: photos(1), Tags: "#a"}
	_, err := p.Publish(context.Background(), d)
	if err == nil {
		t.Fatal("expected publish error")
	}
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want classified error", err)
	}
	if perr.Class != ClassFlood {
		t.Fatalf("class = %v, want flood", perr.Class)
	}
	if perr.Wait != 30*time.Second {
		t.Fatalf("wait = %v, want 30s", perr.Wait)
	}
	// One attempt only: flood control is never retried inline.
	if calls := ad.sent(); len(calls) != 0 {
		t.Fatalf("calls = %d, want 0 recorded sends", len(calls))
	}
}

func TestPublishNotifiesOwner(t *testing.T) {
	t.Parallel()
	ad := newFakeAdapter()
	p := newTestPublisher(t, ad, &draftStore{}, Config{OwnerID: 99, NotifyOwner: true})

	d := &draft.Draft{UserID: 8, Username: "dave", Media: photos(1), Tags: "#a"}
	res, err := p.Publish(context.Background(), d)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if res.NotifyFailed {
		t.Fatal("notification should have succeeded")
	}
	calls := ad.sent()
	if len(calls) != 2 || calls[1].kind != "text" {
		t.Fatalf("calls = %+v, want media send then owner text", calls)
	}
}

func TestParseTarget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    transport.ChatTarget
		wantErr bool
	}{
		{raw: "@chan", want: transport.ChatTarget{Username: "@chan"}},
		{raw: "-1001234", want: transport.ChatTarget{ChatID: -1001234}},
		{raw: "", wantErr: true},
		{raw: "not-a-chat", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseTarget(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("parseTarget(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseTarget(%q): %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("parseTarget(%q) = %+v, want %+v", tt.raw, got, tt.want)
		}
	}
}
