package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"subgate/internal/draft"
	"subgate/internal/transport"
	logx "subgate/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestDraftRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	in := &draft.Draft{
		UserID: 1,
		Mode:   draft.ModeMedia,
		Media: []draft.Item{
			{Kind: transport.KindPhoto, FileRef: "p1"},
			{Kind: transport.KindVideo, FileRef: "v1"},
		},
		Documents: []draft.Item{{Kind: transport.KindDocument, FileRef: "d1"}},
		Tags:      "#a #b",
		Link:      "https://example.com",
		Title:     "t",
		Note:      "n",
		Spoiler:   true,
		Username:  "alice",
	}
	if err := st.CreateDraft(ctx, in); err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}

	got, err := st.GetDraft(ctx, 1)
	if err != nil {
		t.Fatalf("GetDraft: %v", err)
	}
	if got.Mode != in.Mode || got.Tags != in.Tags || got.Link != in.Link ||
		got.Title != in.Title || got.Note != in.Note || got.Spoiler != in.Spoiler ||
		got.Username != in.Username {
		t.Fatalf("scalar fields differ:\ngot  %+v\nwant %+v", got, in)
	}
	if len(got.Media) != 2 || got.Media[0] != in.Media[0] || got.Media[1] != in.Media[1] {
		t.Fatalf("media = %+v, want %+v", got.Media, in.Media)
	}
	if len(got.Documents) != 1 || got.Documents[0] != in.Documents[0] {
		t.Fatalf("documents = %+v, want %+v", got.Documents, in.Documents)
	}
}

func TestGetDraftMissing(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	if _, err := st.GetDraft(context.Background(), 404); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateDraftReplacesExisting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	if err := st.CreateDraft(ctx, &draft.Draft{UserID: 2, Mode: draft.ModeMedia, Tags: "#old"}); err != nil {
		t.Fatal(err)
	}
	if err := st.CreateDraft(ctx, &draft.Draft{UserID: 2, Mode: draft.ModeDocument}); err != nil {
		t.Fatal(err)
	}

	got, err := st.GetDraft(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got.Mode != draft.ModeDocument || got.Tags != "" {
		t.Fatalf("old draft survived replacement: %+v", got)
	}
}

func TestUpdateDraft(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	if err := st.CreateDraft(ctx, &draft.Draft{UserID: 3, Mode: draft.ModeMedia}); err != nil {
		t.Fatal(err)
	}
	before, _ := st.GetDraft(ctx, 3)

	err := st.UpdateDraft(ctx, 3, func(d *draft.Draft) error {
		d.Tags = "#fresh"
		d.Media = append(d.Media, draft.Item{Kind: transport.KindPhoto, FileRef: "p1"})
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateDraft: %v", err)
	}

	got, err := st.GetDraft(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got.Tags != "#fresh" || len(got.Media) != 1 {
		t.Fatalf("update not persisted: %+v", got)
	}
	if got.LastActivity.Before(before.LastActivity) {
		t.Fatal("LastActivity went backwards")
	}
}

func TestUpdateDraftFnErrorAborts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	if err := st.CreateDraft(ctx, &draft.Draft{UserID: 4, Mode: draft.ModeMedia, Tags: "#keep"}); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("rejected")
	err := st.UpdateDraft(ctx, 4, func(d *draft.Draft) error {
		d.Tags = "#clobbered"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want fn error passthrough", err)
	}
	got, _ := st.GetDraft(ctx, 4)
	if got.Tags != "#keep" {
		t.Fatalf("aborted update leaked a write: %q", got.Tags)
	}
}

func TestUpdateDraftMissing(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	err := st.UpdateDraft(context.Background(), 404, func(d *draft.Draft) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteDraft(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	if err := st.CreateDraft(ctx, &draft.Draft{UserID: 5, Mode: draft.ModeMedia}); err != nil {
		t.Fatal(err)
	}
	existed, err := st.DeleteDraft(ctx, 5)
	if err != nil || !existed {
		t.Fatalf("DeleteDraft = %v, %v, want true, nil", existed, err)
	}
	existed, err = st.DeleteDraft(ctx, 5)
	if err != nil || existed {
		t.Fatalf("second DeleteDraft = %v, %v, want false, nil", existed, err)
	}
}

func TestSweepExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	old := &draft.Draft{
		UserID:       6,
		Mode:         draft.ModeMedia,
		CreatedAt:    time.Now().Add(-2 * time.Hour),
		LastActivity: time.Now().Add(-2 * time.Hour),
	}
	if err := st.CreateDraft(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := st.CreateDraft(ctx, &draft.Draft{UserID: 7, Mode: draft.ModeMedia}); err != nil {
		t.Fatal(err)
	}

	n, err := st.SweepExpired(ctx, time.Hour)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept = %d, want 1", n)
	}
	if _, err := st.GetDraft(ctx, 6); !errors.Is(err, ErrNotFound) {
		t.Fatal("expired draft survived the sweep")
	}
	if _, err := st.GetDraft(ctx, 7); err != nil {
		t.Fatalf("fresh draft was swept: %v", err)
	}
}

func TestBlacklistRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openTestStore(t)

	if err := st.AddBlacklist(ctx, BlacklistEntry{UserID: 10, Reason: "spam"}); err != nil {
		t.Fatalf("AddBlacklist: %v", err)
	}
	// Upsert keeps a single row per user.
	if err := st.AddBlacklist(ctx, BlacklistEntry{UserID: 10, Reason: "worse spam"}); err != nil {
		t.Fatal(err)
	}

	entries, err := st.ListBlacklist(ctx)
	if err != nil {
		t.Fatalf("ListBlacklist: %v", err)
	}
	if len(entries) != 1 || entries[0].UserID != 10 || entries[0].Reason != "worse spam" {
		t.Fatalf("entries = %+v", entries)
	}

	existed, err := st.RemoveBlacklist(ctx, 10)
	if err != nil || !existed {
		t.Fatalf("RemoveBlacklist = %v, %v", existed, err)
	}
	entries, _ = st.ListBlacklist(ctx)
	if len(entries) != 0 {
		t.Fatalf("entries after remove = %+v", entries)
	}
}
