package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/dtf-relay-bot/internal/domain"
)

func newMediaDB(t *testing.T, table string) *gorm.DB {
	t.Helper()
	// Use a unique in-memory database per test to avoid schema leakage across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db, table); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedMedia(t *testing.T, db *gorm.DB, table, url string, created time.Time) *domain.CachedMedia {
	t.Helper()
	m := &domain.CachedMedia{
		URL:       url,
		PostID:    "100",
		Caption:   "cap " + url,
		Kind:      domain.KindVideo,
		FileID:    "file-" + url,
		CreatedAt: created,
	}
	if err := InsertMedia(context.Background(), db, table, m); err != nil {
		t.Fatalf("seed %s: %v", url, err)
	}
	return m
}

func TestInsertMedia_FillsDefaults(t *testing.T) {
	db := newMediaDB(t, "")
	m := &domain.CachedMedia{URL: "https://v/1.mp4", PostID: "1", Kind: domain.KindAnimation, FileID: "f1"}

	before := time.Now().UTC().Add(-time.Second)
	if err := InsertMedia(context.Background(), db, "", m); err != nil {
		t.Fatalf("InsertMedia: %v", err)
	}
	if m.ID == "" || len(m.ID) != 36 {
		t.Fatalf("expected uuid id, got %q", m.ID)
	}
	if m.LoadCount != 1 {
		t.Fatalf("expected LoadCount=1, got %d", m.LoadCount)
	}
	if m.CreatedAt.Before(before) || !m.LastLoadTime.Equal(m.CreatedAt) {
		t.Fatalf("timestamps not initialised: created=%v last=%v", m.CreatedAt, m.LastLoadTime)
	}
}

func TestInsertMedia_Duplicate(t *testing.T) {
	db := newMediaDB(t, "")
	seedMedia(t, db, "", "https://v/dup.mp4", time.Now().UTC())

	err := InsertMedia(context.Background(), db, "", &domain.CachedMedia{
		URL: "https://v/dup.mp4", PostID: "2", Kind: domain.KindVideo, FileID: "other",
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestInsertMedia_RejectsUnknownKind(t *testing.T) {
	db := newMediaDB(t, "")
	for _, kind := range []domain.MediaKind{"", "photo"} {
		err := InsertMedia(context.Background(), db, "", &domain.CachedMedia{
			URL: "https://v/k.mp4", PostID: "1", Kind: kind, FileID: "f",
		})
		if !errors.Is(err, ErrInvalidKind) {
			t.Fatalf("kind %q: expected ErrInvalidKind, got %v", kind, err)
		}
	}
	if n, _ := CountMedia(context.Background(), db, ""); n != 0 {
		t.Fatalf("rejected rows were stored: %d", n)
	}
}

func TestFindMediaByURL_FoundAndMissing(t *testing.T) {
	db := newMediaDB(t, "")
	seedMedia(t, db, "", "https://v/a.mp4", time.Now().UTC())

	got, err := FindMediaByURL(context.Background(), db, "", "https://v/a.mp4")
	if err != nil {
		t.Fatalf("FindMediaByURL: %v", err)
	}
	if got.FileID != "file-https://v/a.mp4" || got.Kind != domain.KindVideo {
		t.Fatalf("unexpected record: %+v", got)
	}

	got, err = FindMediaByURL(context.Background(), db, "", "https://v/missing.mp4")
	if got != nil || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected (nil, ErrNotFound), got (%v, %v)", got, err)
	}
}

func TestTouchMedia_IncrementsAndRefreshes(t *testing.T) {
	db := newMediaDB(t, "")
	created := time.Now().UTC().Add(-time.Hour)
	seedMedia(t, db, "", "https://v/t.mp4", created)

	later := time.Now().UTC()
	for i := 0; i < 2; i++ {
		if err := TouchMedia(context.Background(), db, "", "https://v/t.mp4", later); err != nil {
			t.Fatalf("TouchMedia: %v", err)
		}
	}

	got, err := FindMediaByURL(context.Background(), db, "", "https://v/t.mp4")
	if err != nil {
		t.Fatalf("FindMediaByURL: %v", err)
	}
	if got.LoadCount != 3 {
		t.Fatalf("expected LoadCount=3, got %d", got.LoadCount)
	}
	if got.LastLoadTime.Sub(later).Abs() > time.Second {
		t.Fatalf("last_load_time not refreshed: %v vs %v", got.LastLoadTime, later)
	}
	if got.CreatedAt.Sub(created).Abs() > time.Second {
		t.Fatalf("created_at must not change: %v vs %v", got.CreatedAt, created)
	}
}

func TestTouchMedia_Missing(t *testing.T) {
	db := newMediaDB(t, "")
	if err := TouchMedia(context.Background(), db, "", "https://v/none.mp4", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListMediaExcept(t *testing.T) {
	db := newMediaDB(t, "")
	base := time.Now().UTC().Add(-time.Hour)
	seedMedia(t, db, "", "https://v/1.mp4", base)
	seedMedia(t, db, "", "https://v/2.mp4", base.Add(time.Minute))
	seedMedia(t, db, "", "https://v/3.mp4", base.Add(2*time.Minute))

	all, err := ListMediaExcept(context.Background(), db, "", "")
	if err != nil {
		t.Fatalf("ListMediaExcept: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(all))
	}

	rest, err := ListMediaExcept(context.Background(), db, "", "https://v/2.mp4")
	if err != nil {
		t.Fatalf("ListMediaExcept: %v", err)
	}
	if len(rest) != 2 || rest[0].URL != "https://v/1.mp4" || rest[1].URL != "https://v/3.mp4" {
		t.Fatalf("unexpected rows: %+v", rest)
	}
}

func TestMediaStore_CustomTable(t *testing.T) {
	db := newMediaDB(t, "dtf_files")
	s := NewMediaStore(db, "dtf_files")
	ctx := context.Background()

	cid := int64(456)
	if err := s.Insert(ctx, &domain.CachedMedia{URL: "https://v/c.mp4", PostID: "123", CommentID: &cid, Kind: domain.KindVideo, FileID: "fc"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Touch(ctx, "https://v/c.mp4", time.Now()); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	got, err := s.FindByURL(ctx, "https://v/c.mp4")
	if err != nil {
		t.Fatalf("FindByURL: %v", err)
	}
	if got.LoadCount != 2 || got.CommentID == nil || *got.CommentID != 456 {
		t.Fatalf("unexpected record: %+v", got)
	}
	n, err := s.Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Count = %d, %v; want 1", n, err)
	}
	rest, err := s.ListExcept(ctx, "https://v/c.mp4")
	if err != nil || len(rest) != 0 {
		t.Fatalf("ListExcept = %v, %v; want empty", rest, err)
	}

	// The default table stays untouched.
	if db.Migrator().HasTable(&domain.CachedMedia{}) {
		t.Fatalf("default table should not exist when a custom table is configured")
	}
}
