// Package repo implements the data persistence layer for cached media,
// backed by GORM. This file provides repository functions for the
// CachedMedia model.
//
// All functions are context-aware and accept a *gorm.DB handle plus the
// table name, so the same helpers serve a configured table. They follow the
// "thin repository" approach: no business logic, only persistence and query
// composition.
//
// Error semantics:
//   - When a record is not found, functions return ErrNotFound.
//   - A unique-URL violation on insert is reported as ErrDuplicate.
//   - Inserting an unknown media kind is reported as ErrInvalidKind.
//   - Other DB errors are propagated unchanged.
//
// Functions:
//
//   - FindMediaByURL(ctx, db, table, url) -> *domain.CachedMedia, error
//   - ListMediaExcept(ctx, db, table, url) -> []domain.CachedMedia, error
//   - InsertMedia(ctx, db, table, m) -> error
//   - TouchMedia(ctx, db, table, url, now) -> error
//   - CountMedia(ctx, db, table) -> int64, error
package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/dtf-relay-bot/internal/domain"
)

var (
	// ErrNotFound is returned when no media row matches the lookup.
	ErrNotFound = gorm.ErrRecordNotFound

	// ErrDuplicate indicates that a media row for the URL already exists.
	ErrDuplicate = errors.New("duplicate")

	// ErrInvalidKind rejects a record whose Kind is neither video nor animation.
	ErrInvalidKind = errors.New("invalid media kind")
)

func mediaTable(ctx context.Context, db *gorm.DB, table string) *gorm.DB {
	q := db.WithContext(ctx)
	if strings.TrimSpace(table) == "" {
		return q.Model(&domain.CachedMedia{})
	}
	return q.Table(table)
}

// FindMediaByURL returns the record cached for url, or ErrNotFound.
func FindMediaByURL(ctx context.Context, db *gorm.DB, table, url string) (*domain.CachedMedia, error) {
	var m domain.CachedMedia
	err := mediaTable(ctx, db, table).Where("url = ?", url).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMediaExcept returns every cached record whose URL differs from url,
// ordered by creation time. An empty url excludes nothing.
func ListMediaExcept(ctx context.Context, db *gorm.DB, table, url string) ([]domain.CachedMedia, error) {
	var out []domain.CachedMedia
	err := mediaTable(ctx, db, table).
		Where("url <> ?", url).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// InsertMedia stores a new record. Missing ID and timestamps are filled in;
// LoadCount defaults to 1.
func InsertMedia(ctx context.Context, db *gorm.DB, table string, m *domain.CachedMedia) error {
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, m.Kind)
	}
	now := time.Now().UTC()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.LastLoadTime.IsZero() {
		m.LastLoadTime = m.CreatedAt
	}
	if m.LoadCount <= 0 {
		m.LoadCount = 1
	}
	if err := mediaTable(ctx, db, table).Create(m).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// TouchMedia increments load_count and sets last_load_time in one UPDATE.
// Returns ErrNotFound when no row matches url.
func TouchMedia(ctx context.Context, db *gorm.DB, table, url string, now time.Time) error {
	res := mediaTable(ctx, db, table).
		Where("url = ?", url).
		UpdateColumns(map[string]any{
			"load_count":     gorm.Expr("load_count + ?", 1),
			"last_load_time": now.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountMedia returns the number of cached records.
func CountMedia(ctx context.Context, db *gorm.DB, table string) (int64, error) {
	var n int64
	err := mediaTable(ctx, db, table).Count(&n).Error
	return n, err
}

// MediaStore binds the repository functions to a database handle and table
// name. It satisfies services.MediaRepo.
type MediaStore struct {
	DB    *gorm.DB
	Table string
}

// NewMediaStore returns a MediaStore for table on db.
func NewMediaStore(db *gorm.DB, table string) *MediaStore {
	return &MediaStore{DB: db, Table: table}
}

// FindByURL proxies FindMediaByURL.
func (s *MediaStore) FindByURL(ctx context.Context, url string) (*domain.CachedMedia, error) {
	return FindMediaByURL(ctx, s.DB, s.Table, url)
}

// ListExcept proxies ListMediaExcept.
func (s *MediaStore) ListExcept(ctx context.Context, url string) ([]domain.CachedMedia, error) {
	return ListMediaExcept(ctx, s.DB, s.Table, url)
}

// Insert proxies InsertMedia.
func (s *MediaStore) Insert(ctx context.Context, m *domain.CachedMedia) error {
	return InsertMedia(ctx, s.DB, s.Table, m)
}

// Touch proxies TouchMedia.
func (s *MediaStore) Touch(ctx context.Context, url string, now time.Time) error {
	return TouchMedia(ctx, s.DB, s.Table, url, now)
}

// Count proxies CountMedia.
func (s *MediaStore) Count(ctx context.Context) (int64, error) {
	return CountMedia(ctx, s.DB, s.Table)
}
