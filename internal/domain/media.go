// Package domain defines the persistence models for relayed media. These
// types are mapped with GORM and shared by the repository, service and
// transport layers of the bot.
package domain

import "time"

// MediaKind is the Telegram message type a cached file was delivered as.
type MediaKind string

const (
	KindVideo     MediaKind = "video"
	KindAnimation MediaKind = "animation"
)

// Valid reports whether k is one of the known kinds.
func (k MediaKind) Valid() bool {
	return k == KindVideo || k == KindAnimation
}

// CachedMedia records a source URL that has already been uploaded to
// Telegram, together with the file handle Telegram assigned to it. Rows are
// created on the first successful upload and only ever touched afterwards
// (LoadCount incremented, LastLoadTime refreshed).
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - URL: source media URL; unique, the lookup key.
//   - PostID: dtf post the media was found in.
//   - Caption: caption sent with the first upload, reused on every hit.
//   - CommentID: set when the media came from a comment.
//   - Kind: video or animation.
//   - FileID / FileUniqueID: Telegram handles of the uploaded file.
//   - CreatedAt / LastLoadTime: first upload and most recent send.
//   - LoadCount: number of times the media has been sent.
type CachedMedia struct {
	ID           string    `json:"id"             gorm:"type:char(36);primaryKey"`
	URL          string    `json:"url"            gorm:"type:text;not null;uniqueIndex"`
	PostID       string    `json:"post_id"        gorm:"type:varchar(32);not null;index"`
	Caption      string    `json:"caption"        gorm:"type:text;not null;default:''"`
	CommentID    *int64    `json:"comment_id,omitempty"`
	Kind         MediaKind `json:"kind"           gorm:"type:varchar(16);not null;check:kind IN ('video','animation')"`
	FileID       string    `json:"file_id"        gorm:"type:text;not null"`
	FileUniqueID string    `json:"file_unique_id" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at"`
	LastLoadTime time.Time `json:"last_load_time" gorm:"index"`
	LoadCount    int64     `json:"load_count"     gorm:"not null;default:1"`
}

// TableName returns the default database table name for CachedMedia. The
// repository may override it with a configured name.
func (CachedMedia) TableName() string { return "cached_media" }

// InputFile is the payload of an outbound send: either a remote URL that
// Telegram should download, or the handle of a file it already stores.
type InputFile struct {
	URL    string
	FileID string
}

// IsCached reports whether the payload refers to an existing Telegram file.
func (f InputFile) IsCached() bool { return f.FileID != "" }

// SentMedia describes what Telegram reported back after a send.
type SentMedia struct {
	Kind         MediaKind
	FileID       string
	FileUniqueID string
	MessageID    int
}

// Message is an inbound chat message reduced to what the bot acts on.
type Message struct {
	ChatID    int64
	UserID    int64
	MessageID int
	Text      string
}
