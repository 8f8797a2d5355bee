// Package domain defines the persistence models for the backup queue,
// processed history, users, rate-limit profiles, and tracked bot messages.
// These types are mapped with GORM and form the core data layer of the bot.
package domain

import (
	"time"
)

// LinkType classifies what a submitted link points to.
type LinkType string

// Supported link types.
const (
	LinkTypePost    LinkType = "post"    // single Instagram post or reel
	LinkTypeList    LinkType = "list"    // a batch of post links in one message
	LinkTypeAccount LinkType = "account" // all posts of an account
)

// Valid reports whether the link type belongs to the closed enumeration.
func (t LinkType) Valid() bool {
	switch t {
	case LinkTypePost, LinkTypeList, LinkTypeAccount:
		return true
	}
	return false
}

// ContentStatus tracks the progress of one pipeline phase (download or upload).
type ContentStatus string

// Phase statuses. Statuses only ever move forward:
// not_started → in_progress → completed|failed.
const (
	StatusNotStarted ContentStatus = "not_started"
	StatusInProgress ContentStatus = "in_progress"
	StatusCompleted  ContentStatus = "completed"
	StatusFailed     ContentStatus = "failed"
)

// Valid reports whether the status belongs to the closed enumeration.
func (s ContentStatus) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// QueueState is the lifecycle state of a queue entry.
type QueueState string

// Queue entry states. waiting → in_progress → processed|failed.
// The only backward transitions are an explicit reschedule (waiting → waiting
// with a new scheduled time) and crash recovery (in_progress → waiting).
const (
	StateWaiting    QueueState = "waiting"
	StateInProgress QueueState = "in_progress"
	StateProcessed  QueueState = "processed"
	StateFailed     QueueState = "failed"
)

// Valid reports whether the state belongs to the closed enumeration.
func (s QueueState) Valid() bool {
	switch s {
	case StateWaiting, StateInProgress, StateProcessed, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are permitted.
func (s QueueState) Terminal() bool {
	return s == StateProcessed || s == StateFailed
}

// UserStatus is the access state of a registered user.
type UserStatus string

// User access statuses.
const (
	UserAllowed UserStatus = "allowed"
	UserDenied  UserStatus = "denied"
)

// Valid reports whether the user status belongs to the closed enumeration.
func (s UserStatus) Valid() bool {
	return s == UserAllowed || s == UserDenied
}

// QueueEntry is one user-submitted backup request awaiting or undergoing
// processing. Rows are claimed by the scheduler (state flips to in_progress)
// and moved to the processed table once a terminal state is reached.
//
// Fields:
//   - ID: synthetic ordering key, never exposed to users.
//   - UserID / ChatID / MessageID: Telegram correlation.
//   - PostID: Instagram shortcode (or account name for account links).
//   - ScheduledTime: when the entry becomes eligible to run.
//   - DownloadStatus / UploadStatus: per-phase progress.
//   - State: lifecycle state, see QueueState.
type QueueEntry struct {
	ID             uint64        `json:"id"              gorm:"primaryKey;autoIncrement"`
	UserID         string        `json:"user_id"         gorm:"type:varchar(64);not null;index:idx_queue_user_post,priority:1"`
	PostID         string        `json:"post_id"         gorm:"type:varchar(64);not null;index:idx_queue_user_post,priority:2"`
	PostURL        string        `json:"post_url"        gorm:"type:varchar(255);not null"`
	PostOwner      string        `json:"post_owner"      gorm:"type:varchar(128);not null;default:'undefined'"`
	LinkType       LinkType      `json:"link_type"       gorm:"type:varchar(16);not null;check:link_type IN ('post','list','account')"`
	MessageID      int           `json:"message_id"      gorm:"not null"`
	ChatID         int64         `json:"chat_id"         gorm:"not null"`
	ScheduledTime  time.Time     `json:"scheduled_time"  gorm:"not null;index"`
	DownloadStatus ContentStatus `json:"download_status" gorm:"type:varchar(16);not null;default:'not_started'"`
	UploadStatus   ContentStatus `json:"upload_status"   gorm:"type:varchar(16);not null;default:'not_started'"`
	State          QueueState    `json:"state"           gorm:"type:varchar(16);not null;default:'waiting';index"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// TableName returns the database table name for QueueEntry.
func (QueueEntry) TableName() string { return "queue" }

// ProcessedEntry is the archived terminal record of a queue entry. It is a
// superset of the queue columns plus the final state, append-only and never
// mutated after insert. Failed rows are retained here for audit.
type ProcessedEntry struct {
	ID             uint64        `json:"id"              gorm:"primaryKey;autoIncrement"`
	UserID         string        `json:"user_id"         gorm:"type:varchar(64);not null;index:idx_processed_user_post,priority:1"`
	PostID         string        `json:"post_id"         gorm:"type:varchar(64);not null;index:idx_processed_user_post,priority:2"`
	PostURL        string        `json:"post_url"        gorm:"type:varchar(255);not null"`
	PostOwner      string        `json:"post_owner"      gorm:"type:varchar(128);not null;default:'undefined'"`
	LinkType       LinkType      `json:"link_type"       gorm:"type:varchar(16);not null"`
	MessageID      int           `json:"message_id"      gorm:"not null"`
	ChatID         int64         `json:"chat_id"         gorm:"not null"`
	ScheduledTime  time.Time     `json:"scheduled_time"  gorm:"not null"`
	DownloadStatus ContentStatus `json:"download_status" gorm:"type:varchar(16);not null"`
	UploadStatus   ContentStatus `json:"upload_status"   gorm:"type:varchar(16);not null"`
	State          QueueState    `json:"state"           gorm:"type:varchar(16);not null;check:state IN ('processed','failed')"`
	ProcessedAt    time.Time     `json:"processed_at"    gorm:"not null;index"`
}

// TableName returns the database table name for ProcessedEntry.
func (ProcessedEntry) TableName() string { return "processed" }

// User is a registered Telegram user. ChatID is kept so status messages can
// be delivered outside a request context.
type User struct {
	UserID    string     `json:"user_id"    gorm:"type:varchar(64);primaryKey"`
	ChatID    int64      `json:"chat_id"    gorm:"not null"`
	Status    UserStatus `json:"status"     gorm:"type:varchar(16);not null;default:'denied';check:status IN ('allowed','denied')"`
	CreatedAt time.Time  `json:"created_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// UserRequestProfile holds the per-user rate-limit configuration. The core
// only reads these rows; provisioning happens at registration time.
type UserRequestProfile struct {
	UserID             string    `json:"user_id"              gorm:"type:varchar(64);primaryKey"`
	RequestsPerDay     int       `json:"requests_per_day"     gorm:"not null"`
	RequestsPerHour    int       `json:"requests_per_hour"    gorm:"not null"`
	RandomShiftMinutes int       `json:"random_shift_minutes" gorm:"not null"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TableName returns the database table name for UserRequestProfile.
func (UserRequestProfile) TableName() string { return "users_requests" }

// Bot message states.
const (
	MessageAdded   = "added"
	MessageUpdated = "updated"
)

// BotMessage records a Telegram message the bot owns so it can be edited
// later. ContentHash is compared before editing to avoid the Telegram API's
// "message is not modified" failure class. One row per (chat, message type).
type BotMessage struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	MessageID   int       `json:"message_id"   gorm:"not null"`
	ChatID      int64     `json:"chat_id"      gorm:"not null;uniqueIndex:ux_messages_chat_type"`
	MessageType string    `json:"message_type" gorm:"type:varchar(32);not null;uniqueIndex:ux_messages_chat_type"`
	ContentHash string    `json:"-"            gorm:"type:char(64);not null"`
	State       string    `json:"state"        gorm:"type:varchar(16);not null;default:'added'"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for BotMessage.
func (BotMessage) TableName() string { return "messages" }

// Migration marks a schema migration as executed.
type Migration struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Name      string    `gorm:"type:varchar(128);not null;uniqueIndex"`
	Version   string    `gorm:"type:varchar(32);not null"`
	AppliedAt time.Time `gorm:"not null"`
}

// TableName returns the database table name for Migration.
func (Migration) TableName() string { return "migrations" }
