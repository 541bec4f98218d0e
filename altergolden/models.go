package altergolden

import (
	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"
)

// ModelUnixTime is an embeddable model with Unix millisecond timestamps
// for creation, update, and deletion.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// User is the persistent record of a discord user the bot has seen. The
// hot per-user state (preferences, favorites, sessions) lives in the
// cache layer; this row exists for moderation flags and auditing.
type User struct {
	ID string `gorm:"primaryKey" json:"id"`
	ModelUnixTime

	// Username is the user's discord username as of LastSeen
	Username string `json:"username"`

	// GlobalName is the user's discord display name as of LastSeen
	GlobalName string `json:"global_name"`

	// LastSeen is when the user last interacted with the bot,
	// in Unix milliseconds
	LastSeen int64 `json:"last_seen,omitempty"`

	// Ignored users can't start or join votes, and their interactions
	// are dropped
	Ignored bool `json:"ignored" gorm:"default:false"`
}

func NewUser(u discordgo.User) *User {
	return &User{
		ID:         u.ID,
		Username:   u.Username,
		GlobalName: u.GlobalName,
	}
}

func (u User) userChangedDiscordUsername(du discordgo.User) bool {
	return u.Username != du.Username || u.GlobalName != du.GlobalName
}

// VoteRecord is the audit row written when a vote session resolves,
// whether passed or expired.
type VoteRecord struct {
	ModelUintID
	ModelUnixTime

	SessionID  string `json:"session_id" gorm:"index"`
	Scope      string `json:"scope" gorm:"index"`
	Kind       string `json:"kind"`
	StartedBy  string `json:"started_by"`
	Ballots    int    `json:"ballots"`
	Required   int    `json:"required"`
	Outcome    string `json:"outcome"`
	StartedAt  int64  `json:"started_at"`
	ResolvedAt int64  `json:"resolved_at"`
}

// ActionRecord is the audit row written when a scheduled action fires on
// this process.
type ActionRecord struct {
	ModelUintID
	ModelUnixTime

	Scope       string `json:"scope" gorm:"index"`
	Kind        string `json:"kind"`
	PerformedAt int64  `json:"performed_at"`
}
