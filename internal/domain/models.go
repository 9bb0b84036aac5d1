// Package domain defines the persistence models for users and direct
// messages. These types are mapped with GORM and form the core data layer
// of the messaging service.
package domain

import (
	"time"
)

// MediaKind classifies an uploaded attachment.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

// Valid reports whether k is one of the supported kinds.
func (k MediaKind) Valid() bool {
	switch k {
	case MediaImage, MediaVideo, MediaAudio:
		return true
	}
	return false
}

// MediaDescriptor identifies an uploaded file by kind and storage location
// without embedding its bytes in the message record.
type MediaDescriptor struct {
	Kind           MediaKind `json:"kind"            validate:"required,oneof=image video audio" example:"image"`
	StorageLocator string    `json:"storage_locator" validate:"required,max=512"                 example:"20250101120000_3f2a.png"`
}

// User is an immutable identity created at signup.
//
// Fields:
//   - ID: autoincrement primary key, referenced by messages.
//   - Username: unique login name (normalized by the service layer).
//   - PasswordHash: bcrypt hash; never serialized.
//   - CreatedAt: timestamp managed by GORM.
type User struct {
	ID           uint64    `json:"id"       gorm:"primaryKey;autoIncrement"`
	Username     string    `json:"username" gorm:"type:varchar(64);not null;uniqueIndex:ux_users_username"`
	PasswordHash string    `json:"-"        gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Message is a single direct message between two users. Rows are append-only:
// once persisted a message is never updated.
//
// Fields:
//   - ID: strictly increasing autoincrement key; persistence order = id order.
//   - SenderID / RecipientID: foreign keys to users.
//   - Content: optional text body.
//   - MediaKind / MediaLocator: optional attachment descriptor, both set or both nil.
//   - CreatedAt: server clock (UTC) at persistence time.
type Message struct {
	ID           uint64     `gorm:"primaryKey;autoIncrement"`
	SenderID     uint64     `gorm:"not null;index:idx_msgs_pair,priority:1"`
	RecipientID  uint64     `gorm:"not null;index:idx_msgs_pair,priority:2"`
	Content      *string    `gorm:"type:text"`
	MediaKind    *MediaKind `gorm:"type:varchar(16)"`
	MediaLocator *string    `gorm:"type:varchar(512)"`
	CreatedAt    time.Time  `gorm:"not null;index:idx_msgs_pair,priority:3"`

	Sender    User `gorm:"foreignKey:SenderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	Recipient User `gorm:"foreignKey:RecipientID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Media returns the attachment descriptor, or nil when the message has none.
func (m Message) Media() *MediaDescriptor {
	if m.MediaKind == nil || m.MediaLocator == nil {
		return nil
	}
	return &MediaDescriptor{Kind: *m.MediaKind, StorageLocator: *m.MediaLocator}
}

// MessageView is the wire shape of a message, shared by the HTTP API and the
// push channel. Participants are referenced by username.
type MessageView struct {
	ID        uint64           `json:"id"         example:"42"`
	Sender    string           `json:"sender"     example:"alice"`
	Recipient string           `json:"recipient"  example:"bob"`
	Content   *string          `json:"content"    example:"hi"`
	Media     *MediaDescriptor `json:"media"`
	CreatedAt time.Time        `json:"created_at"`
}

// View renders m for clients. Sender and Recipient must be loaded.
func (m Message) View() MessageView {
	return MessageView{
		ID:        m.ID,
		Sender:    m.Sender.Username,
		Recipient: m.Recipient.Username,
		Content:   m.Content,
		Media:     m.Media(),
		CreatedAt: m.CreatedAt,
	}
}
