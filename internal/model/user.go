package model

import "time"

type Role string

const (
	RoleCaretaker    Role = "caretaker"
	RoleCareReceiver Role = "carereceiver"
)

// User stores profile and device push tokens.
type User struct {
	ID           string    `gorm:"primaryKey" json:"id" bson:"_id"`
	Username     string    `json:"username" bson:"username"`
	Role         Role      `gorm:"index" json:"role" bson:"role"`
	FCMTokens    []string  `gorm:"serializer:json" json:"fcmTokens" bson:"fcmTokens"`
	JoinedGroups []string  `gorm:"serializer:json" json:"joinedGroups" bson:"joinedGroups"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt" bson:"updatedAt"`
}

// DisplayName falls back to a neutral label when the username is empty.
func (u User) DisplayName(fallback string) string {
	if u.Username == "" {
		return fallback
	}
	return u.Username
}
