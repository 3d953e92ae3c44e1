package model

import (
	"slices"
	"time"
)

// Group owns tasks and the caretakers and care-receivers working on them.
type Group struct {
	ID              string    `gorm:"primaryKey" json:"id" bson:"_id"`
	GroupName       string    `json:"groupName" bson:"groupName"`
	Members         []string  `gorm:"serializer:json" json:"members" bson:"members"`
	PendingRequests []string  `gorm:"serializer:json" json:"pendingRequests" bson:"pendingRequests"`
	CreatedAt       time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt" bson:"updatedAt"`
}

func (g *Group) Clone() *Group {
	if g == nil {
		return nil
	}
	c := *g
	c.Members = slices.Clone(g.Members)
	c.PendingRequests = slices.Clone(g.PendingRequests)
	return &c
}

func (g *Group) HasMember(userID string) bool {
	return slices.Contains(g.Members, userID)
}
