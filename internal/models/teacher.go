package models

import "time"

// Teacher owns polls. Usernames are unique ignoring case.
type Teacher struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Username  string    `json:"username" gorm:"size:64;not null;uniqueIndex"`
	Polls     []Poll    `json:"polls,omitempty" gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
