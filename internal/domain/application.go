package domain

import "time"

const (
	GrantPassword = "password"

	ClientPublic       = "public"
	ClientConfidential = "confidential"
)

// Application is an OAuth client registration. Records are immutable as far
// as the token lifecycle is concerned; they are only ever looked up by
// client_id.
type Application struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	ClientID   string    `gorm:"size:100;uniqueIndex;not null" json:"client_id"`
	Name       string    `gorm:"size:255" json:"name"`
	GrantType  string    `gorm:"size:32;not null" json:"grant_type"`
	ClientType string    `gorm:"size:32;not null" json:"client_type"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
