package domain

import "time"

// AccessToken is a short-lived opaque bearer credential. A row that has been
// deleted, or whose ExpiresAt has passed, never authorizes a request again.
type AccessToken struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	Token         string    `gorm:"size:128;uniqueIndex;not null" json:"-"`
	UserID        string    `gorm:"size:36;index;not null" json:"user_id"`
	ApplicationID string    `gorm:"size:36;index;not null" json:"application_id"`
	Scope         string    `gorm:"size:255" json:"scope"`
	ExpiresAt     time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
}

func (t *AccessToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// RefreshToken is the long-lived half of a session. Its token value never
// changes after issuance; rotation only rebinds AccessTokenID. RevokedAt set
// means permanently dead.
type RefreshToken struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	Token         string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	UserID        string     `gorm:"size:36;index;not null" json:"user_id"`
	ApplicationID string     `gorm:"size:36;index;not null" json:"application_id"`
	AccessTokenID *string    `gorm:"size:36;uniqueIndex" json:"-"`
	CreatedAt     time.Time  `gorm:"index" json:"created_at"`
	RevokedAt     *time.Time `gorm:"index" json:"revoked_at,omitempty"`
}

func (t *RefreshToken) Revoked() bool {
	return t.RevokedAt != nil
}
