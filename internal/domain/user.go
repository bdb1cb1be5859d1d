package domain

import "time"

// User is the domain model for vault owners.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	// KeySalt is mixed into the derivation of the user's item key.
	KeySalt   []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity returns the session identity for the user.
func (u *User) Identity() SessionIdentity {
	return SessionIdentity{UserID: u.ID, DisplayName: u.Name, Email: u.Email}
}
