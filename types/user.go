package types

import "time"

// User represents a registered customer.
// It contains identity, credentials and the current session binding.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Name is the unique display name chosen at registration.
	Name string `json:"nombre" db:"name"`

	// Email is the normalized (trimmed, lower-cased) email address.
	Email string `json:"correo" db:"email"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// RefreshToken is the only refresh token currently accepted for this
	// user. Nil when the user has no live session.
	RefreshToken *string `json:"-" db:"refresh_token"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
