package models

import "time"

// User represents an account stored in the users table.
type User struct {
	ID           string    `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	FullName     string    `db:"full_name" json:"full_name"`
	Avatar       string    `db:"avatar" json:"avatar"`
	CoverImage   string    `db:"cover_image" json:"cover_image"`
	PasswordHash string    `db:"password_hash" json:"-"`
	RefreshToken *string   `db:"refresh_token" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Profile returns the public projection of the user.
func (u *User) Profile() UserProfile {
	return UserProfile{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		FullName:   u.FullName,
		Avatar:     u.Avatar,
		CoverImage: u.CoverImage,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

// UserProfile is the user without credential fields.
type UserProfile struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	FullName   string    `json:"full_name"`
	Avatar     string    `json:"avatar"`
	CoverImage string    `json:"cover_image,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RegisterRequest holds the text fields of the registration form.
type RegisterRequest struct {
	Username  string `form:"username" json:"username" validate:"required,alphanum,min=3,max=32"`
	Email     string `form:"email" json:"email" validate:"required,email"`
	FullName  string `form:"fullName" json:"full_name" validate:"required,max=120"`
	Password  string `form:"password" json:"password" validate:"required,min=8,max=72"`
	IP        string `form:"-" json:"-"`
	UserAgent string `form:"-" json:"-"`
}

// UpdateAccountRequest changes contact details. At least one field is required.
type UpdateAccountRequest struct {
	Email    *string `json:"email" validate:"omitempty,email"`
	FullName *string `json:"full_name" validate:"omitempty,min=1,max=120"`
}

// AccountUpdate is the set of columns written by UpdateAccount.
type AccountUpdate struct {
	Email    *string
	FullName *string
}
