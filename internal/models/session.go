package models

import "time"

// DateLayout is the calendar-day format used for dates of birth and entries.
const DateLayout = "2006-01-02"

// DefaultNickname is used whenever a profile has no nickname set.
const DefaultNickname = "beta"

// User is an account able to sign in.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Profile holds the personal details Maa uses to address the user.
type Profile struct {
	UserID          string    `json:"user_id"`
	Nickname        string    `json:"nickname"`
	FullName        string    `json:"full_name"`
	DateOfBirth     string    `json:"date_of_birth,omitempty"`
	MotherPhotoPath string    `json:"mother_photo_path,omitempty"`
	UmiyaPhotoPath  string    `json:"umiya_maa_photo_path,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DisplayNickname falls back to DefaultNickname.
func (p *Profile) DisplayNickname() string {
	if p == nil || p.Nickname == "" {
		return DefaultNickname
	}
	return p.Nickname
}

// Birthday parses DateOfBirth, returning nil when unset or malformed.
func (p *Profile) Birthday() *time.Time {
	if p == nil || p.DateOfBirth == "" {
		return nil
	}
	t, err := time.Parse(DateLayout, p.DateOfBirth)
	if err != nil {
		return nil
	}
	return &t
}
