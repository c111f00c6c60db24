package models

import "time"

// VaultPhoto describes a private photo kept in blob storage.
type VaultPhoto struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	StoragePath  string     `json:"storage_path"`
	OriginalName string     `json:"original_name"`
	MimeType     string     `json:"mime_type"`
	Size         int64      `json:"size"`
	CreatedAt    time.Time  `json:"created_at"`
	DeletedAt    *time.Time `json:"-"`
}

// Document describes a user document kept in blob storage.
type Document struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	FileName     string     `json:"file_name"`
	OriginalName string     `json:"original_name"`
	StoragePath  string     `json:"storage_path"`
	UserNote     *string    `json:"user_note"`
	FileType     string     `json:"file_type"`
	FileSize     int64      `json:"file_size"`
	CreatedAt    time.Time  `json:"created_at"`
	DeletedAt    *time.Time `json:"-"`
}
