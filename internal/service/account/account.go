package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"maaspace/internal/models"
	"maaspace/internal/service"
	"maaspace/internal/storage"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

const minPasswordLen = 6

// PhotoKind names the two profile photo slots.
type PhotoKind string

const (
	PhotoMother PhotoKind = "mother"
	PhotoUmiya  PhotoKind = "umiya"
)

func (k PhotoKind) column() (string, bool) {
	switch k {
	case PhotoMother:
		return "mother_photo_path", true
	case PhotoUmiya:
		return "umiya_photo_path", true
	}
	return "", false
}

// Registration carries the sign-up form.
type Registration struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Nickname    string `json:"nickname"`
	FullName    string `json:"full_name"`
	DateOfBirth string `json:"date_of_birth"`
}

// ProfileUpdate changes only the non-nil fields.
type ProfileUpdate struct {
	Nickname    *string `json:"nickname"`
	FullName    *string `json:"full_name"`
	DateOfBirth *string `json:"date_of_birth"`
}

// Service handles user lifecycle and profile persistence.
type Service struct {
	db  *storage.DB
	now func() time.Time
}

// NewService builds a new account service.
func NewService(db *storage.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// Register creates a user and its profile in one transaction.
func (s *Service) Register(ctx context.Context, reg Registration) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(reg.Email))
	nickname := strings.TrimSpace(reg.Nickname)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", service.ErrInvalidInput)
	}
	if len(reg.Password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", service.ErrInvalidInput, minPasswordLen)
	}
	if nickname == "" || reg.DateOfBirth == "" {
		return nil, fmt.Errorf("%w: nickname and date of birth are required", service.ErrInvalidInput)
	}
	if _, err := time.Parse(models.DateLayout, reg.DateOfBirth); err != nil {
		return nil, fmt.Errorf("%w: date_of_birth must be YYYY-MM-DD", service.ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	user := &models.User{ID: uuid.NewString(), Email: email, PasswordHash: string(hash), CreatedAt: now}

	err = s.db.WithTx(ctx, func(ctx context.Context, tx storage.DBTX) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = ?)`, email).Scan(&exists); err != nil {
			return fmt.Errorf("check email: %w", err)
		}
		if exists {
			return ErrEmailTaken
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
			user.ID, user.Email, user.PasswordHash, user.CreatedAt,
		); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO profiles (user_id, nickname, full_name, date_of_birth, updated_at) VALUES (?, ?, ?, ?, ?)`,
			user.ID, nickname, strings.TrimSpace(reg.FullName), reg.DateOfBirth, now,
		); err != nil {
			return fmt.Errorf("create profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Login validates credentials and returns the user.
func (s *Service) Login(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", service.ErrInvalidInput)
	}
	var user models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, email,
	).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// Profile loads the profile of userID.
func (s *Service) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	var (
		p   models.Profile
		dob sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, nickname, full_name, date_of_birth, mother_photo_path, umiya_photo_path, updated_at
		 FROM profiles WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.Nickname, &p.FullName, &dob, &p.MotherPhotoPath, &p.UmiyaPhotoPath, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile: %w", service.ErrNotFound)
		}
		return nil, fmt.Errorf("query profile: %w", err)
	}
	p.DateOfBirth = dob.String
	return &p, nil
}

// UpdateProfile applies the non-nil fields of upd.
func (s *Service) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*models.Profile, error) {
	p, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if upd.Nickname != nil {
		p.Nickname = strings.TrimSpace(*upd.Nickname)
	}
	if upd.FullName != nil {
		p.FullName = strings.TrimSpace(*upd.FullName)
	}
	if upd.DateOfBirth != nil {
		dob := strings.TrimSpace(*upd.DateOfBirth)
		if dob != "" {
			if _, err := time.Parse(models.DateLayout, dob); err != nil {
				return nil, fmt.Errorf("%w: date_of_birth must be YYYY-MM-DD", service.ErrInvalidInput)
			}
		}
		p.DateOfBirth = dob
	}
	p.UpdatedAt = s.now().UTC()

	var dob any
	if p.DateOfBirth != "" {
		dob = p.DateOfBirth
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET nickname = ?, full_name = ?, date_of_birth = ?, updated_at = ? WHERE user_id = ?`,
		p.Nickname, p.FullName, dob, p.UpdatedAt, userID,
	); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return p, nil
}

// SetPhotoPath stores a new photo path for kind and returns the previous one.
func (s *Service) SetPhotoPath(ctx context.Context, userID string, kind PhotoKind, path string) (string, error) {
	col, ok := kind.column()
	if !ok {
		return "", fmt.Errorf("%w: unknown photo kind %q", service.ErrInvalidInput, kind)
	}
	var previous string
	err := s.db.WithTx(ctx, func(ctx context.Context, tx storage.DBTX) error {
		if err := tx.QueryRowContext(ctx,
			`SELECT `+col+` FROM profiles WHERE user_id = ?`, userID,
		).Scan(&previous); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("profile: %w", service.ErrNotFound)
			}
			return fmt.Errorf("query photo path: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE profiles SET `+col+` = ?, updated_at = ? WHERE user_id = ?`,
			path, s.now().UTC(), userID,
		); err != nil {
			return fmt.Errorf("update photo path: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return previous, nil
}

// DeleteUser removes a user and cascaded data.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: user id required", service.ErrInvalidInput)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("user: %w", service.ErrNotFound)
	}
	return nil
}
