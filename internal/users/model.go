package users

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/matebook/internal/records"
)

const (
	tableUsers = "users"

	columnUsername       = "username"
	columnEmail          = "email"
	columnHashedPassword = "hashed_password"
	columnFullName       = "full_name"
	columnIsActive       = "is_active"
	columnIsSuperuser    = "is_superuser"
)

var mutableColumns = []string{
	columnUsername,
	columnEmail,
	columnHashedPassword,
	columnFullName,
	columnIsActive,
	columnIsSuperuser,
}

// User is an account that can obtain bearer tokens.
type User struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Username       string    `gorm:"column:username;size:50;not null;uniqueIndex" json:"username"`
	Email          *string   `gorm:"column:email;size:255;uniqueIndex" json:"email"`
	HashedPassword string    `gorm:"column:hashed_password;size:255;not null" json:"-"`
	FullName       *string   `gorm:"column:full_name;size:100" json:"full_name"`
	IsActive       bool      `gorm:"column:is_active;not null" json:"is_active"`
	IsSuperuser    bool      `gorm:"column:is_superuser;not null" json:"is_superuser"`
	CreatedAt      time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName exposes the table backing accounts.
func (User) TableName() string {
	return tableUsers
}

// RecordID returns the store-assigned identity.
func (u User) RecordID() int64 {
	return u.ID
}

// UserCreate carries the fields of a new account. Password is hashed before
// it reaches the store.
type UserCreate struct {
	Username    string  `json:"username" validate:"required,min=3,max=50"`
	Email       *string `json:"email" validate:"omitempty,email,max=255"`
	Password    string  `json:"password" validate:"required,min=8,maxbytes=72"`
	FullName    *string `json:"full_name" validate:"omitempty,max=100"`
	IsSuperuser bool    `json:"-"`
}

// UserUpdate carries only the account fields the caller explicitly sent.
type UserUpdate struct {
	Email       records.Field[string] `json:"email" validate:"omitempty,email,max=255"`
	FullName    records.Field[string] `json:"full_name" validate:"omitempty,max=100"`
	Password    records.Field[string] `json:"password" validate:"omitempty,min=8,maxbytes=72"`
	IsActive    records.Field[bool]   `json:"is_active"`
	IsSuperuser records.Field[bool]   `json:"is_superuser"`
}

// Changes renders the update into columns. The password is not a column; the
// service turns it into a hash.
func (u UserUpdate) Changes() records.Changes {
	changes := records.Changes{}
	u.Email.Put(changes, columnEmail)
	u.FullName.Put(changes, columnFullName)
	u.IsActive.Put(changes, columnIsActive)
	u.IsSuperuser.Put(changes, columnIsSuperuser)
	return changes
}

func newUser(in UserCreate) User {
	return User{
		Username:    in.Username,
		Email:       in.Email,
		FullName:    in.FullName,
		IsActive:    true,
		IsSuperuser: in.IsSuperuser,
	}
}

func (in UserCreate) normalized() UserCreate {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = normalizeOptional(in.Email)
	in.FullName = normalizeOptional(in.FullName)
	return in
}

func (u UserUpdate) normalized() UserUpdate {
	if u.Email.Set {
		if trimmed := normalizeOptional(u.Email.Value); trimmed != nil {
			u.Email = records.SetTo(*trimmed)
		} else {
			u.Email = records.Clear[string]()
		}
	}
	if u.FullName.Set {
		if trimmed := normalizeOptional(u.FullName.Value); trimmed != nil {
			u.FullName = records.SetTo(*trimmed)
		} else {
			u.FullName = records.Clear[string]()
		}
	}
	return u
}

// normalizeOptional trims value; a blank value becomes nil.
func normalizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
