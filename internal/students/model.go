package students

import (
	"strings"
	"time"
)

const (
	tableStudents = "students"

	ColumnName      = "name"
	ColumnEmail     = "email"
	ColumnPhone     = "phone"
	ColumnAddress   = "address"
	ColumnWeChat    = "wechat"
	ColumnQQ        = "qq"
	ColumnPosition  = "position"
	ColumnComments  = "comments"
	ColumnAvatarURL = "avatar_url"

	// columnNameFolded holds the lower-cased name the substring filter
	// matches against, so case folding is not left to the database.
	columnNameFolded = "name_folded"
)

// mutableColumns lists every column an update may touch.
var mutableColumns = []string{
	ColumnName,
	ColumnEmail,
	ColumnPhone,
	ColumnAddress,
	ColumnWeChat,
	ColumnQQ,
	ColumnPosition,
	ColumnComments,
	ColumnAvatarURL,
	columnNameFolded,
}

// Student is one directory entry.
type Student struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name       string    `gorm:"column:name;size:100;not null;index" json:"name"`
	NameFolded string    `gorm:"column:name_folded;size:400;not null;default:'';index" json:"-"`
	Email      *string   `gorm:"column:email;size:255;uniqueIndex" json:"email"`
	Phone      *string   `gorm:"column:phone;size:20" json:"phone"`
	Address    *string   `gorm:"column:address;size:255" json:"address"`
	WeChat     *string   `gorm:"column:wechat;size:100" json:"wechat"`
	QQ         *string   `gorm:"column:qq;size:20" json:"qq"`
	Position   *string   `gorm:"column:position;size:50;index" json:"position"`
	Comments   *string   `gorm:"column:comments;type:text" json:"comments"`
	AvatarURL  *string   `gorm:"column:avatar_url;size:512" json:"avatar_url"`
	CreatedAt  time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName exposes the table backing directory entries.
func (Student) TableName() string {
	return tableStudents
}

// RecordID returns the store-assigned identity.
func (s Student) RecordID() int64 {
	return s.ID
}

// FoldName is the case-folded form the name filter compares against.
func FoldName(name string) string {
	return strings.ToLower(name)
}
