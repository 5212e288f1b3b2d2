package students

import (
	"strings"

	"github.com/MarcoPoloResearchLab/matebook/internal/records"
)

// StudentCreate carries the caller-supplied fields of a new entry. The avatar
// URL is not part of it; it is resolved out of band and passed separately.
type StudentCreate struct {
	Name     string  `json:"name" form:"name" validate:"required,max=100"`
	Email    *string `json:"email" form:"email" validate:"omitempty,email,max=255"`
	Phone    *string `json:"phone" form:"phone" validate:"omitempty,max=20"`
	Address  *string `json:"address" form:"address" validate:"omitempty,max=255"`
	WeChat   *string `json:"wechat" form:"wechat" validate:"omitempty,max=100"`
	QQ       *string `json:"qq" form:"qq" validate:"omitempty,max=20"`
	Position *string `json:"position" form:"position" validate:"omitempty,max=50"`
	Comments *string `json:"comments" form:"comments"`
}

// StudentUpdate carries only the fields the caller explicitly sent.
type StudentUpdate struct {
	Name     records.Field[string] `json:"name" validate:"omitempty,max=100"`
	Email    records.Field[string] `json:"email" validate:"omitempty,email,max=255"`
	Phone    records.Field[string] `json:"phone" validate:"omitempty,max=20"`
	Address  records.Field[string] `json:"address" validate:"omitempty,max=255"`
	WeChat   records.Field[string] `json:"wechat" validate:"omitempty,max=100"`
	QQ       records.Field[string] `json:"qq" validate:"omitempty,max=20"`
	Position records.Field[string] `json:"position" validate:"omitempty,max=50"`
	Comments records.Field[string] `json:"comments"`
}

// Changes renders the update into the columns it explicitly sets.
func (u StudentUpdate) Changes() records.Changes {
	changes := records.Changes{}
	u.Name.Put(changes, ColumnName)
	u.Email.Put(changes, ColumnEmail)
	u.Phone.Put(changes, ColumnPhone)
	u.Address.Put(changes, ColumnAddress)
	u.WeChat.Put(changes, ColumnWeChat)
	u.QQ.Put(changes, ColumnQQ)
	u.Position.Put(changes, ColumnPosition)
	u.Comments.Put(changes, ColumnComments)
	return changes
}

// Filter narrows List. Name is a case-insensitive substring match; Position
// and Email match exactly. Empty values are ignored.
type Filter struct {
	Name     string
	Position string
	Email    string
}

// normalized keeps values exactly as sent. Only an empty optional value is
// turned into an absent one, so it stores as NULL rather than "".
func (in StudentCreate) normalized() StudentCreate {
	in.Email = normalizeOptional(in.Email)
	in.Phone = normalizeOptional(in.Phone)
	in.Address = normalizeOptional(in.Address)
	in.WeChat = normalizeOptional(in.WeChat)
	in.QQ = normalizeOptional(in.QQ)
	in.Position = normalizeOptional(in.Position)
	in.Comments = normalizeOptional(in.Comments)
	return in
}

// normalized turns an empty optional value into an explicit clear.
func (u StudentUpdate) normalized() StudentUpdate {
	u.Email = normalizeField(u.Email)
	u.Phone = normalizeField(u.Phone)
	u.Address = normalizeField(u.Address)
	u.WeChat = normalizeField(u.WeChat)
	u.QQ = normalizeField(u.QQ)
	u.Position = normalizeField(u.Position)
	u.Comments = normalizeField(u.Comments)
	return u
}

func normalizeOptional(value *string) *string {
	if value == nil || *value == "" {
		return nil
	}
	return value
}

func normalizeField(field records.Field[string]) records.Field[string] {
	if field.Set && field.Value != nil && *field.Value == "" {
		return records.Clear[string]()
	}
	return field
}

// isBlank reports a name with no visible characters.
func isBlank(name string) bool {
	return strings.TrimSpace(name) == ""
}

func newStudent(in StudentCreate) Student {
	return Student{
		Name:       in.Name,
		NameFolded: FoldName(in.Name),
		Email:      in.Email,
		Phone:      in.Phone,
		Address:    in.Address,
		WeChat:     in.WeChat,
		QQ:         in.QQ,
		Position:   in.Position,
		Comments:   in.Comments,
	}
}
