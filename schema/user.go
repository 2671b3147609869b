package schema

import "github.com/classguard/classguard"

// User columns.
const (
	UserFieldID       = "id"
	UserFieldEmail    = "email"
	UserFieldFullName = "full_name"
	UserFieldRole     = "role"
)

// UserColumns is the full column list of the users table.
var UserColumns = []string{
	UserFieldID,
	UserFieldEmail,
	UserFieldFullName,
	UserFieldRole,
}

// User is a resolved user profile. Role is immutable post-creation; the
// engine only checks it.
type User struct {
	ID       string
	Email    string
	FullName string
	Role     classguard.Role
}

// RecordID implements classguard.Record.
func (u *User) RecordID() string { return u.ID }

// Table implements classguard.Record.
func (u *User) Table() string { return TableUsers }

// Field implements classguard.Record.
func (u *User) Field(name string) (classguard.Value, bool) {
	switch name {
	case UserFieldID:
		return u.ID, true
	case UserFieldEmail:
		return u.Email, true
	case UserFieldFullName:
		return u.FullName, true
	case UserFieldRole:
		return string(u.Role), true
	}
	return nil, false
}
