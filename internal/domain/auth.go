package domain

import "time"

// SubjectType tags the kind of principal a token represents.
type SubjectType string

const (
	SubjectTypeUser    SubjectType = "USER"
	SubjectTypeService SubjectType = "SERVICE"
)

// Token represents issued authentication token metadata.
type Token struct {
	ID        string
	SubjectID string
	Subject   SubjectType
	RoleID    string
	ExpiresAt time.Time
	IssuedAt  time.Time
}
