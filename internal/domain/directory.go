package domain

import "time"

// DirectoryUser is the org-directory projection of a user: role, region and
// position, which is all the assignment resolver needs.
type DirectoryUser struct {
	ID           string
	Name         string
	Email        string
	RoleID       string
	PasswordHash string
	RegionID     *string
	National     bool
	PositionID   *string
	Active       bool
}

// Position is a node in the org chart. SuperiorID points one level up.
type Position struct {
	ID         string
	Name       string
	SuperiorID *string
}

// Holiday is a non-business calendar date.
type Holiday struct {
	ID   string
	Date time.Time
	Name string
}
