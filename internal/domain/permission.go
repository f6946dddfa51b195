package domain

import "time"

// Capability is a granted (action, subject) pair, e.g. ("update", "ticket").
type Capability struct {
	Action  string
	Subject string
}

// Permission is a grantable capability definition.
type Permission struct {
	ID        string
	Action    string `validate:"required"`
	Subject   string `validate:"required"`
	Active    bool
	CreatedAt time.Time
}

// RolePermission links a role to a permission.
type RolePermission struct {
	ID           string
	RoleID       string
	PermissionID string
	Active       bool
}

// Role is a named permission bundle assigned to users.
type Role struct {
	ID   string
	Name string `validate:"required"`
}
