package model

import "time"

// Role is a user's authorization role.
type Role string

const (
	RoleStudent Role = "student"
	RoleLaundry Role = "laundry"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleLaundry, RoleAdmin:
		return true
	}
	return false
}

// IsStaff reports whether r may operate the laundry dashboard.
func (r Role) IsStaff() bool {
	return r == RoleLaundry || r == RoleAdmin
}

// User is a registered account. PasswordHash never leaves the server.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	Role         Role      `json:"role"`
	Name         string    `json:"name"`
	Room         string    `json:"room,omitempty"`
	Hostel       string    `json:"hostel,omitempty"`
	PhotoURL     string    `json:"photoUrl,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	Disabled     bool      `json:"disabled,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// UserResponse is the public projection of a User.
type UserResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	Name     string `json:"name"`
	Room     string `json:"room,omitempty"`
	Hostel   string `json:"hostel,omitempty"`
	PhotoURL string `json:"photoUrl,omitempty"`
}

// Response strips credential material from the user.
func (u User) Response() UserResponse {
	return UserResponse{
		ID:       u.ID,
		Email:    u.Email,
		Role:     u.Role,
		Name:     u.Name,
		Room:     u.Room,
		Hostel:   u.Hostel,
		PhotoURL: u.PhotoURL,
	}
}
