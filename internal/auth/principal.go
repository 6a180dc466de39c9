package auth

import (
	"github.com/gin-gonic/gin"

	"laundry-booking-backend/internal/model"
)

const (
	principalKey  = "auth.principal"
	credentialKey = "auth.credential"
)

// Principal is the authenticated caller.
type Principal struct {
	ID    string     `json:"id"`
	Role  model.Role `json:"role"`
	Email string     `json:"email"`
	Name  string     `json:"name"`
}

// IsStaff reports whether the principal may operate the laundry.
func (p Principal) IsStaff() bool {
	return p.Role.IsStaff()
}

// PrincipalOf builds the principal for u.
func PrincipalOf(u model.User) Principal {
	return Principal{ID: u.ID, Role: u.Role, Email: u.Email, Name: u.Name}
}

// PrincipalFrom returns the principal resolved for this request, if any.
func PrincipalFrom(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

func credentialFrom(c *gin.Context) (Credential, bool) {
	v, ok := c.Get(credentialKey)
	if !ok {
		return Credential{}, false
	}
	cred, ok := v.(Credential)
	return cred, ok
}
