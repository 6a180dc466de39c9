// Package auth resolves callers to principals and gates routes by session,
// CSRF token and role.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"laundry-booking-backend/internal/model"
	"laundry-booking-backend/internal/store"
)

var (
	ErrUnauthorized       = errors.New("authentication required")
	ErrForbidden          = errors.New("insufficient role")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidRole        = errors.New("invalid role")
)

const minPasswordLength = 8

// Accounts manages user records.
type Accounts struct {
	store store.Store
	cost  int
	now   func() time.Time

	decoyOnce sync.Once
	decoy     []byte
}

// NewAccounts creates an account service hashing passwords at bcryptCost.
func NewAccounts(s store.Store, bcryptCost int) *Accounts {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Accounts{store: s, cost: bcryptCost, now: time.Now}
}

// Registration is the input for a new local account.
type Registration struct {
	Email    string
	Password string
	Name     string
	Room     string
	Hostel   string
}

// ProfileUpdate changes the non-nil profile fields.
type ProfileUpdate struct {
	Name   *string
	Room   *string
	Hostel *string
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func (a *Accounts) hash(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", ErrWeakPassword
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// Register creates a student account.
func (a *Accounts) Register(ctx context.Context, r Registration) (model.User, error) {
	return a.create(ctx, r, model.RoleStudent)
}

// CreateStaff creates an account with an arbitrary role.
func (a *Accounts) CreateStaff(ctx context.Context, r Registration, role model.Role) (model.User, error) {
	if !role.Valid() {
		return model.User{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return a.create(ctx, r, role)
}

func (a *Accounts) create(ctx context.Context, r Registration, role model.Role) (model.User, error) {
	email, err := normalizeEmail(r.Email)
	if err != nil {
		return model.User{}, err
	}
	hash, err := a.hash(r.Password)
	if err != nil {
		return model.User{}, err
	}
	now := a.now().UTC()
	return a.insert(ctx, model.User{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Name:         strings.TrimSpace(r.Name),
		Room:         r.Room,
		Hostel:       r.Hostel,
		Provider:     "local",
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func (a *Accounts) insert(ctx context.Context, u model.User) (model.User, error) {
	entity, err := store.ToEntity(u)
	if err != nil {
		return model.User{}, err
	}
	created, err := a.store.Create(ctx, store.Users, entity, store.UniqueField("email", ErrEmailTaken))
	if err != nil {
		return model.User{}, err
	}
	u.ID = created.ID
	return u, nil
}

func (a *Accounts) findByEmail(ctx context.Context, email string) (model.User, error) {
	entities, err := a.store.List(ctx, store.Users)
	if err != nil {
		return model.User{}, err
	}
	for _, e := range entities {
		var u model.User
		if err := store.Decode(e, &u); err != nil {
			log.Printf("skipping undecodable user %s: %v", e.ID, err)
			continue
		}
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, fmt.Errorf("user %q: %w", email, store.ErrNotFound)
}

// Authenticate checks a local email/password pair. Every failure, including
// an unknown email or a disabled account, is ErrInvalidCredentials.
func (a *Accounts) Authenticate(ctx context.Context, email, password string) (model.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		a.compareDecoy(password)
		return model.User{}, ErrInvalidCredentials
	}
	u, err := a.findByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		a.compareDecoy(password)
		return model.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return model.User{}, err
	}
	if u.Disabled || u.PasswordHash == "" {
		a.compareDecoy(password)
		return model.User{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return model.User{}, ErrInvalidCredentials
	}
	return u, nil
}

// compareDecoy spends one bcrypt comparison at the account cost so a miss
// takes as long as a wrong password.
func (a *Accounts) compareDecoy(password string) {
	a.decoyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("decoy-password-never-matches"), a.cost)
		if err != nil {
			log.Printf("failed to build decoy hash: %v", err)
			return
		}
		a.decoy = hash
	})
	if a.decoy != nil {
		_ = bcrypt.CompareHashAndPassword(a.decoy, []byte(password))
	}
}

// LoginExternal finds or creates the account for a verified external
// identity.
func (a *Accounts) LoginExternal(ctx context.Context, id ExternalIdentity) (model.User, error) {
	email, err := normalizeEmail(id.Email)
	if err != nil {
		return model.User{}, err
	}
	u, err := a.findByEmail(ctx, email)
	if err == nil {
		if u.Disabled {
			return model.User{}, ErrInvalidCredentials
		}
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.User{}, err
	}

	now := a.now().UTC()
	u, err = a.insert(ctx, model.User{
		Email:     email,
		Role:      model.RoleStudent,
		Name:      id.Name,
		Provider:  id.Provider,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if errors.Is(err, ErrEmailTaken) {
		// Lost a race with a concurrent first login.
		return a.findByEmail(ctx, email)
	}
	return u, err
}

// Get returns one user.
func (a *Accounts) Get(ctx context.Context, id string) (model.User, error) {
	e, err := a.store.Get(ctx, store.Users, id)
	if err != nil {
		return model.User{}, err
	}
	var u model.User
	if err := store.Decode(e, &u); err != nil {
		return model.User{}, err
	}
	return u, nil
}

func (a *Accounts) patch(ctx context.Context, id string, values map[string]any) (model.User, error) {
	values["updatedAt"] = a.now().UTC()
	fields, err := store.Patch(values)
	if err != nil {
		return model.User{}, err
	}
	e, err := a.store.Update(ctx, store.Users, id, fields)
	if err != nil {
		return model.User{}, err
	}
	var u model.User
	if err := store.Decode(e, &u); err != nil {
		return model.User{}, err
	}
	return u, nil
}

// UpdateProfile changes name, room and hostel.
func (a *Accounts) UpdateProfile(ctx context.Context, id string, p ProfileUpdate) (model.User, error) {
	values := map[string]any{}
	if p.Name != nil {
		values["name"] = strings.TrimSpace(*p.Name)
	}
	if p.Room != nil {
		values["room"] = *p.Room
	}
	if p.Hostel != nil {
		values["hostel"] = *p.Hostel
	}
	return a.patch(ctx, id, values)
}

// SetPhoto records the URL of the user's uploaded photo.
func (a *Accounts) SetPhoto(ctx context.Context, id, url string) (model.User, error) {
	return a.patch(ctx, id, map[string]any{"photoUrl": url})
}

// ChangePassword replaces the password after checking the current one.
func (a *Accounts) ChangePassword(ctx context.Context, id, current, next string) error {
	u, err := a.Get(ctx, id)
	if err != nil {
		return err
	}
	if u.PasswordHash != "" && bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)) != nil {
		return ErrInvalidCredentials
	}
	hash, err := a.hash(next)
	if err != nil {
		return err
	}
	_, err = a.patch(ctx, id, map[string]any{"passwordHash": hash})
	return err
}

// ResetPassword sets a new password for email without the current one. The
// caller must have verified ownership of the address.
func (a *Accounts) ResetPassword(ctx context.Context, email, next string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	u, err := a.findByEmail(ctx, email)
	if err != nil {
		return err
	}
	hash, err := a.hash(next)
	if err != nil {
		return err
	}
	_, err = a.patch(ctx, u.ID, map[string]any{"passwordHash": hash})
	return err
}

// Exists reports whether an account is registered under email.
func (a *Accounts) Exists(ctx context.Context, email string) bool {
	email, err := normalizeEmail(email)
	if err != nil {
		return false
	}
	_, err = a.findByEmail(ctx, email)
	return err == nil
}
