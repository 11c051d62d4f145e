package user

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUserNotFound is returned when no user matches the lookup.
var ErrUserNotFound = errors.New("user not found")

// ErrDuplicateUser is returned when the username is already taken.
var ErrDuplicateUser = errors.New("username already exists")

// ErrInvalidCredentials is returned when credential verification fails.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Repository is the user record store consumed by the session engine.
// Usernames are unique case-insensitively.
type Repository interface {
	GetByID(id string) (*User, error)
	GetByUsername(username string) (*User, error)
	Add(u *User) error
	Update(u *User) error
	// ValidateCredentials verifies the password against the stored hash and
	// returns the user on success.
	ValidateCredentials(username, password string) (*User, error)
	// CreateUser creates a salted-hash user record.
	CreateUser(username, password, email string, role Role) (*User, error)
	Count() (int, error)
}

// FileRepository keeps users in memory and persists them to
// users/users.json. The map is guarded by a mutex; disk writes happen on a
// snapshot taken under the lock so I/O never extends the hold.
type FileRepository struct {
	path string

	mu      sync.Mutex
	byID    map[string]*User
	byLower map[string]string // lowercased username -> id
}

// OpenFileRepository loads (or initializes) the store under dir.
func OpenFileRepository(dir string) (*FileRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating users directory: %w", err)
	}
	r := &FileRepository{
		path:    filepath.Join(dir, "users.json"),
		byID:    make(map[string]*User),
		byLower: make(map[string]string),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileRepository) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading user store: %w", err)
	}
	var users []*User
	if err := json.Unmarshal(data, &users); err != nil {
		return fmt.Errorf("parsing user store: %w", err)
	}
	for _, u := range users {
		r.byID[u.ID] = u
		r.byLower[strings.ToLower(u.Username)] = u.ID
	}
	return nil
}

// snapshot copies the current records under the lock.
func (r *FileRepository) snapshot() []*User {
	users := make([]*User, 0, len(r.byID))
	for _, u := range r.byID {
		copied := *u
		users = append(users, &copied)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

// persist writes a snapshot with write-to-temp-then-rename so a crash never
// leaves a truncated store. Called without the mutex held.
func (r *FileRepository) persist(users []*User) error {
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding user store: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing user store: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replacing user store: %w", err)
	}
	return nil
}

// GetByID looks a user up by id.
func (r *FileRepository) GetByID(id string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

// GetByUsername looks a user up by case-insensitive username.
func (r *FileRepository) GetByUsername(username string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byLower[strings.ToLower(username)]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *r.byID[id]
	return &copied, nil
}

// Add inserts a new user record.
func (r *FileRepository) Add(u *User) error {
	r.mu.Lock()
	lower := strings.ToLower(u.Username)
	if _, exists := r.byLower[lower]; exists {
		r.mu.Unlock()
		return ErrDuplicateUser
	}
	copied := *u
	r.byID[u.ID] = &copied
	r.byLower[lower] = u.ID
	users := r.snapshot()
	r.mu.Unlock()
	return r.persist(users)
}

// Update replaces an existing user record.
func (r *FileRepository) Update(u *User) error {
	r.mu.Lock()
	existing, ok := r.byID[u.ID]
	if !ok {
		r.mu.Unlock()
		return ErrUserNotFound
	}
	if !strings.EqualFold(existing.Username, u.Username) {
		delete(r.byLower, strings.ToLower(existing.Username))
		r.byLower[strings.ToLower(u.Username)] = u.ID
	}
	copied := *u
	r.byID[u.ID] = &copied
	users := r.snapshot()
	r.mu.Unlock()
	return r.persist(users)
}

// ValidateCredentials verifies username/password and stamps lastLoginAt on
// success.
func (r *FileRepository) ValidateCredentials(username, password string) (*User, error) {
	u, err := r.GetByUsername(username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !VerifyPassword(password, u.PasswordSalt, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	now := time.Now().UTC()
	u.LastLoginAt = &now
	if err := r.Update(u); err != nil {
		return nil, err
	}
	return u, nil
}

// CreateUser creates a salted-hash user record with the given role.
func (r *FileRepository) CreateUser(username, password, email string, role Role) (*User, error) {
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	if !role.IsValid() {
		role = RoleUser
	}
	salt, err := GenerateSalt()
	if err != nil {
		return nil, err
	}
	hash, err := HashPassword(password, salt)
	if err != nil {
		return nil, err
	}
	u := &User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		PasswordSalt: salt,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := r.Add(u); err != nil {
		return nil, err
	}
	return u, nil
}

// Count returns the number of stored users.
func (r *FileRepository) Count() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID), nil
}
