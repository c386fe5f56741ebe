package user

import "time"

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

type User struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	Username            string     `json:"username"`
	FirstName           string     `json:"firstName"`
	LastName            string     `json:"lastName"`
	PasswordHash        string     `json:"-"` // never expose hash in JSON
	Role                string     `json:"role"`
	Roles               []string   `json:"roles"`
	Departments         []string   `json:"departments"`
	IsActive            bool       `json:"isActive"`
	EmailVerified       bool       `json:"emailVerified"`
	FailedLoginAttempts int        `json:"-"`
	LockedUntil         *time.Time `json:"lockedUntil,omitempty"`
	LastLoginAt         *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

func (u User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// AllRoles is the primary role plus any extra grants, without duplicates.
func (u User) AllRoles() []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(u.Roles)+1)
	for _, r := range append([]string{u.Role}, u.Roles...) {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

// Token purposes for one-time links.
const (
	PurposeVerifyEmail   = "verify_email"
	PurposePasswordReset = "password_reset"
	PurposeUnlockAccount = "unlock_account"
)

type OneTimeToken struct {
	ID         string
	UserID     string
	Purpose    string
	TokenHash  string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}
