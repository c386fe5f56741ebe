package notifications

import (
	"context"
	"time"
)

// AuthLinkInput carries a one-time token to the account owner.
type AuthLinkInput struct {
	Email     string
	Name      string
	Purpose   string // verify_email | password_reset | unlock_account
	Token     string
	ExpiresAt time.Time
}

type Notifier interface {
	SendAuthLink(ctx context.Context, input AuthLinkInput) error
}
