// Package actorctx carries the acting user on a context.Context so services
// can attribute writes without depending on the HTTP layer.
package actorctx

import "context"

type key struct{}

type Actor struct {
	UserID string
	Roles  []string
}

func With(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, key{}, a)
}

func From(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(key{}).(Actor)
	return a, ok && a.UserID != ""
}

func UserIDFrom(ctx context.Context) (string, bool) {
	a, ok := From(ctx)
	return a.UserID, ok
}
