package service

import "context"

// ConferenteCheck answers whether actor may act as the second reviewer of a
// counting session for the branch. It is supplied by the authorization layer.
type ConferenteCheck interface {
	IsConferente(ctx context.Context, actor, orgID, branchID string) (bool, error)
}

// ConferenteFunc adapts a function to ConferenteCheck.
type ConferenteFunc func(ctx context.Context, actor, orgID, branchID string) (bool, error)

func (f ConferenteFunc) IsConferente(ctx context.Context, actor, orgID, branchID string) (bool, error) {
	return f(ctx, actor, orgID, branchID)
}

// StaticConferentes grants the capability to a fixed set of actor ids.
type StaticConferentes map[string]bool

func (s StaticConferentes) IsConferente(_ context.Context, actor, _, _ string) (bool, error) {
	return s[actor], nil
}
