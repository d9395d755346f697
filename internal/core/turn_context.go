package core

import "context"

type turnIDKey struct{}

// WithTurnID tags ctx with the id of the turn being processed so log lines
// from every layer can be correlated.
func WithTurnID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, turnIDKey{}, id)
}

func TurnIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(turnIDKey{}).(string)
	return id
}
