package protocol

import "context"

type dispatchIDKey struct{}

// WithDispatchID tags ctx with the ID of the dispatch it serves.
func WithDispatchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, dispatchIDKey{}, id)
}

// DispatchIDFrom returns the dispatch ID carried by ctx, if any.
func DispatchIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(dispatchIDKey{}).(string)
	return id
}
