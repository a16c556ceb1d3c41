package middlewarex

import "context"

type ctxKey string

const (
	ctxOperator ctxKey = "operator"
)

func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, ctxOperator, operator)
}

// Operator returns the authenticated operator, or "" outside AdminAuth.
func Operator(ctx context.Context) string {
	v, _ := ctx.Value(ctxOperator).(string)
	return v
}
