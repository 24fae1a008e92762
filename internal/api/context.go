package api

import (
	"context"

	"github.com/org/adminguard/pkg/models"
)

type contextKey string

const (
	ctxKeyUser       contextKey = "user"
	ctxKeyRequestID  contextKey = "request_id"
	ctxKeyHeaderCred contextKey = "header_credential"
)

func withUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, ctxKeyUser, u)
}

func userFromCtx(ctx context.Context) *models.User {
	u, _ := ctx.Value(ctxKeyUser).(*models.User)
	return u
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func requestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// withHeaderCredential marks a request identified by a token header rather than a
// browser session. Such requests are not exposed to CSRF.
func withHeaderCredential(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKeyHeaderCred, true)
}

func hasHeaderCredential(ctx context.Context) bool {
	v, _ := ctx.Value(ctxKeyHeaderCred).(bool)
	return v
}
