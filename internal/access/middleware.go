package access

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"

	"github.com/mycloud-net/storage-go/internal/store"
	"github.com/mycloud-net/storage-go/internal/util"
)

// AccountLookup loads the current state of an account.
type AccountLookup interface {
	GetAccount(ctx context.Context, id int64) (*store.Account, error)
}

// Middleware resolves the Authorization header into an Identity. Both
// "Bearer <token>" and "Token <token>" are accepted. The admin flag is read
// from the account row on every request.
// When required is false, anonymous requests pass through without an
// identity; a malformed or invalid token is rejected either way.
func Middleware(v *Verifier, accounts AccountLookup, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				if required {
					util.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			accountID, err := v.Verify(token)
			if err != nil {
				util.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			acct, err := accounts.GetAccount(r.Context(), accountID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					util.WriteError(w, http.StatusUnauthorized, "unauthorized", "unknown account")
					return
				}
				hlog.FromRequest(r).Error().Err(err).Int64("account_id", accountID).Msg("load account")
				util.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
				return
			}

			id := &Identity{AccountID: acct.ID, IsAdmin: acct.IsAdmin}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func bearerToken(header string) (string, bool) {
	for _, scheme := range []string{"Bearer ", "Token "} {
		if len(header) > len(scheme) && strings.EqualFold(header[:len(scheme)], scheme) {
			token := strings.TrimSpace(header[len(scheme):])
			return token, token != ""
		}
	}
	return "", false
}
