package files

import (
	"context"

	"github.com/juju/errors"
	"golang.org/x/sync/errgroup"

	"github.com/mycloud-net/storage-go/internal/access"
	"github.com/mycloud-net/storage-go/internal/store"
)

const usageConcurrency = 8

// AccountSummary is an account with its storage usage.
type AccountSummary struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	FullName   string `json:"full_name"`
	IsAdmin    bool   `json:"is_admin"`
	TotalFiles int64  `json:"total_files"`
	TotalSize  int64  `json:"total_size"`
}

func accountSummary(a *store.Account, u store.Usage) AccountSummary {
	return AccountSummary{
		ID:         a.ID,
		Username:   a.Username,
		Email:      a.Email,
		FullName:   a.FullName,
		IsAdmin:    a.IsAdmin,
		TotalFiles: u.FileCount,
		TotalSize:  u.TotalBytes,
	}
}

// ListAccounts returns every account with its file count and total size.
func (s *Service) ListAccounts(ctx context.Context, id *access.Identity) ([]AccountSummary, error) {
	if err := access.RequireAdmin(id); err != nil {
		return nil, err
	}
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "list accounts")
	}

	out := make([]AccountSummary, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(usageConcurrency)
	for i, a := range accounts {
		g.Go(func() error {
			u, err := s.objects.AggregateForOwner(gctx, a.ID)
			if err != nil {
				return errors.Annotatef(err, "usage of account %d", a.ID)
			}
			out[i] = accountSummary(a, u)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) account(ctx context.Context, accountID int64) (*store.Account, error) {
	a, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.NotFoundf("account %d", accountID)
		}
		return nil, errors.Annotate(err, "get account")
	}
	return a, nil
}

// ListAccountFiles returns the files of any account.
func (s *Service) ListAccountFiles(ctx context.Context, id *access.Identity, accountID int64) ([]Summary, error) {
	if err := access.RequireAdmin(id); err != nil {
		return nil, err
	}
	if _, err := s.account(ctx, accountID); err != nil {
		return nil, err
	}
	objs, err := s.objects.ListByOwner(ctx, accountID)
	if err != nil {
		return nil, errors.Annotate(err, "list objects")
	}
	return s.summaries(objs), nil
}

// DeleteAccount removes an account, its index rows and its namespace.
// Leftover blobs are logged; the account is gone either way.
func (s *Service) DeleteAccount(ctx context.Context, id *access.Identity, accountID int64) error {
	if err := access.RequireAdmin(id); err != nil {
		return err
	}
	if err := s.accounts.DeleteAccount(ctx, accountID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errors.NotFoundf("account %d", accountID)
		}
		return errors.Annotate(err, "delete account")
	}
	s.metrics.AccountDeletions.Inc()

	if err := s.blobs.DeleteNamespace(context.WithoutCancel(ctx), accountID); err != nil {
		s.metrics.OrphanedBlobs.Inc()
		s.log.Warn().Err(err).Int64("account_id", accountID).Msg("namespace left behind")
	}
	s.log.Info().Int64("account_id", accountID).Int64("by", id.AccountID).Msg("account deleted")
	return nil
}

// ToggleAdmin flips the admin flag of an account.
func (s *Service) ToggleAdmin(ctx context.Context, id *access.Identity, accountID int64) (*AccountSummary, error) {
	if err := access.RequireAdmin(id); err != nil {
		return nil, err
	}
	a, err := s.accounts.ToggleAdmin(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.NotFoundf("account %d", accountID)
		}
		return nil, errors.Annotate(err, "toggle admin")
	}
	u, err := s.objects.AggregateForOwner(ctx, accountID)
	if err != nil {
		return nil, errors.Annotate(err, "usage")
	}
	s.log.Info().Int64("account_id", accountID).Bool("is_admin", a.IsAdmin).Int64("by", id.AccountID).Msg("admin flag changed")
	sum := accountSummary(a, u)
	return &sum, nil
}
