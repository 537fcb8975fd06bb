package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/tracker-mirror/internal/catalog"
	"github.com/JakeFAU/tracker-mirror/internal/session"
)

// fetch loads the account, performs the request on its behalf and saves the
// account back when its session cookies changed, whether or not the request
// succeeded.
func (o *Orchestrator) fetch(ctx context.Context, req session.Request) ([]byte, error) {
	account, fresh, err := o.loadAccount(ctx)
	if err != nil {
		return nil, err
	}
	before := make(map[string]string, len(account.Cookies))
	for k, v := range account.Cookies {
		before[k] = v
	}

	body, fetchErr := o.fetcher.FetchWithRelogin(ctx, &account, req)

	if fresh || !catalog.CookiesEqual(before, account.Cookies) {
		if err := o.store.SaveAccount(ctx, account); err != nil {
			o.logger.Error("failed to save account session", zap.Error(err))
			if fetchErr == nil {
				return nil, fmt.Errorf("save account: %w", err)
			}
		}
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.Path, fetchErr)
	}
	return body, nil
}

func (o *Orchestrator) loadAccount(ctx context.Context) (catalog.Account, bool, error) {
	account, err := o.store.Account(ctx)
	switch {
	case err == nil:
		return account, false, nil
	case errors.Is(err, catalog.ErrNotFound):
		if o.cfg.Account.Username == "" {
			return catalog.Account{}, false, errors.New("no tracker account configured")
		}
		return o.cfg.Account, true, nil
	default:
		return catalog.Account{}, false, fmt.Errorf("load account: %w", err)
	}
}
