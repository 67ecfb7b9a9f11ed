package supabase

import (
	"context"
	"errors"

	"github.com/hitoshi/hirescout/internal/backend"
	"github.com/hitoshi/hirescout/internal/model"
)

// AccountCreator はログイン状態を持たずにアカウントを作成する。
// 管理者が別のアカウントを作成しても自身のセッションは変化しない。
type AccountCreator struct {
	t *transport
}

var _ backend.AccountCreator = (*AccountCreator)(nil)

// NewAccountCreator はAccountCreatorを生成する。
func NewAccountCreator(cfg Config) (*AccountCreator, error) {
	t, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}
	return &AccountCreator{t: t}, nil
}

// CreateAccount はアカウントを作成し、作成されたユーザーを返す。
// レスポンスに含まれるセッションは破棄する。
func (a *AccountCreator) CreateAccount(ctx context.Context, email, password string, metadata map[string]any) (*model.Identity, error) {
	resp, err := signUp(ctx, a.t, email, password, metadata)
	if err != nil {
		return nil, err
	}
	identity := resp.identity()
	if identity == nil {
		return nil, errors.New("sign-up response did not include a user")
	}
	return identity, nil
}
