package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"backoffice/src/model"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

// TokenStore persists the admin token so restarts do not force a new login.
type TokenStore interface {
	FindByType(ctx context.Context, tokenType string) (*model.Token, error)
	Save(ctx context.Context, token *model.Token) error
}

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
}

// AdminCredentials logs into the ledger with the broker admin account and keeps
// the token until it expires. Safe for concurrent use; concurrent callers wait
// on a single refresh.
type AdminCredentials struct {
	http     *resty.Client
	store    TokenStore
	email    string
	password string
	skew     time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cached *model.Token
	// stale is set by Invalidate so the persisted copy is not reused either.
	stale bool
}

func NewAdminCredentials(cfg Config, email, password string, store TokenStore) *AdminCredentials {
	return &AdminCredentials{
		http:     newHTTPClient(cfg),
		store:    store,
		email:    email,
		password: password,
		skew:     cfg.TokenSkew,
		now:      time.Now,
	}
}

// Token returns a valid admin token, logging in when needed.
func (a *AdminCredentials) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if a.cached.Valid(now, a.skew) {
		return a.cached.Token, nil
	}

	if !a.stale && a.store != nil {
		stored, err := a.store.FindByType(ctx, model.TokenTypeAdmin)
		if err != nil {
			logger.WithError(err).Warn("failed to load cached ledger token")
		} else if stored.Valid(now, a.skew) {
			a.cached = stored
			return stored.Token, nil
		}
	}

	tok, err := a.login(ctx)
	if err != nil {
		return "", err
	}

	a.cached = tok
	a.stale = false

	if a.store != nil {
		if err := a.store.Save(ctx, tok); err != nil {
			logger.WithError(err).Warn("failed to persist ledger token")
		}
	}

	return tok.Token, nil
}

// Invalidate drops the cached token. The next Token call logs in again.
func (a *AdminCredentials) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cached = nil
	a.stale = true
}

func (a *AdminCredentials) login(ctx context.Context) (*model.Token, error) {
	if a.email == "" || a.password == "" {
		return nil, errors.New("ledger admin credentials not configured")
	}

	logger.WithField("connector", "AdminCredentials").Info("logging into ledger")

	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(loginBody{Email: a.email, Password: a.password}).
		AddRetryCondition(isRetryableResp).
		Post("auth/token")
	if err != nil {
		return nil, fmt.Errorf("%w: login: %w", ErrLedgerUnavailable, err)
	}

	if resp.IsError() {
		return nil, fmt.Errorf("cannot login: %w", decodeResponse(resp, nil))
	}

	var out loginResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	if out.Token == "" {
		return nil, errors.New("login response without token")
	}

	return &model.Token{
		Token:     out.Token,
		ExpiresIn: out.ExpiresIn,
		TokenType: model.TokenTypeAdmin,
		CreatedAt: a.now(),
	}, nil
}
