// Package automation holds the outbound port to the browser login driver.
package automation

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"mailvault/core/domain"
	"mailvault/core/port/out"
	"mailvault/pkg/apperr"
	"mailvault/pkg/httputil"
)

// =============================================================================
// RemoteLogin - 외부 로그인 드라이버 HTTP 클라이언트
// =============================================================================

// RemoteLogin calls a separately deployed browser-automation service that
// performs the interactive Microsoft login and returns the initial tokens.
// When no endpoint is configured every Acquire fails with AUTH_REQUIRED so
// groups must be seeded through the token store directly.
type RemoteLogin struct {
	endpoint string
	http     *http.Client
	log      zerolog.Logger
}

func NewRemoteLogin(endpoint string, log zerolog.Logger) *RemoteLogin {
	return &RemoteLogin{
		endpoint: endpoint,
		http:     httputil.DefaultClient(),
		log:      log.With().Str("component", "login_automation").Logger(),
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	TenantID     string `json:"tenant_id"`
	Error        string `json:"error"`
}

func (r *RemoteLogin) Acquire(ctx context.Context, email, password string) (*domain.TokenTriple, error) {
	if r.endpoint == "" {
		return nil, apperr.AuthRequired("no login automation endpoint configured")
	}

	payload, err := json.Marshal(loginRequest{Email: email, Password: password})
	if err != nil {
		return nil, apperr.InternalWithError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, apperr.InternalWithError(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, apperr.AuthTransient(err)
	}
	defer resp.Body.Close()

	var body loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperr.AuthTransient(err)
	}

	switch {
	case resp.StatusCode == http.StatusOK && body.AccessToken != "":
		return &domain.TokenTriple{
			AccessToken:  body.AccessToken,
			RefreshToken: body.RefreshToken,
			IDToken:      body.IDToken,
			ExpiresAt:    time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
			Scope:        body.Scope,
			TenantID:     body.TenantID,
		}, nil
	case resp.StatusCode == http.StatusUnauthorized:
		r.log.Warn().Str("email", email).Str("reason", body.Error).Msg("login rejected")
		return nil, apperr.AuthRequired(body.Error)
	default:
		return nil, apperr.AuthTransient(apperr.ProviderError(resp.StatusCode, body.Error))
	}
}

var _ out.LoginAutomation = (*RemoteLogin)(nil)
