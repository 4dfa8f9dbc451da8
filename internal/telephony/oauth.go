package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"insight-call-flow/internal/apperr"
	"insight-call-flow/pkg/logger"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrConnectionNotFound = errors.New("telephony: connection not found")

// OAuthConnection holds one organization's client credentials and cached token.
// At most one row exists per organization.
type OAuthConnection struct {
	OrgID          string     `json:"org_id" gorm:"primaryKey;size:64"`
	ClientID       string     `json:"client_id" gorm:"size:255;not null"`
	ClientSecret   string     `json:"-" gorm:"size:255;not null"`
	AccessToken    *string    `json:"-" gorm:"type:text"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (OAuthConnection) TableName() string { return "telfin_connections" }

// HasValidToken reports whether the cached token may be used at now.
func (c OAuthConnection) HasValidToken(now time.Time) bool {
	return c.AccessToken != nil && *c.AccessToken != "" &&
		c.TokenExpiresAt != nil && now.Before(*c.TokenExpiresAt)
}

// ConnectionStore persists OAuth connections.
type ConnectionStore struct {
	db *gorm.DB
}

func NewConnectionStore(db *gorm.DB) *ConnectionStore {
	return &ConnectionStore{db: db}
}

func (s *ConnectionStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&OAuthConnection{}); err != nil {
		return fmt.Errorf("migrate telfin connections: %w", err)
	}
	return nil
}

func (s *ConnectionStore) Get(ctx context.Context, orgID string) (OAuthConnection, error) {
	var c OAuthConnection
	if err := s.db.WithContext(ctx).Where("org_id = ?", orgID).Take(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return OAuthConnection{}, ErrConnectionNotFound
		}
		return OAuthConnection{}, fmt.Errorf("get connection: %w", err)
	}
	return c, nil
}

// SaveCredentials upserts the org's credentials. Any cached token is dropped
// because it was issued for the previous credentials.
func (s *ConnectionStore) SaveCredentials(ctx context.Context, orgID, clientID, clientSecret string) error {
	if strings.TrimSpace(orgID) == "" || strings.TrimSpace(clientID) == "" || clientSecret == "" {
		return fmt.Errorf("telephony: org_id, client_id and client_secret are required")
	}
	row := OAuthConnection{OrgID: orgID, ClientID: strings.TrimSpace(clientID), ClientSecret: clientSecret}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "org_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"client_id":        row.ClientID,
				"client_secret":    row.ClientSecret,
				"access_token":     nil,
				"token_expires_at": nil,
				"updated_at":       time.Now().UTC(),
			}),
		}).
		Create(&row).Error
}

func (s *ConnectionStore) SaveToken(ctx context.Context, orgID, token string, expiresAt time.Time) error {
	res := s.db.WithContext(ctx).Model(&OAuthConnection{}).
		Where("org_id = ?", orgID).
		Updates(map[string]any{"access_token": token, "token_expires_at": expiresAt})
	if res.Error != nil {
		return fmt.Errorf("save token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConnectionNotFound
	}
	return nil
}

func (s *ConnectionStore) ClearTokens(ctx context.Context, orgID string) error {
	res := s.db.WithContext(ctx).Model(&OAuthConnection{}).
		Where("org_id = ?", orgID).
		Updates(map[string]any{"access_token": nil, "token_expires_at": nil})
	if res.Error != nil {
		return fmt.Errorf("clear tokens: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConnectionNotFound
	}
	return nil
}

// ListAll returns every configured connection, for scheduled syncs.
func (s *ConnectionStore) ListAll(ctx context.Context) ([]OAuthConnection, error) {
	var out []OAuthConnection
	if err := s.db.WithContext(ctx).Order("org_id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return out, nil
}

// TokenStore is the subset of ConnectionStore the token manager writes through.
type TokenStore interface {
	SaveToken(ctx context.Context, orgID, token string, expiresAt time.Time) error
	ClearTokens(ctx context.Context, orgID string) error
}

// TokenManager obtains client-credentials tokens. It holds no per-org cache:
// the connection passed in is the cache, checked at the start of every call.
type TokenManager struct {
	store    TokenStore
	oauthURL string
	http     *http.Client
	clock    func() time.Time
}

func NewTokenManager(store TokenStore, oauthURL string, httpClient *http.Client) *TokenManager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TokenManager{store: store, oauthURL: oauthURL, http: httpClient, clock: time.Now}
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

const defaultTokenTTL = time.Hour

// AccessToken returns conn's token while now < expiry, otherwise fetches,
// persists and returns a fresh one. conn is updated in place.
func (m *TokenManager) AccessToken(ctx context.Context, conn *OAuthConnection) (string, error) {
	if conn == nil {
		return "", apperr.NewConfigurationError("telfin connection is not configured")
	}
	now := m.clock()
	if conn.HasValidToken(now) {
		return *conn.AccessToken, nil
	}
	if conn.ClientID == "" || conn.ClientSecret == "" {
		return "", apperr.NewConfigurationError("telfin client credentials are not configured")
	}
	if m.oauthURL == "" {
		return "", apperr.NewConfigurationError("telfin oauth url is not configured")
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", conn.ClientID)
	form.Set("client_secret", conn.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.oauthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("oauth: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("oauth: post: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("oauth: read response: %w", err)
	}

	var tr tokenResponse
	decodeErr := json.Unmarshal(raw, &tr)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		desc := tr.ErrorDescription
		if decodeErr != nil || (tr.Error == "" && desc == "") {
			desc = string(raw)
		}
		return "", apperr.NewOAuthError(resp.StatusCode, tr.Error, desc)
	}
	if decodeErr != nil || tr.AccessToken == "" {
		return "", apperr.NewOAuthError(resp.StatusCode, "invalid_response", "token response has no access_token")
	}

	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	expiresAt := now.Add(ttl).UTC()
	if err := m.store.SaveToken(ctx, conn.OrgID, tr.AccessToken, expiresAt); err != nil {
		return "", err
	}
	token := tr.AccessToken
	conn.AccessToken = &token
	conn.TokenExpiresAt = &expiresAt

	logger.From(ctx).Info("telfin token refreshed", "org_id", conn.OrgID, "expires_at", expiresAt)
	return token, nil
}

// ClearTokens discards the org's cached token (manual disconnect).
func (m *TokenManager) ClearTokens(ctx context.Context, orgID string) error {
	return m.store.ClearTokens(ctx, orgID)
}
