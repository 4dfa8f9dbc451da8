package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"insight-call-flow/internal/apperr"
	"insight-call-flow/internal/config"
	"insight-call-flow/pkg/logger"

	"golang.org/x/time/rate"
)

const (
	ProviderTelfin = "telfin"

	// MaxPageLimit is the provider's hard cap on call history page size.
	MaxPageLimit = 1000

	telfinTimeLayout = "2006-01-02 15:04:05"
)

// Client is the Telfin REST API client. Requests are spaced by a shared limiter.
type Client struct {
	baseURL   string
	clientID  string
	pageLimit int
	http      *http.Client
	limiter   *rate.Limiter
}

func NewClient(cfg config.TelfinConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 5
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "@me"
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.APIBaseURL, "/"),
		clientID:  clientID,
		pageLimit: capLimit(cfg.PageLimit),
		http:      httpClient,
		limiter:   rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
}

func capLimit(n int) int {
	if n <= 0 || n > MaxPageLimit {
		return MaxPageLimit
	}
	return n
}

// ListCallHistory fetches call detail records for [from, to].
// Non-success statuses and non-JSON bodies both fail with a CallHistoryFetchError.
func (c *Client) ListCallHistory(ctx context.Context, token string, from, to time.Time, limit int) ([]CDR, error) {
	if limit <= 0 {
		limit = c.pageLimit
	}
	q := url.Values{}
	q.Set("date_start", from.UTC().Format(telfinTimeLayout))
	q.Set("date_end", to.UTC().Format(telfinTimeLayout))
	q.Set("limit", strconv.Itoa(capLimit(limit)))
	endpoint := fmt.Sprintf("%s/client/%s/call_history/?%s", c.baseURL, url.PathEscape(c.clientID), q.Encode())

	status, body, err := c.get(ctx, token, endpoint)
	if err != nil {
		return nil, apperr.NewCallHistoryFetchError("transport", 0, "", err)
	}
	if status < 200 || status > 299 {
		return nil, apperr.NewCallHistoryFetchError("status", status, string(body), nil)
	}
	records, err := parseCallHistory(body)
	if err != nil {
		return nil, apperr.NewCallHistoryFetchError("decode", status, string(body), err)
	}
	return records, nil
}

// StorageURL exchanges a record UUID for a temporary download URL.
func (c *Client) StorageURL(ctx context.Context, token, recordUUID string) (string, error) {
	if strings.TrimSpace(recordUUID) == "" {
		return "", fmt.Errorf("telfin: record uuid is required")
	}
	endpoint := fmt.Sprintf("%s/client/%s/record/%s/storage_url/", c.baseURL, url.PathEscape(c.clientID), url.PathEscape(recordUUID))
	status, body, err := c.get(ctx, token, endpoint)
	if err != nil {
		return "", fmt.Errorf("telfin: storage url: %w", err)
	}
	if status < 200 || status > 299 {
		return "", apperr.NewDownloadError(endpoint, status, fmt.Errorf("storage url exchange: %s", apperr.Truncate(string(body), 200)))
	}
	var out struct {
		RecordURL string `json:"record_url"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.RecordURL == "" {
		return "", apperr.NewDownloadError(endpoint, status, fmt.Errorf("storage url response has no record_url"))
	}
	return out.RecordURL, nil
}

// Download fetches raw recording bytes with bearer auth.
func (c *Client) Download(ctx context.Context, token, recordURL string) (Recording, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Recording{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, recordURL, nil)
	if err != nil {
		return Recording{}, apperr.NewDownloadError(recordURL, 0, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http.Do(req)
	if err != nil {
		return Recording{}, apperr.NewDownloadError(recordURL, 0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Recording{}, apperr.NewDownloadError(recordURL, resp.StatusCode, nil)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Recording{}, apperr.NewDownloadError(recordURL, resp.StatusCode, err)
	}
	if len(data) == 0 {
		return Recording{}, apperr.NewDownloadError(recordURL, resp.StatusCode, fmt.Errorf("empty recording"))
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "audio/mpeg"
	}
	return Recording{Data: data, ContentType: ct}, nil
}

func (c *Client) get(ctx context.Context, token, endpoint string) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// TelfinProvider implements Provider on top of the token manager and REST client.
type TelfinProvider struct {
	tokens *TokenManager
	client *Client
	region string
}

func NewTelfinProvider(tokens *TokenManager, client *Client, phoneRegion string) *TelfinProvider {
	return &TelfinProvider{tokens: tokens, client: client, region: phoneRegion}
}

func (p *TelfinProvider) Name() string { return ProviderTelfin }

func (p *TelfinProvider) FetchCDR(ctx context.Context, conn *OAuthConnection, req FetchCDRRequest) (FetchCDRResult, error) {
	token, err := p.tokens.AccessToken(ctx, conn)
	if err != nil {
		return FetchCDRResult{}, err
	}
	records, err := p.client.ListCallHistory(ctx, token, req.From, req.To, req.Limit)
	if err != nil {
		p.dropRejectedToken(ctx, conn, err)
		return FetchCDRResult{}, err
	}
	for i := range records {
		records[i].From = NormalizePhone(records[i].From, p.region)
		records[i].To = NormalizePhone(records[i].To, p.region)
	}
	return FetchCDRResult{OrgID: conn.OrgID, Records: records}, nil
}

// Authenticate makes sure conn carries a usable token.
func (p *TelfinProvider) Authenticate(ctx context.Context, conn *OAuthConnection) error {
	_, err := p.tokens.AccessToken(ctx, conn)
	return err
}

func (p *TelfinProvider) RecordingURL(ctx context.Context, conn *OAuthConnection, recordRef string) (string, error) {
	token, err := p.tokens.AccessToken(ctx, conn)
	if err != nil {
		return "", err
	}
	return p.client.StorageURL(ctx, token, recordRef)
}

func (p *TelfinProvider) DownloadRecording(ctx context.Context, conn *OAuthConnection, recordURL string) (Recording, error) {
	token, err := p.tokens.AccessToken(ctx, conn)
	if err != nil {
		return Recording{}, err
	}
	return p.client.Download(ctx, token, recordURL)
}

// dropRejectedToken clears a token the API answered 401 to, so the next run re-authenticates.
func (p *TelfinProvider) dropRejectedToken(ctx context.Context, conn *OAuthConnection, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) || e.Status != http.StatusUnauthorized {
		return
	}
	if cerr := p.tokens.ClearTokens(ctx, conn.OrgID); cerr != nil {
		logger.From(ctx).Warn("clear rejected telfin token", "org_id", conn.OrgID, "err", cerr)
		return
	}
	conn.AccessToken = nil
	conn.TokenExpiresAt = nil
}
