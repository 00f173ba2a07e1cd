// Package client talks to the marketai server on behalf of the CLI. It holds
// the session and history stores; both convert every remote failure into an
// apperr kind before returning.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"marketai-go/internal/model"
	"marketai-go/pkg/apperr"

	"github.com/go-resty/resty/v2"
)

// DefaultTimeout covers the 30 s generation budget plus network slack.
const DefaultTimeout = 40 * time.Second

// API is a thin typed wrapper over the server's HTTP endpoints.
type API struct {
	http *resty.Client

	mu    sync.RWMutex
	token func() string
}

// NewAPI creates a client for the server at baseURL.
func NewAPI(baseURL string, timeout time.Duration) *API {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	a := &API{}
	a.http = resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	a.http.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		if r.Header.Get("Authorization") != "" {
			return nil
		}
		if tok := a.accessToken(); tok != "" {
			r.SetAuthToken(tok)
		}
		return nil
	})
	return a
}

// setTokenSource installs the function consulted for the bearer token.
func (a *API) setTokenSource(fn func() string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = fn
}

func (a *API) accessToken() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.token == nil {
		return ""
	}
	return a.token()
}

// envelope is the {code, message, data, kind} wrapper of the app API.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Kind    apperr.Kind     `json:"kind"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

// AuthPayload is the data returned by register and login.
type AuthPayload struct {
	Token        string     `json:"token"`
	RefreshToken string     `json:"refreshToken"`
	User         model.User `json:"user"`
}

// toError converts a transport failure or non-2xx response to an apperr.
func toError(resp *resty.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperr.Wrap(apperr.KindUpstream, "Request timed out", err)
		}
		if errors.Is(err, context.Canceled) {
			return apperr.Wrap(apperr.KindUpstream, "Request cancelled", err)
		}
		return apperr.Wrap(apperr.KindUpstream, "Cannot reach the server", err)
	}
	if resp.IsSuccess() {
		return nil
	}

	var env envelope
	_ = json.Unmarshal(resp.Body(), &env)
	kind := env.Kind
	if kind == "" {
		kind = apperr.KindFromStatus(resp.StatusCode())
	}
	msg := env.Message
	if msg == "" {
		msg = env.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode())
	}
	return apperr.New(kind, msg)
}

// call performs a request against the app API and decodes envelope data into out.
func (a *API) call(ctx context.Context, method, path string, body, out interface{}) error {
	req := a.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err := toError(resp, err); err != nil {
		return err
	}
	if out == nil || resp.StatusCode() == http.StatusNoContent {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return apperr.Wrap(apperr.KindUpstream, "Malformed server response", err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return apperr.Wrap(apperr.KindUpstream, "Malformed server response", err)
	}
	return nil
}

// proxy performs a request against a generation endpoint, whose success
// body is the bare result.
func (a *API) proxy(ctx context.Context, path string, body, out interface{}) error {
	resp, err := a.http.R().SetContext(ctx).SetBody(body).Post(path)
	if err := toError(resp, err); err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return apperr.Wrap(apperr.KindUpstream, "Malformed server response", err)
	}
	return nil
}

func (a *API) Register(ctx context.Context, email, password, displayName string) (*AuthPayload, error) {
	var out AuthPayload
	body := map[string]string{"email": email, "password": password, "displayName": displayName}
	if err := a.call(ctx, http.MethodPost, "/api/v1/users/register", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) Login(ctx context.Context, email, password string) (*AuthPayload, error) {
	var out AuthPayload
	body := map[string]string{"email": email, "password": password}
	if err := a.call(ctx, http.MethodPost, "/api/v1/users/login", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh exchanges a refresh token for a new pair. The user is not returned.
func (a *API) Refresh(ctx context.Context, refreshToken string) (*AuthPayload, error) {
	var out AuthPayload
	body := map[string]string{"refreshToken": refreshToken}
	if err := a.call(ctx, http.MethodPost, "/api/v1/auth/refreshToken", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) Logout(ctx context.Context) error {
	return a.call(ctx, http.MethodPost, "/api/v1/users/logout", nil, nil)
}

func (a *API) Me(ctx context.Context) (*model.User, error) {
	var out model.User
	if err := a.call(ctx, http.MethodGet, "/api/v1/users/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	body := map[string]string{"currentPassword": currentPassword, "newPassword": newPassword}
	return a.call(ctx, http.MethodPut, "/api/v1/users/password", body, nil)
}

func (a *API) ForgotPassword(ctx context.Context, email string) error {
	return a.call(ctx, http.MethodPost, "/api/v1/auth/forgot-password", map[string]string{"email": email}, nil)
}

func (a *API) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	body := map[string]string{"token": resetToken, "newPassword": newPassword}
	return a.call(ctx, http.MethodPost, "/api/v1/auth/reset-password", body, nil)
}

// NewHistoryItem is the client-supplied part of a history record.
type NewHistoryItem struct {
	ToolType model.ToolType `json:"toolType"`
	Input    string         `json:"input"`
	Output   string         `json:"output"`
	Tone     *string        `json:"tone,omitempty"`
}

func (a *API) ListHistory(ctx context.Context, toolType model.ToolType) ([]model.HistoryItem, error) {
	path := "/api/v1/history"
	if toolType != "" {
		path += "?toolType=" + string(toolType)
	}
	var out []model.HistoryItem
	if err := a.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchHistory 交给服务端做子串搜索，不依赖本地缓存。
func (a *API) SearchHistory(ctx context.Context, query string, toolType model.ToolType) ([]model.HistoryItem, error) {
	params := url.Values{}
	params.Set("q", query)
	if toolType != "" {
		params.Set("toolType", string(toolType))
	}
	var out []model.HistoryItem
	if err := a.call(ctx, http.MethodGet, "/api/v1/history?"+params.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) CreateHistory(ctx context.Context, item NewHistoryItem) (*model.HistoryItem, error) {
	var out model.HistoryItem
	if err := a.call(ctx, http.MethodPost, "/api/v1/history", item, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// historyPath 拼出单条记录的路径，id 作为一个路径段转义。
func historyPath(id, suffix string) string {
	return "/api/v1/history/" + url.PathEscape(id) + suffix
}

func (a *API) UpdateHistory(ctx context.Context, id, output string) (*model.HistoryItem, error) {
	var out model.HistoryItem
	if err := a.call(ctx, http.MethodPut, historyPath(id, ""), map[string]string{"output": output}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) DeleteHistory(ctx context.Context, id string) error {
	return a.call(ctx, http.MethodDelete, historyPath(id, ""), nil, nil)
}

// ExportHistory downloads an export and returns its bytes with the
// server-suggested filename.
func (a *API) ExportHistory(ctx context.Context, id, format string) ([]byte, string, error) {
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("format", format).
		SetHeader("Accept", "*/*").
		Get(historyPath(id, "/export"))
	if err := toError(resp, err); err != nil {
		return nil, "", err
	}
	filename := ""
	if _, params, perr := mime.ParseMediaType(resp.Header().Get("Content-Disposition")); perr == nil {
		filename = params["filename"]
	}
	return resp.Body(), filename, nil
}

// ShareHistory 请求一个限时下载链接。
func (a *API) ShareHistory(ctx context.Context, id, format string) (*model.ShareLink, error) {
	var out model.ShareLink
	path := historyPath(id, "/share?format="+url.QueryEscape(format))
	if err := a.call(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) GenerateAds(ctx context.Context, req model.AdsRequest) (*model.AdsResult, error) {
	var out model.AdsResult
	if err := a.proxy(ctx, "/api/v1/generate/ads", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) GenerateSEO(ctx context.Context, req model.SEORequest) (*model.SEOResult, error) {
	var out model.SEOResult
	if err := a.proxy(ctx, "/api/v1/generate/seo", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) GenerateSocial(ctx context.Context, req model.SocialRequest) (*model.SocialResult, error) {
	var out model.SocialResult
	if err := a.proxy(ctx, "/api/v1/generate/social", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
