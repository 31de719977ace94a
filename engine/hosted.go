package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/interiorflow/internal/tlsutil"
	"github.com/BaSui01/interiorflow/types"
	"golang.org/x/time/rate"
)

// =============================================================================
// 🌐 托管 HTTP 后端
// =============================================================================

// 支持的载荷协议
const (
	SchemaFlux      = "flux"
	SchemaStability = "stability"
)

// 鉴权方式
const (
	AuthHeader = "header" // 自定义请求头，如 x-key
	AuthBearer = "bearer"
	AuthQuery  = "query" // 查询参数
)

// HostedConfig 托管服务配置
type HostedConfig struct {
	Name    string `json:"name" yaml:"name"`
	Schema  string `json:"schema" yaml:"schema"` // flux | stability
	BaseURL string `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	Model   string `json:"model" yaml:"model" env:"MODEL"`
	APIKey  string `json:"-" yaml:"api_key" env:"API_KEY"`

	AuthType   string `json:"auth_type" yaml:"auth_type"`
	AuthHeader string `json:"auth_header" yaml:"auth_header"` // AuthHeader 时使用的请求头名
	AuthQuery  string `json:"auth_query" yaml:"auth_query"`   // AuthQuery 时使用的参数名
	HealthPath string `json:"health_path" yaml:"health_path"`

	Timeout         time.Duration `json:"timeout" yaml:"timeout" env:"TIMEOUT"`
	PollInterval    time.Duration `json:"poll_interval" yaml:"poll_interval"`
	RequestsPerSec  float64       `json:"requests_per_sec" yaml:"requests_per_sec" env:"REQUESTS_PER_SEC"` // 0 表示不限速
	Burst           int           `json:"burst" yaml:"burst"`
	DownloadResults bool          `json:"download_results" yaml:"download_results" env:"DOWNLOAD_RESULTS"` // 下载签名 URL 而非直接返回
}

// DefaultFluxConfig 返回 Black Forest Labs 默认配置
func DefaultFluxConfig() HostedConfig {
	return HostedConfig{
		Name:         "flux",
		Schema:       SchemaFlux,
		BaseURL:      "https://api.bfl.ai",
		Model:        "flux-pro-1.0-canny",
		AuthType:     AuthHeader,
		AuthHeader:   "x-key",
		Timeout:      120 * time.Second,
		PollInterval: 2 * time.Second,
		Burst:        1,
	}
}

// DefaultStabilityConfig 返回 Stability AI 默认配置
func DefaultStabilityConfig() HostedConfig {
	return HostedConfig{
		Name:       "stability",
		Schema:     SchemaStability,
		BaseURL:    "https://api.stability.ai",
		Model:      "structure",
		AuthType:   AuthBearer,
		HealthPath: "/v1/user/account",
		Timeout:    120 * time.Second,
		Burst:      1,
	}
}

// hostedSchema is the payload-specific half of a hosted backend.
type hostedSchema interface {
	supports(req *GenerationRequest) error
	render(ctx context.Context, job *Job, seed int64) (*Artifact, error)
}

// HostedBackend talks to a remote image API over HTTP.
type HostedBackend struct {
	cfg     HostedConfig
	client  *http.Client
	limiter *rate.Limiter
	schema  hostedSchema
}

var _ Backend = (*HostedBackend)(nil)

// NewHostedBackend 创建托管后端；client 为 nil 时使用加固的默认客户端
func NewHostedBackend(cfg HostedConfig, client *http.Client) (*HostedBackend, error) {
	var def HostedConfig
	switch cfg.Schema {
	case SchemaFlux:
		def = DefaultFluxConfig()
	case SchemaStability:
		def = DefaultStabilityConfig()
	default:
		return nil, fmt.Errorf("hosted: unknown schema %q", cfg.Schema)
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.AuthType == "" {
		cfg.AuthType = def.AuthType
	}
	if cfg.AuthType == AuthHeader && cfg.AuthHeader == "" {
		cfg.AuthHeader = def.AuthHeader
		if cfg.AuthHeader == "" {
			cfg.AuthHeader = "x-api-key"
		}
	}
	if cfg.AuthType == AuthQuery && cfg.AuthQuery == "" {
		cfg.AuthQuery = "key"
	}
	switch cfg.AuthType {
	case AuthHeader, AuthBearer, AuthQuery:
	default:
		return nil, fmt.Errorf("hosted: unknown auth type %q", cfg.AuthType)
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = def.HealthPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if client == nil {
		client = tlsutil.SecureHTTPClient(cfg.Timeout)
	}

	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}
	b := &HostedBackend{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(limit, cfg.Burst),
	}
	switch cfg.Schema {
	case SchemaFlux:
		b.schema = &fluxSchema{b: b}
	case SchemaStability:
		b.schema = &stabilitySchema{b: b}
	}
	return b, nil
}

func (b *HostedBackend) Descriptor() Descriptor {
	return Descriptor{
		Type:  "hosted",
		Name:  b.cfg.Name,
		Model: b.cfg.Model,
		Capabilities: Capabilities{
			Conditioning: true,
		},
		Config: map[string]string{
			"schema":   b.cfg.Schema,
			"base_url": b.cfg.BaseURL,
			"auth":     b.cfg.AuthType,
		},
	}
}

func (b *HostedBackend) Supports(req *GenerationRequest) error {
	if b.cfg.APIKey == "" {
		return types.NewValidationError("%s: no api key configured", b.cfg.Name)
	}
	return b.schema.supports(req)
}

func (b *HostedBackend) Render(ctx context.Context, job *Job, seed int64) (*Artifact, error) {
	return b.schema.render(ctx, job, seed)
}

// Ping issues a GET against the health path; anything below 500 counts as reachable.
func (b *HostedBackend) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.BaseURL+b.cfg.HealthPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	b.authorize(req)
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s: health probe returned %d", b.cfg.Name, resp.StatusCode)
	}
	return nil
}

// authorize 按配置的鉴权方式写入凭据
func (b *HostedBackend) authorize(req *http.Request) {
	switch b.cfg.AuthType {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	case AuthQuery:
		q := req.URL.Query()
		q.Set(b.cfg.AuthQuery, b.cfg.APIKey)
		req.URL.RawQuery = q.Encode()
	default:
		req.Header.Set(b.cfg.AuthHeader, b.cfg.APIKey)
	}
}

// do paces, authorizes and sends req. Non-2xx responses become mapped errors.
func (b *HostedBackend) do(req *http.Request) (*http.Response, error) {
	if err := b.limiter.Wait(req.Context()); err != nil {
		return nil, ClassifyError(req.Context(), err, b.cfg.Name)
	}
	b.authorize(req)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, ClassifyError(req.Context(), err, b.cfg.Name)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		err := MapHTTPError(resp.StatusCode, ReadErrorMessage(resp.Body), b.cfg.Name)
		if ra := retryAfter(resp.Header); ra > 0 {
			err = err.WithRetryAfter(ra)
		}
		return nil, err
	}
	return resp, nil
}

// doJSON sends req and decodes a JSON body into out.
func (b *HostedBackend) doJSON(req *http.Request, out any) error {
	resp, err := b.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return malformed(b.cfg.Name, "invalid json", err)
	}
	return nil
}

// download fetches a provider-hosted result without credentials.
func (b *HostedBackend) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, malformed(b.cfg.Name, "bad result url", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, ClassifyError(ctx, err, b.cfg.Name)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, MapHTTPError(resp.StatusCode, ReadErrorMessage(resp.Body), b.cfg.Name)
	}
	limit := DefaultLimits().MaxImageBytes
	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(limit)+1))
	if err != nil {
		return nil, ClassifyError(ctx, err, b.cfg.Name)
	}
	if len(data) > limit {
		return nil, malformed(b.cfg.Name, "result too large", nil)
	}
	return data, nil
}

func (b *HostedBackend) endpoint(path string) string {
	return b.cfg.BaseURL + path
}

func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

// resolveURL resolves ref against the backend base URL.
func (b *HostedBackend) resolveURL(ref string) string {
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() {
		return ref
	}
	base, err := url.Parse(b.cfg.BaseURL + "/")
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
