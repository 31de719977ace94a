package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/BaSui01/interiorflow/types"
	"google.golang.org/genai"
)

// GeminiConfig Gemini 图像模型配置
type GeminiConfig struct {
	Name           string        `json:"name" yaml:"name"`
	APIKey         string        `json:"-" yaml:"api_key" env:"API_KEY"`
	Model          string        `json:"model" yaml:"model" env:"MODEL"`
	Timeout        time.Duration `json:"timeout" yaml:"timeout" env:"TIMEOUT"`
	MaxSecondary   int           `json:"max_secondary" yaml:"max_secondary"` // 随请求发送的附加视角图数量上限
	PromptTemplate string        `json:"prompt_template" yaml:"prompt_template"`
}

// DefaultGeminiConfig 返回默认 Gemini 配置
func DefaultGeminiConfig() GeminiConfig {
	return GeminiConfig{
		Name:         "gemini",
		Model:        "gemini-2.5-flash-image",
		Timeout:      120 * time.Second,
		MaxSecondary: 2,
	}
}

// GeminiModels is the slice of *genai.Models the backend uses.
type GeminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	Get(ctx context.Context, model string, config *genai.GetModelConfig) (*genai.Model, error)
}

// GeminiBackend edits the room photo with a Gemini image model. It ignores
// the conditioning map and sends the photos directly.
type GeminiBackend struct {
	cfg    GeminiConfig
	models GeminiModels
}

var _ Backend = (*GeminiBackend)(nil)

// NewGeminiClient 使用 API Key 创建 genai 客户端
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return client, nil
}

// NewGeminiBackend 创建 Gemini 后端；models 通常为 client.Models
func NewGeminiBackend(cfg GeminiConfig, models GeminiModels) *GeminiBackend {
	def := DefaultGeminiConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxSecondary <= 0 {
		cfg.MaxSecondary = def.MaxSecondary
	}
	return &GeminiBackend{cfg: cfg, models: models}
}

func (b *GeminiBackend) Descriptor() Descriptor {
	return Descriptor{
		Type:  "gemini",
		Name:  b.cfg.Name,
		Model: b.cfg.Model,
		Capabilities: Capabilities{
			SecondaryImages: true,
		},
	}
}

func (b *GeminiBackend) Supports(*GenerationRequest) error {
	if b.models == nil {
		return types.NewValidationError("%s: client not configured", b.cfg.Name)
	}
	return nil
}

func (b *GeminiBackend) Ping(ctx context.Context) error {
	if b.models == nil {
		return errors.New("gemini client not configured")
	}
	_, err := b.models.Get(ctx, b.cfg.Model, nil)
	return err
}

func (b *GeminiBackend) Render(ctx context.Context, job *Job, seed int64) (*Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	req := job.Request
	parts := []*genai.Part{
		genai.NewPartFromText(b.instruction(job)),
		genai.NewPartFromBytes(req.Image, sniffMIME(req.Image)),
	}
	for _, name := range b.secondaryViews(req) {
		data := req.SecondaryImage[name]
		parts = append(parts,
			genai.NewPartFromText("Additional view of the same room ("+name+"):"),
			genai.NewPartFromBytes(data, sniffMIME(data)),
		)
	}

	s := int32(uint32(seed))
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
		Seed:               &s,
		ImageConfig: &genai.ImageConfig{
			AspectRatio: AspectRatio(req.Resolution),
		},
	}

	resp, err := b.models.GenerateContent(ctx, b.cfg.Model,
		[]*genai.Content{{Role: genai.RoleUser, Parts: parts}}, config)
	if err != nil {
		return nil, b.mapError(ctx, err)
	}
	return b.extract(resp)
}

// instruction 生成发给模型的文字指令
func (b *GeminiBackend) instruction(job *Job) string {
	if b.cfg.PromptTemplate != "" {
		return fmt.Sprintf(b.cfg.PromptTemplate, job.Prompt.Positive)
	}
	return "Redesign the interior shown in the first photo. Keep the room geometry, " +
		"windows and doors exactly where they are. Target: " + job.Prompt.Positive +
		". Avoid: " + job.Prompt.Negative + "."
}

// secondaryViews 按名称排序，最多返回 MaxSecondary 个视角
func (b *GeminiBackend) secondaryViews(req *GenerationRequest) []string {
	names := make([]string, 0, len(req.SecondaryImage))
	for name, data := range req.SecondaryImage {
		if len(data) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) > b.cfg.MaxSecondary {
		names = names[:b.cfg.MaxSecondary]
	}
	return names
}

func (b *GeminiBackend) extract(resp *genai.GenerateContentResponse) (*Artifact, error) {
	if resp == nil {
		return nil, malformed(b.cfg.Name, "empty response", nil)
	}
	for _, cand := range resp.Candidates {
		if cand.FinishReason == genai.FinishReasonSafety || cand.FinishReason == genai.FinishReasonProhibitedContent {
			return nil, types.NewPermanentError(b.cfg.Name, "output rejected by provider filter", nil)
		}
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				mime := part.InlineData.MIMEType
				if mime == "" {
					mime = sniffMIME(part.InlineData.Data)
				}
				return &Artifact{Data: part.InlineData.Data, MIME: mime}, nil
			}
		}
	}
	return nil, malformed(b.cfg.Name, "no image in response", nil)
}

func (b *GeminiBackend) mapError(ctx context.Context, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return MapHTTPError(apiErr.Code, apiErr.Message, b.cfg.Name)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return MapHTTPError(apiErrPtr.Code, apiErrPtr.Message, b.cfg.Name)
	}
	return ClassifyError(ctx, err, b.cfg.Name)
}
