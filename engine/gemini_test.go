package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/BaSui01/interiorflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeGeminiModels struct {
	resp     *genai.GenerateContentResponse
	err      error
	getErr   error
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (f *fakeGeminiModels) GenerateContent(_ context.Context, _ string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.contents, f.config = contents, config
	return f.resp, f.err
}

func (f *fakeGeminiModels) Get(context.Context, string, *genai.GetModelConfig) (*genai.Model, error) {
	return &genai.Model{}, f.getErr
}

func imageResponse(data []byte) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "here you go"},
				{InlineData: &genai.Blob{Data: data, MIMEType: "image/png"}},
			}},
		}},
	}
}

func TestGemini_RenderBuildsParts(t *testing.T) {
	out := roomPNG(t, 8, 8)
	fake := &fakeGeminiModels{resp: imageResponse(out)}
	b := NewGeminiBackend(GeminiConfig{}, fake)

	req := testRequest(t)
	req.Resolution = Resolution{Width: 1024, Height: 768}
	req.SecondaryImage = map[string][]byte{"west": {3}, "east": {1}, "north": {2}}

	art, err := b.Render(context.Background(), testJob(req), 1<<32+5)
	require.NoError(t, err)
	assert.Equal(t, out, art.Data)

	require.Len(t, fake.contents, 1)
	parts := fake.contents[0].Parts
	// 指令 + 主图 + 2 个附加视角（各含说明文字）
	require.Len(t, parts, 6)
	assert.NotEmpty(t, parts[0].Text)
	assert.Equal(t, req.Image, parts[1].InlineData.Data)
	assert.Contains(t, parts[2].Text, "east")
	assert.Equal(t, []byte{1}, parts[3].InlineData.Data)
	assert.Contains(t, parts[4].Text, "north")

	require.NotNil(t, fake.config.Seed)
	assert.Equal(t, int32(5), *fake.config.Seed)
	assert.Equal(t, "4:3", fake.config.ImageConfig.AspectRatio)
	assert.Equal(t, []string{"TEXT", "IMAGE"}, fake.config.ResponseModalities)
}

func TestGemini_NoImageIsMalformed(t *testing.T) {
	fake := &fakeGeminiModels{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: "sorry"}}}}},
	}}
	b := NewGeminiBackend(GeminiConfig{}, fake)
	_, err := b.Render(context.Background(), testJob(testRequest(t)), 1)
	assert.True(t, types.IsErrorCode(err, types.ErrProviderPermanent))
}

func TestGemini_SafetyBlock(t *testing.T) {
	fake := &fakeGeminiModels{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
	}}
	b := NewGeminiBackend(GeminiConfig{}, fake)
	_, err := b.Render(context.Background(), testJob(testRequest(t)), 1)
	assert.True(t, types.IsErrorCode(err, types.ErrProviderPermanent))
}

func TestGemini_APIErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code types.ErrorCode
	}{
		{genai.APIError{Code: 429, Message: "RESOURCE_EXHAUSTED"}, types.ErrProviderTransient},
		{genai.APIError{Code: 403, Message: "PERMISSION_DENIED"}, types.ErrProviderPermanent},
		{genai.APIError{Code: 503, Message: "UNAVAILABLE"}, types.ErrProviderTransient},
		{errors.New("connection reset"), types.ErrProviderTransient},
	}
	for _, tt := range tests {
		b := NewGeminiBackend(GeminiConfig{}, &fakeGeminiModels{err: tt.err})
		_, err := b.Render(context.Background(), testJob(testRequest(t)), 1)
		assert.True(t, types.IsErrorCode(err, tt.code), "%v", tt.err)
	}
}

func TestGemini_SupportsAndPing(t *testing.T) {
	unconfigured := NewGeminiBackend(GeminiConfig{}, nil)
	assert.True(t, types.IsErrorCode(unconfigured.Supports(testRequest(t)), types.ErrValidation))
	assert.Error(t, unconfigured.Ping(context.Background()))

	b := NewGeminiBackend(GeminiConfig{}, &fakeGeminiModels{getErr: errors.New("down")})
	assert.Error(t, b.Ping(context.Background()))
	assert.True(t, b.Descriptor().Capabilities.SecondaryImages)
	assert.False(t, b.Descriptor().Capabilities.Conditioning)
}
