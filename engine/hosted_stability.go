package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/BaSui01/interiorflow/types"
)

// stabilitySchema posts a multipart form to the structure-control endpoint
// and receives the image inline.
type stabilitySchema struct {
	b *HostedBackend
}

type stabilityResponse struct {
	Image        string `json:"image"`
	Seed         int64  `json:"seed"`
	FinishReason string `json:"finish_reason"`
}

func (s *stabilitySchema) supports(req *GenerationRequest) error {
	if req.ConditioningWeight > 1 {
		return types.NewValidationError("%s: conditioning weight above 1 not supported", s.b.cfg.Name)
	}
	return nil
}

func (s *stabilitySchema) render(ctx context.Context, job *Job, seed int64) (*Artifact, error) {
	name := s.b.cfg.Name
	req := job.Request

	control := req.Image
	m, err := job.ConditioningMap(ctx)
	if err != nil {
		return nil, err
	}
	if m != nil {
		control = m.PNG
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", "control.png")
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "encode request").WithCause(err)
	}
	if _, err := part.Write(control); err != nil {
		return nil, types.NewError(types.ErrInternal, "encode request").WithCause(err)
	}
	fields := [][2]string{
		{"prompt", job.Prompt.Positive},
		{"negative_prompt", job.Prompt.Negative},
		{"seed", strconv.FormatInt(seed, 10)},
		{"output_format", "png"},
	}
	if req.ConditioningWeight > 0 {
		fields = append(fields, [2]string{"control_strength", strconv.FormatFloat(req.ConditioningWeight, 'f', -1, 64)})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, types.NewError(types.ErrInternal, "encode request").WithCause(err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, types.NewError(types.ErrInternal, "encode request").WithCause(err)
	}

	path := fmt.Sprintf("/v2beta/stable-image/control/%s", s.b.cfg.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.b.endpoint(path), &buf)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to create request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	var out stabilityResponse
	if err := s.b.doJSON(httpReq, &out); err != nil {
		return nil, err
	}
	if out.FinishReason == "CONTENT_FILTERED" {
		return nil, types.NewPermanentError(name, "output rejected by provider filter", nil)
	}
	if out.Image == "" {
		return nil, malformed(name, "missing image", nil)
	}
	data, err := base64.StdEncoding.DecodeString(out.Image)
	if err != nil {
		return nil, malformed(name, "image is not base64", err)
	}
	return &Artifact{Data: data, MIME: sniffMIME(data), Seed: out.Seed}, nil
}
