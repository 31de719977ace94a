package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/BaSui01/interiorflow/types"
)

// fluxSchema speaks the Black Forest Labs async API: submit, then poll
// polling_url until the task is Ready.
type fluxSchema struct {
	b *HostedBackend
}

type fluxRequest struct {
	Prompt              string  `json:"prompt"`
	Width               int     `json:"width,omitempty"`
	Height              int     `json:"height,omitempty"`
	Steps               int     `json:"steps,omitempty"`
	Guidance            float64 `json:"guidance,omitempty"`
	Seed                int64   `json:"seed"`
	OutputFormat        string  `json:"output_format"`
	ControlImage        string  `json:"control_image,omitempty"`
	ImagePrompt         string  `json:"image_prompt,omitempty"`
	ImagePromptStrength float64 `json:"image_prompt_strength,omitempty"`
}

type fluxResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	PollingURL string `json:"polling_url,omitempty"`
	Result     *struct {
		Sample string `json:"sample"`
		Seed   int64  `json:"seed,omitempty"`
	} `json:"result,omitempty"`
}

// 终态失败状态，不可重试
var fluxFailed = map[string]bool{
	"Error":             true,
	"Failed":            true,
	"Content Moderated": true,
	"Request Moderated": true,
	"Task not found":    true,
}

func (s *fluxSchema) supports(req *GenerationRequest) error {
	if req.Steps > 50 {
		return types.NewValidationError("%s: steps above 50 not supported", s.b.cfg.Name)
	}
	if req.GuidanceScale > 0 && (req.GuidanceScale < 1.5 || req.GuidanceScale > 100) {
		return types.NewValidationError("%s: guidance must be in [1.5, 100]", s.b.cfg.Name)
	}
	return nil
}

func (s *fluxSchema) render(ctx context.Context, job *Job, seed int64) (*Artifact, error) {
	name := s.b.cfg.Name
	req := job.Request
	body := fluxRequest{
		Prompt:       job.Prompt.Positive,
		Width:        req.Resolution.Width,
		Height:       req.Resolution.Height,
		Steps:        req.Steps,
		Guidance:     req.GuidanceScale,
		Seed:         seed,
		OutputFormat: "png",
	}

	m, err := job.ConditioningMap(ctx)
	if err != nil {
		return nil, err
	}
	if m != nil {
		body.ControlImage = base64.StdEncoding.EncodeToString(m.PNG)
	} else {
		body.ImagePrompt = base64.StdEncoding.EncodeToString(req.Image)
		body.ImagePromptStrength = req.ImageStrength
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "encode request").WithCause(err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.b.endpoint("/v1/"+url.PathEscape(s.b.cfg.Model)), bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to create request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var submitted fluxResponse
	if err := s.b.doJSON(httpReq, &submitted); err != nil {
		return nil, err
	}
	if submitted.ID == "" && submitted.PollingURL == "" {
		return nil, malformed(name, "missing task id", nil)
	}

	pollURL := submitted.PollingURL
	if pollURL == "" {
		pollURL = s.b.endpoint("/v1/get_result?id=" + url.QueryEscape(submitted.ID))
	}
	result, err := s.poll(ctx, s.b.resolveURL(pollURL))
	if err != nil {
		return nil, err
	}
	if result.Result == nil || result.Result.Sample == "" {
		return nil, malformed(name, "ready task without sample", nil)
	}

	sample := s.b.resolveURL(result.Result.Sample)
	art := &Artifact{Seed: result.Result.Seed}
	if !s.b.cfg.DownloadResults {
		art.URL = sample
		return art, nil
	}
	data, err := s.b.download(ctx, sample)
	if err != nil {
		return nil, err
	}
	art.Data, art.MIME = data, sniffMIME(data)
	return art, nil
}

// poll waits PollInterval between status requests until Ready, a terminal
// failure, or Timeout has passed since submission.
func (s *fluxSchema) poll(ctx context.Context, pollURL string) (*fluxResponse, error) {
	name := s.b.cfg.Name
	deadline := time.Now().Add(s.b.cfg.Timeout)
	ticker := time.NewTicker(s.b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ClassifyError(ctx, ctx.Err(), name)
		case <-ticker.C:
		}
		if time.Now().After(deadline) {
			return nil, types.NewTransientError(name, "generation timed out", nil)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
		if err != nil {
			return nil, malformed(name, "bad polling url", err)
		}
		var status fluxResponse
		if err := s.b.doJSON(req, &status); err != nil {
			return nil, err
		}
		switch {
		case status.Status == "Ready":
			return &status, nil
		case fluxFailed[status.Status]:
			return nil, types.NewPermanentError(name, "generation failed",
				fmt.Errorf("task status %q", status.Status))
		}
	}
}
