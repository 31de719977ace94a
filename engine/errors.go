package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/BaSui01/interiorflow/types"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 16 << 10

// MapHTTPError 将 HTTP 状态码映射为带重试标记的结构化错误
// 401/403、带配额关键字的 400 为永久错误；429、5xx 为瞬时错误
func MapHTTPError(status int, msg string, provider string) *types.Error {
	msg = fmt.Sprintf("status %d: %s", status, msg)
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.NewPermanentError(provider, "provider rejected credentials", errors.New(msg))
	case http.StatusTooManyRequests:
		return types.NewTransientError(provider, "provider rate limited", errors.New(msg))
	case http.StatusBadRequest, http.StatusPaymentRequired:
		msgLower := strings.ToLower(msg)
		if strings.Contains(msgLower, "quota") ||
			strings.Contains(msgLower, "credit") ||
			strings.Contains(msgLower, "limit") ||
			status == http.StatusPaymentRequired {
			return types.NewPermanentError(provider, "provider quota exhausted", errors.New(msg))
		}
		return types.NewPermanentError(provider, "provider rejected request", errors.New(msg))
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return types.NewTransientError(provider, "provider timed out", errors.New(msg))
	case 529: // overloaded
		return types.NewTransientError(provider, "provider overloaded", errors.New(msg))
	default:
		if status >= 500 {
			return types.NewTransientError(provider, "provider unavailable", errors.New(msg))
		}
		return types.NewPermanentError(provider, "unexpected provider response", errors.New(msg))
	}
}

// ReadErrorMessage 读取响应体中的错误消息
// 尝试解析常见 JSON 错误结构，失败则回退到原始文本
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error   json.RawMessage `json:"error"`
		Errors  []string        `json:"errors"`
		Message string          `json:"message"`
		Detail  any             `json:"detail"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil {
		var nested struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		}
		if len(errResp.Error) > 0 && json.Unmarshal(errResp.Error, &nested) == nil && nested.Message != "" {
			if nested.Type != "" {
				return fmt.Sprintf("%s (type: %s)", nested.Message, nested.Type)
			}
			return nested.Message
		}
		var flat string
		if len(errResp.Error) > 0 && json.Unmarshal(errResp.Error, &flat) == nil && flat != "" {
			return flat
		}
		if len(errResp.Errors) > 0 {
			return strings.Join(errResp.Errors, "; ")
		}
		if errResp.Message != "" {
			return errResp.Message
		}
		if errResp.Detail != nil {
			return fmt.Sprint(errResp.Detail)
		}
	}
	return strings.TrimSpace(string(data))
}

// ClassifyError converts transport-level failures into the error taxonomy.
// Errors that already carry a code pass through unchanged.
func ClassifyError(ctx context.Context, err error, provider string) error {
	if err == nil {
		return nil
	}
	if _, ok := types.AsError(err); ok {
		return err
	}
	if ctx.Err() != nil {
		return types.NewError(types.ErrCanceled, "request canceled").WithProvider(provider).WithCause(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewTransientError(provider, "provider timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return types.NewTransientError(provider, "provider unreachable", err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return types.NewTransientError(provider, "provider connection dropped", err)
	}
	return types.NewTransientError(provider, "provider call failed", err)
}

// malformed reports an unusable provider response.
func malformed(provider, what string, cause error) *types.Error {
	return types.NewPermanentError(provider, "malformed provider response: "+what, cause)
}
