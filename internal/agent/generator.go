package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mkovri/Consilium/internal/domain"
	"github.com/mkovri/Consilium/internal/pipeline"
)

// DefaultLLMURL — адрес LLM-сервиса по умолчанию.
const DefaultLLMURL = "http://localhost:8000"

// GenerateRequest — запрос на генерацию текста.
type GenerateRequest struct {
	// System — системная инструкция (роль агента).
	System string `json:"system"`

	// Prompt — пользовательский промпт.
	Prompt string `json:"prompt"`
}

// Generator — генерация текста по промпту. Дедлайн попытки приходит
// через ctx; реализация не устанавливает собственный таймаут.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// HTTPGenerator — Generator поверх HTTP LLM-сервиса.
//
// Протокол: POST {base}/v1/generate с телом GenerateRequest,
// ответ {"text": "..."}.
type HTTPGenerator struct {
	baseURL string
	httpc   *http.Client
}

// NewHTTPGenerator создаёт генератор. Адрес берётся из LLM_URL,
// по умолчанию DefaultLLMURL.
func NewHTTPGenerator() *HTTPGenerator {
	baseURL := os.Getenv("LLM_URL")
	if baseURL == "" {
		baseURL = DefaultLLMURL
	}
	return &HTTPGenerator{
		baseURL: baseURL,
		// Таймаут не задаём: дедлайном управляет супервизор через ctx.
		httpc: &http.Client{},
	}
}

// generateResponse — тело ответа LLM-сервиса.
type generateResponse struct {
	Text string `json:"text"`
}

// Generate выполняет один запрос генерации.
//
// Сетевые сбои помечаются классом TRANSPORT, ответы с ошибкой —
// классом BUSINESS; истёкший дедлайн ctx доходит до супервизора
// как context.DeadlineExceeded.
func (g *HTTPGenerator) Generate(ctx context.Context, genReq GenerateRequest) (string, error) {
	payload, err := json.Marshal(genReq)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := g.baseURL + "/v1/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", pipeline.WithKind(domain.ErrorKindTransport,
			fmt.Errorf("%w: %v", ErrGeneration, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", pipeline.WithKind(domain.ErrorKindTransport,
			fmt.Errorf("%w: read response: %v", ErrGeneration, err))
	}

	if resp.StatusCode >= 500 {
		return "", pipeline.WithKind(domain.ErrorKindTransport,
			fmt.Errorf("%w: HTTP %d: %s", ErrGeneration, resp.StatusCode, truncate(string(body), 200)))
	}
	if resp.StatusCode >= 400 {
		return "", pipeline.WithKind(domain.ErrorKindBusiness,
			fmt.Errorf("%w: HTTP %d: %s", ErrGeneration, resp.StatusCode, truncate(string(body), 200)))
	}

	var genResp generateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return "", pipeline.WithKind(domain.ErrorKindBusiness,
			fmt.Errorf("%w: unmarshal response: %v", ErrGeneration, err))
	}

	if genResp.Text == "" {
		return "", pipeline.WithKind(domain.ErrorKindBusiness,
			fmt.Errorf("%w: empty completion after %s", ErrGeneration, time.Since(start)))
	}

	return genResp.Text, nil
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
