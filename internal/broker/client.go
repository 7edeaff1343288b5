package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/mkovri/Consilium/internal/domain"
)

// DefaultURL — адрес брокерского API по умолчанию.
const DefaultURL = "http://localhost:8090"

const defaultTimeout = 30 * time.Second

// Ошибки брокерского клиента.
var (
	// ErrUnavailable — брокерский API недоступен.
	ErrUnavailable = errors.New("broker unavailable")

	// ErrRejected — брокер отверг запрос.
	ErrRejected = errors.New("broker rejected request")
)

// Position — позиция портфеля по одному тикеру.
type Position struct {
	// Ticker — тикер бумаги.
	Ticker string `json:"ticker"`

	// Quantity — количество бумаг (знак отражает направление).
	Quantity float64 `json:"quantity"`

	// AvgPrice — средняя цена набора позиции.
	AvgPrice float64 `json:"avg_price"`
}

// PortfolioSnapshot — снимок портфеля владельца.
type PortfolioSnapshot struct {
	// OwnerID — владелец портфеля.
	OwnerID uuid.UUID `json:"owner_id"`

	// Cash — свободные средства.
	Cash float64 `json:"cash"`

	// Positions — открытые позиции по тикерам.
	Positions map[string]Position `json:"positions"`

	// AsOf — момент снимка.
	AsOf time.Time `json:"as_of"`
}

// Client — операции брокерского API, нужные системе.
type Client interface {
	// Snapshot возвращает текущий снимок портфеля владельца.
	Snapshot(ctx context.Context, ownerID uuid.UUID) (*PortfolioSnapshot, error)

	// SubmitOrder отправляет одобренную заявку брокеру.
	SubmitOrder(ctx context.Context, order *domain.TradeOrder) error
}

// HTTPClient — реализация Client поверх HTTP.
type HTTPClient struct {
	baseURL string
	httpc   *http.Client
}

// NewHTTPClient создаёт клиента. Адрес берётся из BROKER_URL,
// по умолчанию DefaultURL.
func NewHTTPClient() *HTTPClient {
	baseURL := os.Getenv("BROKER_URL")
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &HTTPClient{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: defaultTimeout},
	}
}

// Snapshot возвращает снимок портфеля через GET /v1/portfolio/{owner_id}.
func (c *HTTPClient) Snapshot(ctx context.Context, ownerID uuid.UUID) (*PortfolioSnapshot, error) {
	url := fmt.Sprintf("%s/v1/portfolio/%s", c.baseURL, ownerID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrRejected, resp.StatusCode, truncate(string(body), 200))
	}

	var snapshot PortfolioSnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snapshot, nil
}

// SubmitOrder отправляет заявку через POST /v1/orders.
func (c *HTTPClient) SubmitOrder(ctx context.Context, order *domain.TradeOrder) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	url := c.baseURL + "/v1/orders"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: HTTP %d: %s", ErrRejected, resp.StatusCode, truncate(string(body), 200))
	}

	return nil
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
