package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// TaskResponse — задача анализа из API.
type TaskResponse struct {
	ID              string `json:"id"`
	Ticker          string `json:"ticker"`
	OwnerID         string `json:"owner_id"`
	RebalanceID     string `json:"rebalance_id,omitempty"`
	Status          string `json:"status"`
	CancelRequested bool   `json:"cancel_requested"`
	Error           string `json:"error,omitempty"`
	ErrorKind       string `json:"error_kind,omitempty"`
	StartedAt       string `json:"started_at,omitempty"`
	FinishedAt      string `json:"finished_at,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// AgentRunView — запись агента внутри фазы задачи.
type AgentRunView struct {
	Agent     string `json:"agent"`
	Status    string `json:"status"`
	Attempt   int    `json:"attempt"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// PhaseView — фаза конвейера из API.
type PhaseView struct {
	Name   string         `json:"name"`
	Agents []AgentRunView `json:"agents"`
	Final  *AgentRunView  `json:"final,omitempty"`
}

// TaskDetailResponse — задача вместе с фазами конвейера.
type TaskDetailResponse struct {
	TaskResponse
	Phases []PhaseView `json:"phases"`
}

// RetryResponse — подтверждение намеренного retry агента.
type RetryResponse struct {
	TaskID  string `json:"task_id"`
	Agent   string `json:"agent"`
	Attempt int    `json:"attempt"`
}

// RebalanceResponse — ребалансировка из API.
type RebalanceResponse struct {
	ID                 string   `json:"id"`
	OwnerID            string   `json:"owner_id"`
	Status             string   `json:"status"`
	Tickers            []string `json:"tickers"`
	MaxParallel        int      `json:"max_parallel"`
	MinSuccessFraction float64  `json:"min_success_fraction"`
	BuildStatus        string   `json:"build_status"`
	Error              string   `json:"error,omitempty"`
	ErrorKind          string   `json:"error_kind,omitempty"`
	StartedAt          string   `json:"started_at,omitempty"`
	FinishedAt         string   `json:"finished_at,omitempty"`
	CreatedAt          string   `json:"created_at"`
}

// OrderResponse — торговая заявка из API.
type OrderResponse struct {
	ID          string `json:"id"`
	RebalanceID string `json:"rebalance_id"`
	OwnerID     string `json:"owner_id"`
	Ticker      string `json:"ticker"`
	Side        string `json:"side"`
	Quantity    int    `json:"quantity"`
	Rationale   string `json:"rationale,omitempty"`
	Status      string `json:"status"`
	DecidedAt   string `json:"decided_at,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// ScheduleResponse — расписание из API.
type ScheduleResponse struct {
	ID                 string   `json:"id"`
	OwnerID            string   `json:"owner_id"`
	Name               string   `json:"name"`
	CronExpr           string   `json:"cron_expr,omitempty"`
	IntervalSec        int      `json:"interval_sec,omitempty"`
	Timezone           string   `json:"timezone"`
	Enabled            bool     `json:"enabled"`
	Tickers            []string `json:"tickers,omitempty"`
	MaxParallel        int      `json:"max_parallel"`
	MinSuccessFraction float64  `json:"min_success_fraction"`
	NextDueAt          string   `json:"next_due_at,omitempty"`
	LastRunAt          string   `json:"last_run_at,omitempty"`
	LastRebalanceID    string   `json:"last_rebalance_id,omitempty"`
	CreatedAt          string   `json:"created_at"`
	UpdatedAt          string   `json:"updated_at"`
}

// --- Request types ---

// CreateTaskRequest — создание задачи анализа.
type CreateTaskRequest struct {
	Ticker  string `json:"ticker"`
	OwnerID string `json:"owner_id"`
}

// CreateRebalanceRequest — создание ребалансировки.
type CreateRebalanceRequest struct {
	OwnerID            string   `json:"owner_id"`
	Tickers            []string `json:"tickers"`
	MaxParallel        int      `json:"max_parallel,omitempty"`
	MinSuccessFraction float64  `json:"min_success_fraction,omitempty"`
}

// CreateScheduleRequest — создание расписания.
type CreateScheduleRequest struct {
	OwnerID            string   `json:"owner_id"`
	Name               string   `json:"name"`
	CronExpr           string   `json:"cron_expr,omitempty"`
	IntervalSec        int      `json:"interval_sec,omitempty"`
	Timezone           string   `json:"timezone,omitempty"`
	Enabled            bool     `json:"enabled"`
	Tickers            []string `json:"tickers,omitempty"`
	MaxParallel        int      `json:"max_parallel,omitempty"`
	MinSuccessFraction float64  `json:"min_success_fraction,omitempty"`
}

// UpdateScheduleRequest — обновление расписания.
type UpdateScheduleRequest struct {
	Name        *string   `json:"name,omitempty"`
	CronExpr    *string   `json:"cron_expr,omitempty"`
	IntervalSec *int      `json:"interval_sec,omitempty"`
	Timezone    *string   `json:"timezone,omitempty"`
	Tickers     *[]string `json:"tickers,omitempty"`
}

// ListTasksOpts — параметры фильтрации задач.
type ListTasksOpts struct {
	OwnerID     string
	RebalanceID string
	Status      string
	Limit       int
}

// ListRebalancesOpts — параметры фильтрации ребалансировок.
type ListRebalancesOpts struct {
	OwnerID string
	Status  string
	Limit   int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Consilium API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Tasks ---

// ListTasks возвращает список задач анализа с фильтрацией.
func (c *Client) ListTasks(opts ListTasksOpts) ([]TaskResponse, error) {
	params := url.Values{}
	if opts.OwnerID != "" {
		params.Set("owner_id", opts.OwnerID)
	}
	if opts.RebalanceID != "" {
		params.Set("rebalance_id", opts.RebalanceID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var tasks []TaskResponse
	err := c.list("/api/v1/tasks", params, &tasks)
	return tasks, err
}

// CreateTask создаёт задачу анализа одного тикера.
func (c *Client) CreateTask(req CreateTaskRequest) (*TaskResponse, error) {
	var task TaskResponse
	err := c.post("/api/v1/tasks", req, &task)
	return &task, err
}

// GetTask возвращает задачу с фазами конвейера.
func (c *Client) GetTask(id string) (*TaskDetailResponse, error) {
	var task TaskDetailResponse
	err := c.get("/api/v1/tasks/"+id, &task)
	return &task, err
}

// CancelTask запрашивает отмену задачи.
func (c *Client) CancelTask(id string) (*TaskResponse, error) {
	var task TaskResponse
	err := c.post("/api/v1/tasks/"+id+"/cancel", nil, &task)
	return &task, err
}

// RetryAgent отправляет намеренный retry упавшего агента.
func (c *Client) RetryAgent(taskID, agent string) (*RetryResponse, error) {
	var retry RetryResponse
	err := c.post("/api/v1/tasks/"+taskID+"/agents/"+agent+"/retry", nil, &retry)
	return &retry, err
}

// --- Rebalances ---

// ListRebalances возвращает список ребалансировок с фильтрацией.
func (c *Client) ListRebalances(opts ListRebalancesOpts) ([]RebalanceResponse, error) {
	params := url.Values{}
	if opts.OwnerID != "" {
		params.Set("owner_id", opts.OwnerID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var rebalances []RebalanceResponse
	err := c.list("/api/v1/rebalances", params, &rebalances)
	return rebalances, err
}

// CreateRebalance создаёт ребалансировку портфеля.
func (c *Client) CreateRebalance(req CreateRebalanceRequest) (*RebalanceResponse, error) {
	var reb RebalanceResponse
	err := c.post("/api/v1/rebalances", req, &reb)
	return &reb, err
}

// GetRebalance возвращает ребалансировку по ID.
func (c *Client) GetRebalance(id string) (*RebalanceResponse, error) {
	var reb RebalanceResponse
	err := c.get("/api/v1/rebalances/"+id, &reb)
	return &reb, err
}

// CancelRebalance отменяет ребалансировку вместе с дочерними задачами.
func (c *Client) CancelRebalance(id string) (*RebalanceResponse, error) {
	var reb RebalanceResponse
	err := c.post("/api/v1/rebalances/"+id+"/cancel", nil, &reb)
	return &reb, err
}

// ListRebalanceTasks возвращает дочерние задачи ребалансировки.
func (c *Client) ListRebalanceTasks(id string) ([]TaskResponse, error) {
	var tasks []TaskResponse
	err := c.list("/api/v1/rebalances/"+id+"/tasks", nil, &tasks)
	return tasks, err
}

// ListRebalanceOrders возвращает торговые заявки ребалансировки.
func (c *Client) ListRebalanceOrders(id string) ([]OrderResponse, error) {
	var orders []OrderResponse
	err := c.list("/api/v1/rebalances/"+id+"/orders", nil, &orders)
	return orders, err
}

// --- Orders ---

// GetOrder возвращает торговую заявку по ID.
func (c *Client) GetOrder(id string) (*OrderResponse, error) {
	var order OrderResponse
	err := c.get("/api/v1/orders/"+id, &order)
	return &order, err
}

// ApproveOrder одобряет заявку в PENDING_APPROVAL.
func (c *Client) ApproveOrder(id string) (*OrderResponse, error) {
	var order OrderResponse
	err := c.post("/api/v1/orders/"+id+"/approve", nil, &order)
	return &order, err
}

// RejectOrder отклоняет заявку в PENDING_APPROVAL.
func (c *Client) RejectOrder(id string) (*OrderResponse, error) {
	var order OrderResponse
	err := c.post("/api/v1/orders/"+id+"/reject", nil, &order)
	return &order, err
}

// SubmitOrder отправляет одобренную заявку брокеру.
func (c *Client) SubmitOrder(id string) (*OrderResponse, error) {
	var order OrderResponse
	err := c.post("/api/v1/orders/"+id+"/submit", nil, &order)
	return &order, err
}

// --- Schedules ---

// ListSchedules возвращает расписания. Если ownerID не пустой — фильтрует.
func (c *Client) ListSchedules(ownerID string) ([]ScheduleResponse, error) {
	params := url.Values{}
	if ownerID != "" {
		params.Set("owner_id", ownerID)
	}

	var schedules []ScheduleResponse
	err := c.list("/api/v1/schedules", params, &schedules)
	return schedules, err
}

// CreateSchedule создаёт расписание ребалансировок.
func (c *Client) CreateSchedule(req CreateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.post("/api/v1/schedules", req, &schedule)
	return &schedule, err
}

// GetSchedule возвращает расписание по ID.
func (c *Client) GetSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.get("/api/v1/schedules/"+id, &schedule)
	return &schedule, err
}

// UpdateSchedule обновляет расписание.
func (c *Client) UpdateSchedule(id string, req UpdateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.put("/api/v1/schedules/"+id, req, &schedule)
	return &schedule, err
}

// DeleteSchedule удаляет расписание.
func (c *Client) DeleteSchedule(id string) error {
	return c.delete("/api/v1/schedules/" + id)
}

// EnableSchedule включает расписание.
func (c *Client) EnableSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	body := map[string]bool{"enabled": true}
	err := c.put("/api/v1/schedules/"+id+"/enabled", body, &schedule)
	return &schedule, err
}

// DisableSchedule выключает расписание.
func (c *Client) DisableSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	body := map[string]bool{"enabled": false}
	err := c.put("/api/v1/schedules/"+id+"/enabled", body, &schedule)
	return &schedule, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
