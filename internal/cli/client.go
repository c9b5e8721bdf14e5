package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// OrchestrationResult — итог выполнения запроса.
type OrchestrationResult struct {
	RunID           string                    `json:"run_id"`
	Phase           string                    `json:"phase"`
	Verdict         string                    `json:"verdict,omitempty"`
	OverallScore    float64                   `json:"overall_score"`
	Artifact        *Artifact                 `json:"artifact,omitempty"`
	Succeeded       []string                  `json:"succeeded,omitempty"`
	Failed          []string                  `json:"failed,omitempty"`
	Skipped         []string                  `json:"skipped,omitempty"`
	FailedChecks    []string                  `json:"failed_checks,omitempty"`
	Recommendations []string                  `json:"recommendations,omitempty"`
	Outcomes        map[string]map[string]any `json:"outcomes,omitempty"`
	Error           string                    `json:"error,omitempty"`
}

// Artifact — итоговый артефакт синтеза.
type Artifact struct {
	Text     string         `json:"text"`
	Sections []Section      `json:"sections,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// Section — раздел артефакта.
type Section struct {
	EntityID  string   `json:"entity_id"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Sources   []string `json:"sources,omitempty"`
	Agreement float64  `json:"agreement"`
	Degraded  bool     `json:"degraded,omitempty"`
}

// AcceptedResponse — ответ на асинхронный запрос.
type AcceptedResponse struct {
	RunID string `json:"run_id"`
	Phase string `json:"phase"`
}

// RunResponse — run из API.
type RunResponse struct {
	ID           string    `json:"id"`
	Query        string    `json:"query"`
	Phase        string    `json:"phase"`
	Verdict      string    `json:"verdict,omitempty"`
	OverallScore float64   `json:"overall_score"`
	FailedChecks []string  `json:"failed_checks,omitempty"`
	Artifact     *Artifact `json:"artifact,omitempty"`
	ResumedFrom  string    `json:"resumed_from,omitempty"`
	Error        string    `json:"error,omitempty"`
	StartedAt    string    `json:"started_at"`
	FinishedAt   string    `json:"finished_at,omitempty"`
	DurationMs   int64     `json:"duration_ms,omitempty"`
}

// RunDetailResponse — run с итогами узлов.
type RunDetailResponse struct {
	RunResponse
	Outcomes []OutcomeResponse `json:"outcomes"`
}

// OutcomeResponse — итог узла из API.
type OutcomeResponse struct {
	TaskID    string         `json:"task_id"`
	Agent     string         `json:"agent,omitempty"`
	Status    string         `json:"status"`
	Text      string         `json:"text,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Error     string         `json:"error,omitempty"`
	Attempts  int            `json:"attempts"`
	ElapsedMs int64          `json:"elapsed_ms"`
	Entity    string         `json:"entity,omitempty"`
	Fallback  bool           `json:"fallback,omitempty"`
}

// AgentResponse — агент из реестра.
type AgentResponse struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Kind        string `json:"kind"`
	Endpoint    string `json:"endpoint,omitempty"`
	HasFallback bool   `json:"has_fallback"`
}

// --- Request types ---

// OrchestrateRequest — запрос на выполнение.
type OrchestrateRequest struct {
	Query   string         `json:"query"`
	Context map[string]any `json:"context,omitempty"`
	Async   bool           `json:"async,omitempty"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	Phase   string
	Verdict string
	Limit   int
	Offset  int
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
	Data  json.RawMessage `json:"data,omitempty"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError — ошибка, которую вернул API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- Client ---

// DefaultTimeout — таймаут запросов чтения.
const DefaultTimeout = 30 * time.Second

// Client — HTTP-клиент для Ensemble API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
// timeout ограничивает каждый запрос; 0 — DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// --- Orchestrations ---

// Orchestrate выполняет запрос синхронно.
//
// Для фатально завершённого run API отдаёт частичный результат
// вместе с ошибкой: возвращаются оба.
func (c *Client) Orchestrate(req OrchestrateRequest) (*OrchestrationResult, error) {
	req.Async = false

	resp, err := c.do(http.MethodPost, "/api/v1/orchestrations", req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var er errorResponse
		if err := json.Unmarshal(body, &er); err != nil {
			return nil, &APIError{Status: resp.StatusCode}
		}
		apiErr := &APIError{Status: resp.StatusCode, Code: er.Error.Code, Message: er.Error.Message}
		if len(er.Data) == 0 || string(er.Data) == "null" {
			return nil, apiErr
		}
		var partial OrchestrationResult
		if err := json.Unmarshal(er.Data, &partial); err != nil {
			return nil, apiErr
		}
		return &partial, apiErr
	}

	var dr dataResponse
	if err := json.Unmarshal(body, &dr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	var result OrchestrationResult
	if err := json.Unmarshal(dr.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return &result, nil
}

// Enqueue ставит запрос в очередь и возвращает run_id.
func (c *Client) Enqueue(req OrchestrateRequest) (*AcceptedResponse, error) {
	req.Async = true
	var accepted AcceptedResponse
	err := c.post("/api/v1/orchestrations", req, &accepted)
	return &accepted, err
}

// --- Runs ---

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.Phase != "" {
		params.Set("phase", opts.Phase)
	}
	if opts.Verdict != "" {
		params.Set("verdict", opts.Verdict)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	var runs []RunResponse
	err := c.list("/api/v1/runs", params, &runs)
	return runs, err
}

// GetRun возвращает run по ID вместе с итогами.
func (c *Client) GetRun(id string) (*RunDetailResponse, error) {
	var run RunDetailResponse
	err := c.get("/api/v1/runs/"+url.PathEscape(id), &run)
	return &run, err
}

// ListOutcomes возвращает итоги узлов run.
func (c *Client) ListOutcomes(runID string) ([]OutcomeResponse, error) {
	var outcomes []OutcomeResponse
	err := c.list("/api/v1/runs/"+url.PathEscape(runID)+"/outcomes", nil, &outcomes)
	return outcomes, err
}

// --- Agents ---

// ListAgents возвращает реестр агентов.
func (c *Client) ListAgents() ([]AgentResponse, error) {
	var agents []AgentResponse
	err := c.list("/api/v1/agents", nil, &agents)
	return agents, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

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
	defer func() { _ = resp.Body.Close() }()

	if err := c.checkError(resp); err != nil {
		return err
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
		return &APIError{Status: resp.StatusCode}
	}

	return &APIError{Status: resp.StatusCode, Code: er.Error.Code, Message: er.Error.Message}
}

// IsNotFound сообщает, что API ответил 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
