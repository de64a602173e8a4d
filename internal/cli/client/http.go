package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloo-solutions/kbask/internal/domain"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	envAPIKey = "KBASK_API_KEY"
	envAPIURL = "KBASK_API_URL"

	defaultAPIURL = "http://localhost:8080"
	apiBasePath   = "/api/knowledgebase"

	// DefaultTimeout bounds every call to the knowledge base service.
	DefaultTimeout = 180 * time.Second

	envelopeSuccess = 200

	// maxPlainErrorLen bounds a non-envelope error body shown to the user.
	maxPlainErrorLen = 200
)

// APIClient talks to the knowledge base service.
type APIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewAPIClientWithCmd creates an APIClient from the --api-key and --api-url flags of cmd,
// falling back through ResolveEndpoint. A nil cmd skips the flags.
func NewAPIClientWithCmd(cmd *cobra.Command) (*APIClient, error) {
	ep, err := endpointFor(cmd)
	if err != nil {
		return nil, err
	}
	return NewAPIClientWithConfig(ep.APIKey, ep.URL)
}

func endpointFor(cmd *cobra.Command) (Endpoint, error) {
	var flagKey, flagURL string
	if cmd != nil {
		flagKey, _ = cmd.Flags().GetString("api-key")
		flagURL, _ = cmd.Flags().GetString("api-url")
	}
	return ResolveEndpoint(flagKey, flagURL)
}

// NewAPIClientWithConfig creates an APIClient with explicit config. The API key may be empty
// when the service runs without authentication.
func NewAPIClientWithConfig(apiKey, baseURL string) (*APIClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("api url is required")
	}
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: zap.NewNop(),
	}, nil
}

// WithLogger sets the logger used for request tracing.
func (c *APIClient) WithLogger(logger *zap.Logger) *APIClient {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// BaseURL returns the service URL the client targets.
func (c *APIClient) BaseURL() string {
	return c.baseURL
}

// APIResponse is the service's response envelope.
type APIResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ListKnowledgeBases fetches every knowledge base, newest upload first.
func (c *APIClient) ListKnowledgeBases(ctx context.Context) ([]domain.KnowledgeBase, error) {
	resp, err := c.do(ctx, "list", http.MethodGet, "/list", "", nil)
	if err != nil {
		return nil, err
	}

	var list []domain.KnowledgeBase
	if err := decodeData(resp, &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = []domain.KnowledgeBase{}
	}
	return list, nil
}

// GetKnowledgeBase fetches a single knowledge base.
func (c *APIClient) GetKnowledgeBase(ctx context.Context, id int64) (*domain.KnowledgeBase, error) {
	resp, err := c.do(ctx, "get", http.MethodGet, fmt.Sprintf("/%d", id), "", nil)
	if err != nil {
		return nil, err
	}

	var kb domain.KnowledgeBase
	if err := decodeData(resp, &kb); err != nil {
		return nil, err
	}
	return &kb, nil
}

// UploadKnowledgeBase sends a document as multipart form data. An empty name lets the
// service derive one from the filename.
func (c *APIClient) UploadKnowledgeBase(ctx context.Context, filename string, content io.Reader, name string) (*domain.UploadResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if name != "" {
		if err := writer.WriteField("name", name); err != nil {
			return nil, fmt.Errorf("failed to write name field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	resp, err := c.do(ctx, "upload", http.MethodPost, "/upload", writer.FormDataContentType(), &body)
	if err != nil {
		return nil, err
	}

	var result domain.UploadResult
	if err := decodeData(resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteKnowledgeBase removes a knowledge base and everything stored for it.
func (c *APIClient) DeleteKnowledgeBase(ctx context.Context, id int64) error {
	_, err := c.do(ctx, "delete", http.MethodDelete, fmt.Sprintf("/%d", id), "", nil)
	return err
}

// QueryKnowledgeBase asks a question over the given knowledge bases.
func (c *APIClient) QueryKnowledgeBase(ctx context.Context, req domain.QueryRequest) (*domain.QueryResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	resp, err := c.do(ctx, "query", http.MethodPost, "/query", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	var answer domain.QueryResponse
	if err := decodeData(resp, &answer); err != nil {
		return nil, err
	}
	return &answer, nil
}

func (c *APIClient) do(ctx context.Context, op, method, path, contentType string, body io.Reader) (*APIResponse, error) {
	url := c.baseURL + apiBasePath + path

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("request failed", zap.String("op", op), zap.String("url", url), zap.Error(err))
		return nil, &domain.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransportError{Op: op, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	c.logger.Debug("request completed",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	var apiResp APIResponse
	parseErr := json.Unmarshal(respBody, &apiResp)
	if parseErr != nil || apiResp.Code == 0 {
		if resp.StatusCode < 400 {
			return nil, &domain.RemoteError{Code: resp.StatusCode, Message: "invalid response from server"}
		}
		message := apiResp.Message
		if parseErr != nil {
			message = plainErrorMessage(resp.Header.Get("Content-Type"), respBody)
		}
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return nil, &domain.RemoteError{Code: resp.StatusCode, Message: message}
	}

	if apiResp.Code != envelopeSuccess {
		message := apiResp.Message
		if message == "" {
			message = "request failed"
		}
		return nil, &domain.RemoteError{Code: apiResp.Code, Message: message}
	}

	return &apiResp, nil
}

// plainErrorMessage returns a non-envelope error body when it is a short single line
// of plain text, and "" for anything else such as a proxy's HTML error page.
func plainErrorMessage(contentType string, body []byte) string {
	if contentType != "" && !strings.HasPrefix(contentType, "text/plain") {
		return ""
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxPlainErrorLen || strings.ContainsAny(msg, "\r\n<") {
		return ""
	}
	return msg
}

func decodeData(resp *APIResponse, v interface{}) error {
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(resp.Data, v); err != nil {
		return &domain.RemoteError{Code: resp.Code, Message: fmt.Sprintf("failed to parse response: %v", err)}
	}
	return nil
}
