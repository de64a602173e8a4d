//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/cloo-solutions/kbask/internal/api/handlers"
	"github.com/cloo-solutions/kbask/internal/api/middleware"
	"github.com/cloo-solutions/kbask/internal/cli/client"
	"github.com/cloo-solutions/kbask/internal/extract"
	"github.com/cloo-solutions/kbask/internal/repository"
	"github.com/cloo-solutions/kbask/internal/server"
	"github.com/cloo-solutions/kbask/internal/service"
	"github.com/cloo-solutions/kbask/internal/session"
	"github.com/cloo-solutions/kbask/internal/storage"
	"github.com/cloo-solutions/kbask/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	e2eAPIKey         = "e2e-key"
	e2eBucket         = "kbask-test"
	e2eMaxUploadBytes = 5 << 20
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	S3Client     *storage.S3Client
	APIKey       string
	HTTPClient   *http.Client
}

// SetupE2EEnv starts Postgres and RustFS and serves the API in-process against them.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)

	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     testutil.S3Credential,
		SecretAccessKey: testutil.S3Credential,
		Bucket:          e2eBucket,
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	serverURL, serverCloser := startServer(t, pool, s3Client, port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		RustFSC:      s3C,
		Pool:         pool,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		S3Client:     s3Client,
		APIKey:       e2eAPIKey,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// Client returns an API client authenticated with the environment's key.
func (e *E2ETestEnv) Client() *client.APIClient {
	c, err := client.NewAPIClientWithConfig(e.APIKey, e.ServerURL)
	if err != nil {
		e.T.Fatalf("failed to create api client: %v", err)
	}
	return c
}

// NewSession returns a fresh client session against the server.
func (e *E2ETestEnv) NewSession() *session.Session {
	return session.New(e.Client(), session.Config{})
}

// RunKbask runs the kbask command tree in-process and returns its stdout.
func (e *E2ETestEnv) RunKbask(args ...string) (string, error) {
	return e.RunKbaskWithInput("", args...)
}

// RunKbaskWithInput runs the kbask command tree with stdin input. Logs written to
// stderr are kept out of the returned output.
func (e *E2ETestEnv) RunKbaskWithInput(input string, args ...string) (string, error) {
	var out, errOut bytes.Buffer
	cmd := client.NewRootCmd("e2e")
	cmd.SetArgs(append([]string{"--api-url", e.ServerURL, "--api-key", e.APIKey}, args...))
	cmd.SetIn(bytes.NewBufferString(input))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(e.Ctx)
	if err != nil && errOut.Len() > 0 {
		e.T.Logf("kbask %v stderr:\n%s", args, errOut.String())
	}
	return out.String(), err
}

// APIResponse is the service response envelope.
type APIResponse struct {
	StatusCode int             `json:"-"`
	Code       int             `json:"code"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path, apiKey string) (*APIResponse, error) {
	return e.doRequest(http.MethodGet, path, nil, apiKey)
}

// Post performs a JSON POST request
func (e *E2ETestEnv) Post(path string, body interface{}, apiKey string) (*APIResponse, error) {
	return e.doRequest(http.MethodPost, path, body, apiKey)
}

// Delete performs a DELETE request
func (e *E2ETestEnv) Delete(path, apiKey string) (*APIResponse, error) {
	return e.doRequest(http.MethodDelete, path, nil, apiKey)
}

// doRequest returns the decoded envelope for any status; only transport and decode
// failures are errors.
func (e *E2ETestEnv) doRequest(method, path string, body interface{}, apiKey string) (*APIResponse, error) {
	url := e.ServerURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	apiResp.StatusCode = resp.StatusCode
	return &apiResp, nil
}

// DownloadFile downloads a file from the presigned URL
func (e *E2ETestEnv) DownloadFile(downloadURL string) ([]byte, error) {
	resp, err := e.HTTPClient.Get(downloadURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// SHA256Sum calculates SHA256 hash of data
func SHA256Sum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// startServer wires the real service without model credentials, so retrieval is
// lexical and answers are built from excerpts.
func startServer(t *testing.T, pool *pgxpool.Pool, s3Client *storage.S3Client, port int) (string, func()) {
	svc := service.NewKnowledgeBaseService(service.Dependencies{
		Repo:      repository.NewKnowledgeBaseRepository(pool),
		Chunks:    repository.NewChunkRepository(pool),
		Tx:        repository.NewTxRunner(pool),
		Store:     s3Client,
		Extractor: extract.New(0),
	}, service.Config{MaxUploadBytes: e2eMaxUploadBytes})

	router := server.NewRouter(server.RouterConfig{
		AuthValidator:        middleware.StaticKey(e2eAPIKey),
		KnowledgeBaseHandler: handlers.NewKnowledgeBaseHandler(svc),
		MaxUploadBytes:       e2eMaxUploadBytes,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
