package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/orchestrator/internal/auth"
	"github.com/makeasinger/orchestrator/internal/client"
	"github.com/makeasinger/orchestrator/internal/config"
	"github.com/makeasinger/orchestrator/internal/generation"
	"github.com/makeasinger/orchestrator/internal/handler"
	"github.com/makeasinger/orchestrator/internal/middleware"
	"github.com/makeasinger/orchestrator/internal/model"
	"github.com/makeasinger/orchestrator/internal/store"
	ws "github.com/makeasinger/orchestrator/internal/websocket"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	testUserID    = "test-user-123"
)

const completedStatus = `{"status":"completed","tracks":[
	{"id":"trk-1","title":"Harbor Lights","duration":"3:05","audio_url":"https://cdn.example/trk-1.mp3","metadata":{"style":"acoustic"}},
	{"id":"trk-2","title":"Harbor Lights (take 2)","duration":183,"download_url":"https://cdn.example/trk-2.mp3"}
]}`

// fakeWrapper stands in for the browser-automation wrapper. The prompt picks
// the scenario: "reject" refuses the job, "hang" never finishes and
// "captcha" stays on the verification checkpoint.
type fakeWrapper struct {
	mu      sync.Mutex
	prompts map[string]string
	polls   map[string]int
	events  []map[string]interface{}
	next    int
}

func (f *fakeWrapper) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/health":
		w.Write([]byte(`{"status":"ok"}`))

	case r.Method == http.MethodPost && r.URL.Path == "/generate-music":
		var body struct {
			Prompt string `json:"prompt"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if strings.Contains(body.Prompt, "reject") {
			w.Write([]byte(`{"success":false,"error":"no browser session available"}`))
			return
		}
		f.next++
		id := fmt.Sprintf("w-%d", f.next)
		f.prompts[id] = body.Prompt
		fmt.Fprintf(w, `{"success":true,"jobId":%q}`, id)

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/status/"):
		id := strings.TrimPrefix(r.URL.Path, "/status/")
		f.polls[id]++
		prompt := f.prompts[id]
		switch {
		case strings.Contains(prompt, "captcha"):
			w.Write([]byte(`{"status":"captcha_required"}`))
		case strings.Contains(prompt, "hang"), f.polls[id] < 2:
			w.Write([]byte(`{"status":"processing"}`))
		default:
			w.Write([]byte(completedStatus))
		}

	case r.Method == http.MethodPost && r.URL.Path == "/event":
		var event map[string]interface{}
		json.NewDecoder(r.Body).Decode(&event)
		f.events = append(f.events, event)
		w.Write([]byte(`{"received":true}`))

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeWrapper) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

// testApp holds all components needed for testing
type testApp struct {
	app       *fiber.App
	manager   *generation.Manager
	snapshots *store.SnapshotStore
	wrapper   *fakeWrapper
}

// setupApp wires the app like main.go, against miniredis and a fake wrapper.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	wrapper := &fakeWrapper{prompts: map[string]string{}, polls: map[string]int{}}
	wrapperServer := httptest.NewServer(wrapper)
	t.Cleanup(wrapperServer.Close)

	wrapperCfg := &config.WrapperConfig{
		Enabled:     true,
		BaseURL:     wrapperServer.URL,
		Timeout:     5,
		HealthCheck: true,
	}
	wrapperClient := client.NewWrapperClient(wrapperCfg)

	registry, err := generation.NewRegistry(wrapperClient.Descriptor(wrapperCfg))
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := ws.NewHub()
	go hub.Run(ctx)

	manager := generation.NewManager(registry, nil, nil, generation.ManagerConfig{
		Poller: generation.PollerConfig{
			Interval:        5 * time.Millisecond,
			TickBudget:      2000,
			TransientBudget: 3,
		},
	})
	t.Cleanup(manager.Shutdown)

	snapshots := store.NewSnapshotStore(redisClient, time.Hour)
	manager.OnTransition(snapshots.Hook())
	manager.OnTransition(hub.Hook(func(snap model.Snapshot) generation.Progress {
		return manager.Project(snap, time.Now())
	}))

	generateHandler := handler.NewGenerateHandler(manager, snapshots, hub, 2*time.Second).
		WithManifests(fakeManifestSigner{}, 15*time.Minute)
	authHandler := handler.NewAuthHandler(nil, testJWTSecret)
	authMiddleware := middleware.NewAuthMiddleware(nil, testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		backends := fiber.Map{}
		for _, d := range registry.Ordered() {
			backends[d.Name] = fiber.Map{"priority": d.Priority, "degraded": d.Degraded}
		}
		return c.JSON(fiber.Map{"status": "ok", "backends": backends})
	})
	app.Get("/auth/verify", authHandler.Verify)

	api := app.Group("/api", authMiddleware.Authenticate())

	// Use a very high rate limit so tests don't get blocked
	generate := api.Group("/generate")
	generate.Post("/", rateLimiter.GenerateLimit(10000), generateHandler.Start)
	generate.Get("/status/:jobId", generateHandler.Status)
	generate.Get("/result/:jobId", generateHandler.Result)
	generate.Post("/cancel/:jobId", generateHandler.Cancel)

	return &testApp{app: app, manager: manager, snapshots: snapshots, wrapper: wrapper}
}

// fakeManifestSigner stands in for R2 presigning
type fakeManifestSigner struct{}

func (fakeManifestSigner) SignedURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	return fmt.Sprintf("https://r2.example/%s?X-Amz-Expires=%d", key, int(expiry.Seconds())), nil
}

// generateToken creates an HMAC JWT token for test requests.
func generateToken(t *testing.T, userID string) string {
	t.Helper()
	signed, err := auth.IssueToken(userID, "test@example.com", testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs a request authenticated as the default test user.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequestAs(t, app, testUserID, method, path, body)
}

// doRequestAs performs a request authenticated as userID.
func doRequestAs(t *testing.T, app *fiber.App, userID, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t, userID),
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// assertErrorCode checks the code of an error envelope.
func assertErrorCode(t *testing.T, result map[string]interface{}, expected string) map[string]interface{} {
	t.Helper()
	errObj, ok := result["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error object in response, got %v", result)
	}
	if errObj["code"] != expected {
		t.Errorf("expected error code %s, got %v", expected, errObj["code"])
	}
	return errObj
}

// startJob submits a generation and returns its job id.
func startJob(t *testing.T, ta *testApp, body string) string {
	t.Helper()
	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/generate", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", resp.StatusCode, readBody(t, resp))
	}
	result := parseJSON(t, resp)
	jobID, _ := result["jobId"].(string)
	if jobID == "" {
		t.Fatal("expected 'jobId' in response")
	}
	return jobID
}

// waitForState polls the status endpoint until the job reaches state.
func waitForState(t *testing.T, ta *testApp, jobID string, state model.JobState) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last map[string]interface{}
	for time.Now().Before(deadline) {
		resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/generate/status/"+jobID, "")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		last = parseJSON(t, resp)
		if last["state"] == string(state) {
			return last
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s, last status: %v", jobID, state, last)
	return nil
}
