package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/stemsplit/api/internal/auth"
	"github.com/stemsplit/api/internal/handler"
	"github.com/stemsplit/api/internal/jobstore"
	"github.com/stemsplit/api/internal/middleware"
	"github.com/stemsplit/api/internal/model"
	"github.com/stemsplit/api/internal/playback"
	"github.com/stemsplit/api/internal/projectstore"
	"github.com/stemsplit/api/internal/router"
	"github.com/stemsplit/api/internal/separator"
	"github.com/stemsplit/api/internal/service"
	"github.com/stemsplit/api/internal/storage"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	testNamespace = "htdemucs"
	// seconds of audio produced by the fake decoder
	testTrackSeconds = 2
)

// fakeRunner writes the four stems the way demucs lays them out.
type fakeRunner struct {
	fail bool
}

func (r *fakeRunner) Run(ctx context.Context, inputPath, outputDir string, onLine separator.LineFunc) error {
	if r.fail {
		onLine("RuntimeError: CUDA out of memory")
		return fmt.Errorf("exit status 1")
	}
	onLine("Separating track " + inputPath)
	onLine(" 50%|█████     | 5.85/11.7 [00:02<00:02,  2.5seconds/s]")

	dir := filepath.Join(outputDir, testNamespace, separator.BaseID(filepath.Base(inputPath)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, stem := range model.SeparatedStems {
		if err := os.WriteFile(filepath.Join(dir, string(stem)+".mp3"), []byte("ID3"), 0o644); err != nil {
			return err
		}
	}
	onLine("100%|██████████| 11.7/11.7 [00:04<00:00,  2.5seconds/s]")
	return nil
}

type fixedProber float64

func (p fixedProber) Duration(context.Context, string) (float64, error) {
	return float64(p), nil
}

// silenceDecoder returns a quiet stereo buffer for any file that exists.
type silenceDecoder struct{}

func (silenceDecoder) Decode(_ context.Context, path string) (*playback.Buffer, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	samples := make([]int16, testTrackSeconds*playback.SampleRate*playback.Channels)
	for i := range samples {
		samples[i] = 100
	}
	return playback.NewBuffer(samples), nil
}

// testApp holds all components needed for testing
type testApp struct {
	app       *fiber.App
	uploadDir string
	runner    *fakeRunner
	sessions  *playback.Manager
}

// setupApp builds the same router as the server with local-only backends:
// in-memory jobs, a JSON project file, a fake separator and decoder.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	root := t.TempDir()
	uploadDir := filepath.Join(root, "uploads")
	separatedDir := filepath.Join(root, "separated")

	jobs := jobstore.NewMemoryStore(jobstore.Options{})
	projects, err := projectstore.NewFileStore(filepath.Join(root, "projects.json"))
	if err != nil {
		t.Fatalf("failed to open project store: %v", err)
	}
	mirror := storage.NewStemMirror(nil, 0)
	runner := &fakeRunner{}

	uploads := service.NewUploadService(uploadDir, 10*1024*1024)
	separation := service.NewSeparationService(service.SeparationConfig{
		UploadDir:    uploadDir,
		SeparatedDir: separatedDir,
		Namespace:    testNamespace,
		Extension:    "mp3",
	}, service.SeparationDeps{
		Jobs:     jobs,
		Projects: projects,
		Runner:   runner,
		Prober:   fixedProber(testTrackSeconds),
		Mirror:   mirror,
	})
	projectSvc := service.NewProjectService(projects, uploads, separatedDir, testNamespace, mirror)

	loader := playback.NewLoader(silenceDecoder{}, playback.NewDirResolver(map[string]string{
		service.SeparatedRoute: separatedDir,
		service.UploadsRoute:   uploadDir,
	}))
	sessions := playback.NewManager(loader, playback.ManagerConfig{
		MaxSessions: 4,
		Engine: playback.EngineOptions{
			SettleDelay:    5 * time.Millisecond,
			SampleInterval: time.Hour,
		},
	})
	t.Cleanup(sessions.CloseAll)

	authenticator := auth.NewAuthenticator(auth.NewHMACVerifier(testJWTSecret))
	validate := validator.New()

	app := router.New(router.Config{
		BodyLimit:    20 * 1024 * 1024,
		UploadDir:    uploadDir,
		SeparatedDir: separatedDir,
	}, router.Handlers{
		Upload:     handler.NewUploadHandler(uploads),
		Separation: handler.NewSeparationHandler(separation, validate),
		Projects:   handler.NewProjectHandler(projectSvc, sessions),
		Player:     handler.NewPlayerHandler(sessions, projectSvc, validate, handler.StreamConfig{}),
		Health: handler.NewHealthHandler(handler.HealthInfo{
			Auth:         "jwt",
			Queue:        "local",
			JobStore:     "memory",
			ProjectStore: "json",
			Sessions:     sessions,
		}),
		Auth:    handler.NewAuthHandler(authenticator),
		APIAuth: middleware.NewAuthMiddleware(authenticator).Authenticate(),
	})

	return &testApp{app: app, uploadDir: uploadDir, runner: runner, sessions: sessions}
}

// generateToken creates an HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	signed, err := auth.NewHMACVerifier(testJWTSecret).Sign("test-user-123", "test@example.com", time.Hour)
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

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// uploadAudio posts content as the "audio" form field with the given part content type.
func uploadAudio(t *testing.T, app *fiber.App, filename, contentType string, content []byte) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename="%s"`, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatalf("failed to create form part: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("failed to write form part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close form: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, "/api/upload", &buf)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+generateToken(t))

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	return resp
}

// uploadSong uploads a small mp3 and returns its file id.
func uploadSong(t *testing.T, app *fiber.App) string {
	t.Helper()
	resp := uploadAudio(t, app, "My Song.mp3", "audio/mpeg", []byte("ID3-fake-audio"))
	assertStatus(t, resp, http.StatusOK)
	body := parseJSON(t, resp)
	file, ok := body["file"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected 'file' in upload response, got %v", body)
	}
	return file["id"].(string)
}

// separateSong uploads and separates a song, returning the finished progress body.
func separateSong(t *testing.T, app *fiber.App) map[string]interface{} {
	t.Helper()
	fileID := uploadSong(t, app)

	resp, err := doAuthRequest(t, app, http.MethodPost, "/api/separate",
		fmt.Sprintf(`{"fileId":%q,"projectName":"My Song"}`, fileID))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	_ = readBody(t, resp)

	return waitForJob(t, app, fileID)
}

// waitForJob polls the progress endpoint until the job is terminal.
func waitForJob(t *testing.T, app *fiber.App, fileID string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := doAuthRequest(t, app, http.MethodGet, "/api/separate/"+fileID+"/progress", "")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		body := parseJSON(t, resp)
		if status := body["status"]; status == "completed" || status == "error" {
			return body
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish in time", fileID)
	return nil
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

// assertErrorCode checks the error envelope code.
func assertErrorCode(t *testing.T, body map[string]interface{}, expected string) {
	t.Helper()
	errObj, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected 'error' object in response, got %v", body)
	}
	if errObj["code"] != expected {
		t.Errorf("expected error code %q, got %v", expected, errObj["code"])
	}
}
