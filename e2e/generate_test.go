package e2e

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/makeasinger/orchestrator/internal/model"
)

func TestGenerateStart_Success(t *testing.T) {
	ta := setupApp(t)

	body := `{
		"description": "a warm folk song about a harbor town",
		"lyrics": "lights on the water\nboats coming home",
		"stylePreset": "acoustic"
	}`

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/generate", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusAccepted)

	result := parseJSON(t, resp)
	if result["jobId"] == "" || result["jobId"] == nil {
		t.Error("expected non-empty 'jobId'")
	}
	if result["backend"] != "suno-wrapper" {
		t.Errorf("expected backend 'suno-wrapper', got %v", result["backend"])
	}
	if result["state"] != "dispatched" {
		t.Errorf("expected state 'dispatched', got %v", result["state"])
	}
	if result["degraded"] != false {
		t.Errorf("expected degraded false, got %v", result["degraded"])
	}
}

func TestGenerate_RunsToCompletion(t *testing.T) {
	ta := setupApp(t)

	jobID := startJob(t, ta, `{"description": "upbeat summer pop"}`)

	status := waitForState(t, ta, jobID, model.JobStateCompleted)
	if status["percent"] != float64(100) {
		t.Errorf("expected percent 100, got %v", status["percent"])
	}
	if status["ended"] != true {
		t.Errorf("expected ended true, got %v", status["ended"])
	}

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/generate/result/"+jobID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	tracks, ok := result["tracks"].([]interface{})
	if !ok {
		t.Fatal("expected 'tracks' to be an array")
	}
	if len(tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(tracks))
	}

	wantManifest := "https://r2.example/tracks/" + jobID + ".json?X-Amz-Expires=900"
	if result["manifestUrl"] != wantManifest {
		t.Errorf("expected manifestUrl %s, got %v", wantManifest, result["manifestUrl"])
	}

	first := tracks[0].(map[string]interface{})
	if first["durationSeconds"] != float64(185) {
		t.Errorf("expected durationSeconds 185, got %v", first["durationSeconds"])
	}
	if first["audioLocator"] != "https://cdn.example/trk-1.mp3" {
		t.Errorf("unexpected audioLocator %v", first["audioLocator"])
	}

	snap, err := ta.snapshots.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("expected persisted snapshot: %v", err)
	}
	if snap.State != model.JobStateCompleted {
		t.Errorf("expected persisted state completed, got %s", snap.State)
	}
}

func TestGenerateStart_NoAuth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/generate", `{"description": "song"}`, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusUnauthorized)
	assertErrorCode(t, parseJSON(t, resp), "UNAUTHORIZED")
}

func TestGenerateStart_InstrumentalWithoutDescription(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/generate", `{"instrumental": true, "lyrics": "la la"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)

	errObj := assertErrorCode(t, parseJSON(t, resp), "VALIDATION_ERROR")
	details, ok := errObj["details"].(map[string]interface{})
	if !ok {
		t.Fatal("expected field details in error")
	}
	if details["description"] != "a style prompt is required for instrumental tracks" {
		t.Errorf("unexpected description error: %v", details["description"])
	}
}

func TestGenerateStart_InvalidPreset(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/generate", `{"description": "song", "stylePreset": "polka"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)
	assertErrorCode(t, parseJSON(t, resp), "VALIDATION_ERROR")
}

func TestGenerateStart_InvalidBody(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/generate", `not json`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)
	assertErrorCode(t, parseJSON(t, resp), "VALIDATION_ERROR")
}

func TestGenerateStart_AllBackendsRefuse(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/generate", `{"description": "please reject this"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadGateway)

	errObj := assertErrorCode(t, parseJSON(t, resp), "DISPATCH_FAILED")
	details, ok := errObj["details"].(map[string]interface{})
	if !ok {
		t.Fatal("expected per-backend details in error")
	}
	if _, ok := details["suno-wrapper"]; !ok {
		t.Errorf("expected suno-wrapper in details, got %v", details)
	}
}

func TestGenerateResult_NotComplete(t *testing.T) {
	ta := setupApp(t)

	jobID := startJob(t, ta, `{"description": "hang around forever"}`)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/generate/result/"+jobID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)
	assertErrorCode(t, parseJSON(t, resp), "JOB_NOT_COMPLETE")
}

func TestGenerateStatus_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/generate/status/nonexistent-job-id", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusNotFound)
	assertErrorCode(t, parseJSON(t, resp), "NOT_FOUND")
}

func TestGenerateStatus_OtherRequester(t *testing.T) {
	ta := setupApp(t)

	jobID := startJob(t, ta, `{"description": "hang on a private song"}`)

	resp, err := doRequestAs(t, ta.app, "someone-else", http.MethodGet, "/api/generate/status/"+jobID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusNotFound)
}

func TestGenerateStatus_FromSnapshotStore(t *testing.T) {
	ta := setupApp(t)

	snap := model.Snapshot{
		Handle: model.JobHandle{
			ID:          "restored-job",
			ExternalID:  "w-old",
			BackendName: "suno-wrapper",
			CreatedAt:   time.Now().Add(-time.Hour),
			RequesterID: testUserID,
		},
		State: model.JobStateTimedOut,
		Error: &model.JobError{Kind: "timeout", Message: "generation is taking too long"},
	}
	if err := ta.snapshots.Save(context.Background(), snap); err != nil {
		t.Fatalf("failed to save snapshot: %v", err)
	}

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/generate/status/restored-job", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["state"] != "timed_out" {
		t.Errorf("expected state 'timed_out', got %v", result["state"])
	}
	if result["message"] != "Generation is taking too long, please try again" {
		t.Errorf("unexpected message %v", result["message"])
	}
	errObj, ok := result["error"].(map[string]interface{})
	if !ok || errObj["kind"] != "timeout" {
		t.Errorf("expected timeout error, got %v", result["error"])
	}
}

func TestGenerateCancel_DuringVerification(t *testing.T) {
	ta := setupApp(t)

	jobID := startJob(t, ta, `{"description": "captcha wall ballad"}`)
	status := waitForState(t, ta, jobID, model.JobStateAwaitingVerification)
	if status["message"] != "Verifying security..." {
		t.Errorf("expected verification message, got %v", status["message"])
	}

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/generate/cancel/"+jobID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["success"] != true {
		t.Errorf("expected success true, got %v", result["success"])
	}
	if result["state"] != "cancelled" {
		t.Errorf("expected state 'cancelled', got %v", result["state"])
	}

	// cancelling again is a no-op
	resp, err = doAuthRequest(t, ta.app, http.MethodPost, "/api/generate/cancel/"+jobID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	if parseJSON(t, resp)["state"] != "cancelled" {
		t.Error("expected job to stay cancelled")
	}

	deadline := time.Now().Add(2 * time.Second)
	for ta.wrapper.eventCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := ta.wrapper.eventCount(); n != 1 {
		t.Errorf("expected 1 cancel event at the wrapper, got %d", n)
	}
}

func TestGenerateCancel_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/generate/cancel/nonexistent-job-id", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusNotFound)
}
