package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"finadvisor/internal/database"
	"finadvisor/internal/middleware"
	"finadvisor/internal/models"
	"finadvisor/internal/services"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
)

type testEnv struct {
	app       *fiber.App
	reminders *services.ReminderService
	sessions  *services.SessionService
	gateway   *services.StaticGateway
}

func setupTestApp(t *testing.T) (*testEnv, func()) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "handlers_test.db")
	db, err := database.New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}

	audit := services.NewAuditService(db)
	reminders := services.NewReminderService(db, audit)
	sessions := services.NewSessionService(30*time.Minute, 20)
	symbols := services.NewSymbolService("nonexistent.yaml")
	intents := services.NewIntentService(symbols, 0.5)
	gateway := services.NewStaticGateway()
	advisor := services.NewAdvisorService(sessions, intents, services.NewAnalysisService(), gateway, reminders, audit)

	app := fiber.New()
	app.Get("/health", NewHealthHandler(sessions, db).Handle)

	api := app.Group("/api", middleware.UserContext())
	api.Post("/chat", NewChatHandler(advisor).Handle)

	reminderHandler := NewReminderHandler(reminders)
	api.Get("/reminders", reminderHandler.List)
	api.Post("/reminders", reminderHandler.Create)
	api.Get("/reminders/:id", reminderHandler.Get)
	api.Delete("/reminders/:id", reminderHandler.Cancel)

	env := &testEnv{app: app, reminders: reminders, sessions: sessions, gateway: gateway}
	return env, func() { db.Close() }
}

func decodeJSON(t *testing.T, body io.Reader, out interface{}) {
	t.Helper()
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("Failed to parse JSON %q: %v", data, err)
	}
}

func TestHealthHandler(t *testing.T) {
	env, cleanup := setupTestApp(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	decodeJSON(t, resp.Body, &result)

	if result["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", result["status"])
	}
	if result["database"] != "sqlite" {
		t.Errorf("Expected database 'sqlite', got %v", result["database"])
	}
	if result["timestamp"] == nil {
		t.Error("Expected 'timestamp' field in response")
	}
}

func TestChatRequiresUserHeader(t *testing.T) {
	env, cleanup := setupTestApp(t)
	defer cleanup()

	body := bytes.NewBufferString(`{"message":"hello"}`)
	req := httptest.NewRequest("POST", "/api/chat", body)
	req.Header.Set("Content-Type", "application/json")

	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", resp.StatusCode)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	env, cleanup := setupTestApp(t)
	defer cleanup()

	body := bytes.NewBufferString(`{"message":"  "}`)
	req := httptest.NewRequest("POST", "/api/chat", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "user-1")

	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}

func TestChatTurnRoundTrip(t *testing.T) {
	env, cleanup := setupTestApp(t)
	defer cleanup()

	env.gateway.SetQuote(&models.Quote{Ticker: "AAPL", Price: 189.5, AsOf: time.Now()})
	env.gateway.SetFundamentals(&models.Fundamentals{
		Ticker:      "AAPL",
		PE:          29.4,
		Sector:      "Technology",
		LastUpdated: time.Now(),
	})

	body := bytes.NewBufferString(`{"message":"What's the bull case for AAPL?"}`)
	req := httptest.NewRequest("POST", "/api/chat", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "user-1")

	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var result models.ChatResponse
	decodeJSON(t, resp.Body, &result)

	if result.SessionID == "" {
		t.Error("Expected a session ID")
	}
	if result.Disclaimer != models.Disclaimer {
		t.Errorf("Expected disclaimer on analysis response, got %q", result.Disclaimer)
	}
	if result.AnalysisType != string(models.AnalysisBullBear) {
		t.Errorf("Expected analysis_type bull_bear, got %q", result.AnalysisType)
	}
}

func TestReminderCreateListCancel(t *testing.T) {
	env, cleanup := setupTestApp(t)
	defer cleanup()

	// Create
	body := bytes.NewBufferString(`{"ticker":"AAPL","trigger":{"type":"price_below","threshold":180}}`)
	req := httptest.NewRequest("POST", "/api/reminders", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "user-1")

	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send create: %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("Expected status 201, got %d", resp.StatusCode)
	}
	var created models.ReminderResponse
	decodeJSON(t, resp.Body, &created)
	resp.Body.Close()
	if created.ID == "" || created.Status != models.StatusPending {
		t.Fatalf("Unexpected created reminder: %+v", created)
	}

	// List
	req = httptest.NewRequest("GET", "/api/reminders", nil)
	req.Header.Set("X-User-ID", "user-1")
	resp, err = env.app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send list: %v", err)
	}
	var listing struct {
		Reminders []models.ReminderResponse `json:"reminders"`
		Count     int                       `json:"count"`
	}
	decodeJSON(t, resp.Body, &listing)
	resp.Body.Close()
	if listing.Count != 1 || len(listing.Reminders) != 1 {
		t.Fatalf("Expected 1 reminder, got %+v", listing)
	}

	// Cancel
	req = httptest.NewRequest("DELETE", "/api/reminders/"+created.ID, nil)
	req.Header.Set("X-User-ID", "user-1")
	resp, err = env.app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send cancel: %v", err)
	}
	var canceled models.ReminderResponse
	decodeJSON(t, resp.Body, &canceled)
	resp.Body.Close()
	if canceled.Status != models.StatusCanceled {
		t.Errorf("Expected canceled status, got %s", canceled.Status)
	}
}

func TestReminderPurgeDeletesPermanently(t *testing.T) {
	env, cleanup := setupTestApp(t)
	defer cleanup()
	ctx := context.Background()

	created, err := env.reminders.Create(ctx, "user-1", &models.CreateReminderRequest{
		Ticker:  "AAPL",
		Trigger: models.Trigger{Type: models.TriggerPriceBelow, Threshold: 180},
	})
	if err != nil {
		t.Fatalf("Failed to create reminder: %v", err)
	}

	// A foreign user cannot purge it
	req := httptest.NewRequest("DELETE", "/api/reminders/"+created.ID+"?purge=true", nil)
	req.Header.Set("X-User-ID", "user-2")
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send foreign purge: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("Expected status 404 for foreign purge, got %d", resp.StatusCode)
	}

	// The owner can
	req = httptest.NewRequest("DELETE", "/api/reminders/"+created.ID+"?purge=true", nil)
	req.Header.Set("X-User-ID", "user-1")
	resp, err = env.app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send purge: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusNoContent {
		t.Errorf("Expected status 204, got %d", resp.StatusCode)
	}

	if _, err := env.reminders.Get(ctx, created.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected reminder gone after purge, got %v", err)
	}
}

func TestReminderCreateValidation(t *testing.T) {
	env, cleanup := setupTestApp(t)
	defer cleanup()

	body := bytes.NewBufferString(`{"ticker":"AAPL","trigger":{"type":"price_below","threshold":-5}}`)
	req := httptest.NewRequest("POST", "/api/reminders", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "user-1")

	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}

func TestReminderCancelIsolatedPerUser(t *testing.T) {
	env, cleanup := setupTestApp(t)
	defer cleanup()

	reminder, err := env.reminders.Create(context.Background(), "user-1", &models.CreateReminderRequest{
		Ticker:  "MSFT",
		Trigger: models.Trigger{Type: models.TriggerPriceAbove, Threshold: 400},
	})
	if err != nil {
		t.Fatalf("Failed to seed reminder: %v", err)
	}

	req := httptest.NewRequest("DELETE", "/api/reminders/"+reminder.ID, nil)
	req.Header.Set("X-User-ID", "user-2")
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("Expected status 404 for foreign user, got %d", resp.StatusCode)
	}
}

func TestReminderCancelAfterTriggeredConflicts(t *testing.T) {
	env, cleanup := setupTestApp(t)
	defer cleanup()

	reminder, err := env.reminders.Create(context.Background(), "user-1", &models.CreateReminderRequest{
		Ticker:  "TSLA",
		Trigger: models.Trigger{Type: models.TriggerPriceAbove, Threshold: 300},
	})
	if err != nil {
		t.Fatalf("Failed to seed reminder: %v", err)
	}
	if _, err := env.reminders.Transition(context.Background(), reminder.ID, 1, models.StatusActive, models.AuditActorEvaluator, services.TransitionFields{}); err != nil {
		t.Fatalf("Failed to activate: %v", err)
	}
	if _, err := env.reminders.Transition(context.Background(), reminder.ID, 2, models.StatusTriggered, models.AuditActorEvaluator, services.TransitionFields{}); err != nil {
		t.Fatalf("Failed to trigger: %v", err)
	}

	req := httptest.NewRequest("DELETE", "/api/reminders/"+reminder.ID, nil)
	req.Header.Set("X-User-ID", "user-1")
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusConflict {
		t.Errorf("Expected status 409 after trigger, got %d", resp.StatusCode)
	}
}
