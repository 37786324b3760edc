package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sosbrian/microsoft-teams-apps-company-communicator-sub002/internal/domain"
)

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
		wantLevel   zapcore.Level
	}{
		{
			name:        "fiber error keeps its code",
			err:         fiber.NewError(fiber.StatusBadRequest, "invalid request body"),
			wantStatus:  fiber.StatusBadRequest,
			wantMessage: "invalid request body",
			wantLevel:   zapcore.WarnLevel,
		},
		{
			name:        "wrapped not found",
			err:         fmt.Errorf("lookup: %w", domain.ErrNotFound),
			wantStatus:  fiber.StatusNotFound,
			wantMessage: "lookup: not found",
			wantLevel:   zapcore.WarnLevel,
		},
		{
			name:        "conflict",
			err:         domain.ErrConflict,
			wantStatus:  fiber.StatusConflict,
			wantMessage: "conflict",
			wantLevel:   zapcore.WarnLevel,
		},
		{
			name:        "validation",
			err:         fmt.Errorf("%w: title is required", domain.ErrValidation),
			wantStatus:  fiber.StatusBadRequest,
			wantMessage: "validation failed: title is required",
			wantLevel:   zapcore.WarnLevel,
		},
		{
			name:        "unknown error hides detail",
			err:         errors.New("connection refused to 10.0.0.4"),
			wantStatus:  fiber.StatusInternalServerError,
			wantMessage: "internal server error",
			wantLevel:   zapcore.ErrorLevel,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			core, logs := observer.New(zapcore.DebugLevel)
			app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.New(core))})
			app.Get("/boom", func(c *fiber.Ctx) error { return tc.err })

			resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/boom", nil))
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}

			raw, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			var body map[string]string
			if err := json.Unmarshal(raw, &body); err != nil {
				t.Fatalf("unmarshal body %q: %v", raw, err)
			}
			if body["error"] != tc.wantMessage {
				t.Fatalf("error = %q, want %q", body["error"], tc.wantMessage)
			}

			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("log entries = %d, want 1", len(entries))
			}
			if entries[0].Level != tc.wantLevel {
				t.Fatalf("log level = %s, want %s", entries[0].Level, tc.wantLevel)
			}
		})
	}
}

func TestErrorHandlerNilLogger(t *testing.T) {
	t.Parallel()

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(nil)})
	app.Get("/boom", func(c *fiber.Ctx) error { return errors.New("boom") })

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/boom", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}
