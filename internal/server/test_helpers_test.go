package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/matebook/internal/auth"
	"github.com/MarcoPoloResearchLab/matebook/internal/database"
	"github.com/MarcoPoloResearchLab/matebook/internal/media"
	"github.com/MarcoPoloResearchLab/matebook/internal/students"
	"github.com/MarcoPoloResearchLab/matebook/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// pngHeader is enough of a PNG file for content sniffing.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type testEnvironment struct {
	handler  http.Handler
	gateway  *database.Gateway
	users    *users.Service
	mediaDir string
}

func newTestEnvironment(t *testing.T, logger *zap.Logger) *testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if logger == nil {
		logger = zap.NewNop()
	}

	root := t.TempDir()
	gateway, err := database.Open(context.Background(), database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(root, "matebook.db"),
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open gateway: %v", err)
	}
	t.Cleanup(func() {
		_ = gateway.Close()
	})
	if err := database.Migrate(gateway.DB(), zap.NewNop()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	usersService, err := users.NewService(users.ServiceConfig{Runner: gateway, Logger: logger})
	if err != nil {
		t.Fatalf("failed to create users service: %v", err)
	}
	studentsService, err := students.NewService(students.ServiceConfig{Runner: gateway, Logger: logger})
	if err != nil {
		t.Fatalf("failed to create students service: %v", err)
	}
	mediaDir := filepath.Join(root, "avatars")
	store, err := media.NewLocalStore(media.LocalStoreConfig{Dir: mediaDir, BaseURL: "/media/avatars", MaxBytes: 1024})
	if err != nil {
		t.Fatalf("failed to create media store: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "matebook-auth",
		Audience:      "matebook-api",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to create token issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager:    issuer,
		UsersService:    usersService,
		StudentsService: studentsService,
		Media:           store,
		Database:        gateway,
		Logger:          logger,
		MediaRoute:      "/media/avatars",
		MediaDir:        mediaDir,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return &testEnvironment{handler: handler, gateway: gateway, users: usersService, mediaDir: mediaDir}
}

func (e *testEnvironment) do(t *testing.T, request *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, request)
	return recorder
}

// login registers an account and returns a bearer header value for it.
func (e *testEnvironment) login(t *testing.T) string {
	t.Helper()
	if _, err := e.users.Create(context.Background(), users.UserCreate{Username: "editor", Password: "editor-pass"}); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	form := url.Values{"username": {"editor"}, "password": {"editor-pass"}}
	request := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", strings.NewReader(form.Encode()))
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	recorder := e.do(t, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var token tokenResponsePayload
	decodeBody(t, recorder, &token)
	return "Bearer " + token.AccessToken
}

type formFile struct {
	name    string
	content []byte
}

func newMultipartRequest(t *testing.T, method, target, bearer string, fields map[string]string, file *formFile) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field failed: %v", err)
		}
	}
	if file != nil {
		part, err := writer.CreateFormFile(avatarFormField, file.name)
		if err != nil {
			t.Fatalf("create form file failed: %v", err)
		}
		if _, err := part.Write(file.content); err != nil {
			t.Fatalf("write form file failed: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer failed: %v", err)
	}
	request := httptest.NewRequest(method, target, body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	if bearer != "" {
		request.Header.Set("Authorization", bearer)
	}
	return request
}

func newJSONRequest(t *testing.T, method, target, bearer string, payload any) *http.Request {
	t.Helper()
	encoded, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	request := httptest.NewRequest(method, target, bytes.NewReader(encoded))
	request.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		request.Header.Set("Authorization", bearer)
	}
	return request
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("decode failed: %v (%s)", err, recorder.Body.String())
	}
}
