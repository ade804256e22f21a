package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/subtitle-engine/internal/config"
	"github.com/snarg/subtitle-engine/internal/database"
	"github.com/snarg/subtitle-engine/internal/events"
	"github.com/snarg/subtitle-engine/internal/pipeline"
	"github.com/snarg/subtitle-engine/internal/storage"
	"github.com/snarg/subtitle-engine/internal/subtitle"
	"github.com/snarg/subtitle-engine/internal/transcribe"
	"github.com/snarg/subtitle-engine/internal/transliterate"
)

const (
	aliceToken = "tok-alice"
	bobToken   = "tok-bob"
	subID      = "3f2504e0-4f89-11d3-9a0c-0305e82c3301"
	missingID  = "00000000-0000-0000-0000-000000000001"
)

// mockPipeline records the last call and returns canned results.
type mockPipeline struct {
	lastUser     string
	lastFilename string
	lastAudioLen int
	lastTitle    string
	text         string
	transErr     error
	sub          *subtitle.Subtitle
	translitErr  error
}

func (m *mockPipeline) Transcribe(ctx context.Context, userID, filename string, data []byte) (string, error) {
	m.lastUser, m.lastFilename, m.lastAudioLen = userID, filename, len(data)
	return m.text, m.transErr
}

func (m *mockPipeline) Transliterate(ctx context.Context, userID, title, transcript string) (*subtitle.Subtitle, error) {
	m.lastUser, m.lastTitle = userID, title
	if m.translitErr != nil {
		return nil, m.translitErr
	}
	return m.sub, nil
}

// memStore mirrors the ownership rules of the database layer.
type memStore struct {
	mu   sync.Mutex
	rows map[string]*subtitle.Subtitle
}

func (s *memStore) ListSubtitles(ctx context.Context, userID string) ([]subtitle.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []subtitle.Summary{}
	for _, r := range s.rows {
		if r.UserID == userID {
			out = append(out, subtitle.Summary{ID: r.ID, Title: r.Title, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt})
		}
	}
	return out, nil
}

func (s *memStore) GetSubtitle(ctx context.Context, id, userID string) (*subtitle.Subtitle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok || r.UserID != userID {
		return nil, database.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) ReplaceSubtitle(ctx context.Context, id, userID, title string, content []subtitle.Segment) (*subtitle.Subtitle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	if r.UserID != userID {
		return nil, database.ErrForbidden
	}
	r.Title, r.Content, r.UpdatedAt = title, content, time.Now()
	cp := *r
	return &cp, nil
}

func (s *memStore) DeleteSubtitle(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok || r.UserID != userID {
		return database.ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

type mockPinger struct{ err error }

func (m mockPinger) HealthCheck(ctx context.Context) error { return m.err }

type recordedEvents struct {
	mu  sync.Mutex
	all []events.Event
}

func (r *recordedEvents) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, e)
}

type testEnv struct {
	handler  http.Handler
	pipeline *mockPipeline
	store    *memStore
	events   *recordedEvents
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		pipeline: &mockPipeline{},
		store: &memStore{rows: map[string]*subtitle.Subtitle{
			subID: {
				ID:     subID,
				UserID: "alice",
				Title:  "My Video!",
				Content: []subtitle.Segment{
					{Index: 2, StartTime: 5, EndTime: 5.95, Text: "எப்படி இருக்கிங்க?", Transliterated: "Eppadi irukkinga?"},
					{Index: 1, StartTime: 0, EndTime: 0.45, Text: "வணக்கம்.", Transliterated: "Vanakkam."},
				},
			},
		}},
		events: &recordedEvents{},
	}
	srv := NewServer(ServerOptions{
		Config:    &config.Config{HTTPAddr: ":0", MaxUploadSize: 1 << 20},
		DB:        mockPinger{},
		Auth:      staticAuth{aliceToken: "alice", bobToken: "bob"},
		Pipeline:  env.pipeline,
		Subtitles: env.store,
		Events:    env.events,
		Version:   "test",
		StartTime: time.Now(),
		Log:       zerolog.Nop(),
	})
	env.handler = srv.Handler()
	return env
}

func (e *testEnv) do(method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doJSON(method, path, token, body string) *httptest.ResponseRecorder {
	return e.do(method, path, token, strings.NewReader(body), "application/json")
}

func buildMultipartForm(t *testing.T, fields map[string]string, fileField string, fileData []byte, fileName string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		writer.WriteField(k, v)
	}
	if fileData != nil && fileField != "" {
		part, err := writer.CreateFormFile(fileField, fileName)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(fileData)
	}
	writer.Close()
	return body, writer.FormDataContentType()
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not valid JSON: %v (%s)", err, rec.Body.String())
	}
	return body
}

// ── health / metrics ─────────────────────────────────────────────────

func TestHealth_NoAuth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do("GET", "/api/v1/health", "", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body HealthResponse
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Checks["database"] != "ok" || body.Checks["mqtt"] != "not_configured" {
		t.Errorf("checks = %v", body.Checks)
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	h := NewHealthHandler(mockPinger{err: errors.New("down")}, nil, "local", "test", time.Now())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do("GET", "/metrics", "", nil, "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t)
	routes := []struct{ method, path string }{
		{"POST", "/api/v1/transcribe"},
		{"POST", "/api/v1/transliterate"},
		{"GET", "/api/v1/subtitles"},
		{"GET", "/api/v1/subtitles/" + subID},
		{"PUT", "/api/v1/subtitles/" + subID},
		{"DELETE", "/api/v1/subtitles/" + subID},
		{"GET", "/api/v1/subtitles/" + subID + "/export"},
	}
	for _, rt := range routes {
		rec := env.do(rt.method, rt.path, "", nil, "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", rt.method, rt.path, rec.Code)
		}
	}
	if len(env.store.rows) != 1 {
		t.Error("unauthenticated request mutated the store")
	}
}

// ── transcribe ───────────────────────────────────────────────────────

func TestTranscribe_Success(t *testing.T) {
	env := newTestEnv(t)
	env.pipeline.text = "வணக்கம். எப்படி இருக்கிங்க?"

	body, ct := buildMultipartForm(t, nil, "audio", []byte("fake-audio-data"), "clip.mp3")
	rec := env.do("POST", "/api/v1/transcribe", aliceToken, body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp transcribeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Transcription != env.pipeline.text {
		t.Errorf("transcription = %q", resp.Transcription)
	}
	if resp.Title != "Untitled" {
		t.Errorf("title = %q, want Untitled", resp.Title)
	}
	if env.pipeline.lastUser != "alice" || env.pipeline.lastFilename != "clip.mp3" || env.pipeline.lastAudioLen != 15 {
		t.Errorf("pipeline called with user=%q file=%q len=%d", env.pipeline.lastUser, env.pipeline.lastFilename, env.pipeline.lastAudioLen)
	}
}

func TestTranscribe_TitlePassedThrough(t *testing.T) {
	env := newTestEnv(t)
	body, ct := buildMultipartForm(t, map[string]string{"title": "Episode 1"}, "audio", []byte("x"), "a.wav")
	rec := env.do("POST", "/api/v1/transcribe", aliceToken, body, ct)
	var resp transcribeResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Title != "Episode 1" {
		t.Errorf("title = %q, want Episode 1", resp.Title)
	}
}

func TestTranscribe_NoAudioFile(t *testing.T) {
	env := newTestEnv(t)
	body, ct := buildMultipartForm(t, map[string]string{"title": "x"}, "", nil, "")
	rec := env.do("POST", "/api/v1/transcribe", aliceToken, body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if b := decodeError(t, rec); b.Error != "No audio file provided" || b.Code != ErrValidation {
		t.Errorf("body = %+v", b)
	}
}

func TestTranscribe_NotMultipart(t *testing.T) {
	env := newTestEnv(t)
	rec := env.doJSON("POST", "/api/v1/transcribe", aliceToken, `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestTranscribe_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unsupported_format", fmt.Errorf("%w: %q", storage.ErrUnsupportedFormat, ".txt"), http.StatusBadRequest, ErrValidation},
		{"storage_write", &storage.WriteError{Key: "k", Err: errors.New("s3: AccessDenied secret-bucket")}, http.StatusBadGateway, ErrUpstream},
		{"recognition_failed", &transcribe.FailedError{JobName: "j", Status: transcribe.StatusFailed, Reason: "bad media"}, http.StatusBadGateway, ErrUpstream},
		{"recognition_upstream", &transcribe.UpstreamError{JobName: "j", Stage: "poll", Err: errors.New("throttled")}, http.StatusBadGateway, ErrUpstream},
		{"recognition_timeout", fmt.Errorf("%w: job j", transcribe.ErrTimeout), http.StatusGatewayTimeout, ErrUpstreamTimeout},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.pipeline.transErr = tt.err
			body, ct := buildMultipartForm(t, nil, "audio", []byte("x"), "a.mp3")
			rec := env.do("POST", "/api/v1/transcribe", aliceToken, body, ct)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			b := decodeError(t, rec)
			if b.Code != tt.code {
				t.Errorf("code = %q, want %q", b.Code, tt.code)
			}
			if strings.Contains(b.Error, "secret-bucket") || strings.Contains(b.Error, "bad media") {
				t.Errorf("internal detail leaked: %q", b.Error)
			}
		})
	}
}

func TestTranscribe_TooLarge(t *testing.T) {
	env := newTestEnv(t)
	body, ct := buildMultipartForm(t, nil, "audio", bytes.Repeat([]byte("x"), 2<<20), "a.mp3")
	rec := env.do("POST", "/api/v1/transcribe", aliceToken, body, ct)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

// ── transliterate ────────────────────────────────────────────────────

func TestTransliterate_Success(t *testing.T) {
	env := newTestEnv(t)
	env.pipeline.sub = &subtitle.Subtitle{
		ID: "new-id",
		Content: []subtitle.Segment{
			{Index: 1, StartTime: 0, EndTime: 0.45, Text: "வணக்கம்.", Transliterated: "Vanakkam."},
		},
	}
	rec := env.doJSON("POST", "/api/v1/transliterate", aliceToken, `{"transcription":"வணக்கம்.","title":" Demo "}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ID        string             `json:"id"`
		Subtitles []subtitle.Segment `json:"subtitles"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ID != "new-id" || len(resp.Subtitles) != 1 || resp.Subtitles[0].Transliterated != "Vanakkam." {
		t.Errorf("response = %+v", resp)
	}
	if env.pipeline.lastTitle != "Demo" || env.pipeline.lastUser != "alice" {
		t.Errorf("pipeline called with title=%q user=%q", env.pipeline.lastTitle, env.pipeline.lastUser)
	}
}

func TestTransliterate_Validation(t *testing.T) {
	env := newTestEnv(t)
	for _, body := range []string{`{}`, `{"transcription":"   "}`, `{bad`} {
		rec := env.doJSON("POST", "/api/v1/transliterate", aliceToken, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestTransliterate_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{&transliterate.FailedError{SegmentIndex: 2, Err: errors.New("500")}, http.StatusBadGateway},
		{pipeline.ErrEmptyTranscript, http.StatusBadRequest},
		{errors.New("insert: connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		env := newTestEnv(t)
		env.pipeline.translitErr = tt.err
		rec := env.doJSON("POST", "/api/v1/transliterate", aliceToken, `{"transcription":"a."}`)
		if rec.Code != tt.status {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.status, rec.Code)
		}
	}
}

// ── subtitles CRUD ───────────────────────────────────────────────────

func TestListSubtitles_OwnerScoped(t *testing.T) {
	env := newTestEnv(t)

	var resp struct {
		Subtitles []subtitle.Summary `json:"subtitles"`
	}
	rec := env.do("GET", "/api/v1/subtitles", aliceToken, nil, "")
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Subtitles) != 1 || resp.Subtitles[0].ID != subID {
		t.Errorf("alice list = %+v", resp.Subtitles)
	}

	rec = env.do("GET", "/api/v1/subtitles", bobToken, nil, "")
	if !strings.Contains(rec.Body.String(), `"subtitles":[]`) {
		t.Errorf("bob list = %s, want empty array", rec.Body.String())
	}
}

func TestGetSubtitle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("GET", "/api/v1/subtitles/"+subID, aliceToken, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Subtitle subtitle.Subtitle `json:"subtitle"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Subtitle.Title != "My Video!" || len(resp.Subtitle.Content) != 2 {
		t.Errorf("subtitle = %+v", resp.Subtitle)
	}

	if rec := env.do("GET", "/api/v1/subtitles/"+subID, bobToken, nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("other user: expected 404, got %d", rec.Code)
	}
	if rec := env.do("GET", "/api/v1/subtitles/"+missingID, aliceToken, nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing: expected 404, got %d", rec.Code)
	}
	if rec := env.do("GET", "/api/v1/subtitles/not-a-uuid", aliceToken, nil, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", rec.Code)
	}
}

func TestReplaceSubtitle(t *testing.T) {
	env := newTestEnv(t)
	body := `{"title":"Renamed","content":[{"index":1,"startTime":0,"endTime":1,"text":"a","transliterated":"b"}]}`

	rec := env.doJSON("PUT", "/api/v1/subtitles/"+subID, aliceToken, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := env.store.rows[subID]
	if got.Title != "Renamed" || len(got.Content) != 1 {
		t.Errorf("stored = %+v", got)
	}
	if len(env.events.all) != 1 || env.events.all[0].Action != events.Updated {
		t.Errorf("events = %+v", env.events.all)
	}

	// idempotent
	rec = env.doJSON("PUT", "/api/v1/subtitles/"+subID, aliceToken, body)
	if rec.Code != http.StatusOK {
		t.Errorf("repeat: expected 200, got %d", rec.Code)
	}
}

func TestReplaceSubtitle_Rejections(t *testing.T) {
	valid := `{"title":"x","content":[]}`
	tests := []struct {
		name   string
		token  string
		id     string
		body   string
		status int
	}{
		{"other_user_forbidden", bobToken, subID, valid, http.StatusForbidden},
		{"missing", aliceToken, missingID, valid, http.StatusNotFound},
		{"content_not_array", aliceToken, subID, `{"title":"x","content":{"index":1}}`, http.StatusBadRequest},
		{"content_missing", aliceToken, subID, `{"title":"x"}`, http.StatusBadRequest},
		{"title_missing", aliceToken, subID, `{"content":[]}`, http.StatusBadRequest},
		{"invalid_segment", aliceToken, subID, `{"title":"x","content":[{"index":0,"startTime":0,"endTime":1}]}`, http.StatusBadRequest},
		{"zero_duration_segment", aliceToken, subID, `{"title":"x","content":[{"index":1,"startTime":2,"endTime":2}]}`, http.StatusBadRequest},
		{"segment_index_gap", aliceToken, subID, `{"title":"x","content":[{"index":1,"startTime":0,"endTime":1},{"index":3,"startTime":5,"endTime":6}]}`, http.StatusBadRequest},
		{"segment_start_decreasing", aliceToken, subID, `{"title":"x","content":[{"index":1,"startTime":9,"endTime":10},{"index":2,"startTime":1,"endTime":2}]}`, http.StatusBadRequest},
		{"bad_id", aliceToken, "abc", valid, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.doJSON("PUT", "/api/v1/subtitles/"+tt.id, tt.token, tt.body)
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if env.store.rows[subID].Title != "My Video!" {
				t.Error("rejected request mutated the subtitle")
			}
			if len(env.events.all) != 0 {
				t.Errorf("unexpected events: %+v", env.events.all)
			}
		})
	}
}

func TestDeleteSubtitle(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do("DELETE", "/api/v1/subtitles/"+subID, bobToken, nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("other user: expected 404, got %d", rec.Code)
	}

	rec := env.do("DELETE", "/api/v1/subtitles/"+subID, aliceToken, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"success":true}` {
		t.Errorf("body = %s", rec.Body.String())
	}
	if len(env.events.all) != 1 || env.events.all[0].Action != events.Deleted {
		t.Errorf("events = %+v", env.events.all)
	}

	if rec := env.do("DELETE", "/api/v1/subtitles/"+subID, aliceToken, nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", rec.Code)
	}
}

// ── export ───────────────────────────────────────────────────────────

func TestExportSubtitle(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do("GET", "/api/v1/subtitles/"+subID+"/export", aliceToken, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="my_video_.srt"` {
		t.Errorf("Content-Disposition = %q", cd)
	}
	want := "1\n00:00:00,000 --> 00:00:00,450\nVanakkam.\n\n2\n00:00:05,000 --> 00:00:05,950\nEppadi irukkinga?\n"
	if rec.Body.String() != want {
		t.Errorf("body = %q, want %q", rec.Body.String(), want)
	}
}

func TestExportSubtitle_OtherUser(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do("GET", "/api/v1/subtitles/"+subID+"/export", bobToken, nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

// slowPipeline blocks Transcribe until its context is cancelled, then
// simulates blob cleanup before returning.
type slowPipeline struct {
	mockPipeline
	started chan struct{}
	cleaned chan struct{}
}

func (p *slowPipeline) Transcribe(ctx context.Context, userID, filename string, data []byte) (string, error) {
	close(p.started)
	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)
	close(p.cleaned)
	return "", ctx.Err()
}

func TestShutdown_CancelsAndDrainsInFlightRequests(t *testing.T) {
	pipe := &slowPipeline{started: make(chan struct{}), cleaned: make(chan struct{})}
	srv := NewServer(ServerOptions{
		Config:    &config.Config{MaxUploadSize: 1 << 20, ShutdownGrace: 20 * time.Millisecond},
		DB:        mockPinger{},
		Auth:      staticAuth{aliceToken: "alice"},
		Pipeline:  pipe,
		Subtitles: &memStore{rows: map[string]*subtitle.Subtitle{}},
		Events:    &recordedEvents{},
		Log:       zerolog.Nop(),
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	body, ct := buildMultipartForm(t, nil, "audio", []byte("fake-audio-data"), "clip.mp3")
	req, err := http.NewRequest("POST", "http://"+ln.Addr().String()+"/api/v1/transcribe", body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+aliceToken)
	go func() {
		if resp, err := http.DefaultClient.Do(req); err == nil {
			resp.Body.Close()
		}
	}()

	select {
	case <-pipe.started:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the pipeline")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case <-pipe.cleaned:
	default:
		t.Fatal("Shutdown returned before the in-flight request finished its cleanup")
	}
	if err := <-served; err != nil {
		t.Errorf("Serve: %v", err)
	}
}
