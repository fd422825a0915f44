package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/typelark/fontdex/models"
)

type fakeSearcher struct {
	resp       models.SearchResponse
	err        error
	gotMessage string
	gotHistory []models.ChatMessage
}

func (f *fakeSearcher) Search(_ context.Context, message string, history []models.ChatMessage) (models.SearchResponse, error) {
	f.gotMessage = message
	f.gotHistory = history
	return f.resp, f.err
}

func doSearch(t *testing.T, h *SearchHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.search(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestSearchHandler(t *testing.T) {
	fake := &fakeSearcher{resp: models.SearchResponse{
		Reply: "Try these.",
		Fonts: []models.FontSuggestion{{Name: "Lora", Desc: "A serif."}},
	}}
	h := &SearchHandler{Orch: fake}

	rec := doSearch(t, h, `{"message":"literary serif","history":[{"role":"user","text":"hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp models.SearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Reply != "Try these." || len(resp.Fonts) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if fake.gotMessage != "literary serif" || len(fake.gotHistory) != 1 {
		t.Fatalf("request not forwarded: %q %v", fake.gotMessage, fake.gotHistory)
	}
}

func TestSearchHandlerRejectsBlankMessage(t *testing.T) {
	h := &SearchHandler{Orch: &fakeSearcher{}}
	rec := doSearch(t, h, `{"message":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSearchHandlerRejectsBadJSON(t *testing.T) {
	h := &SearchHandler{Orch: &fakeSearcher{}}
	rec := doSearch(t, h, `{`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSearchHandlerPipelineError(t *testing.T) {
	h := &SearchHandler{Orch: &fakeSearcher{err: errors.New("embed query: all producers down")}}
	rec := doSearch(t, h, `{"message":"anything"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
