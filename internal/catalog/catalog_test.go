package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "k" {
			t.Errorf("missing api key")
		}
		if r.URL.Query().Get("sort") != "popularity" {
			t.Errorf("missing popularity sort")
		}
		fmt.Fprint(w, `{"items":[
			{"family":"Roboto","category":"sans-serif","files":{"regular":"https://fonts.example/roboto.ttf"}},
			{"family":"","category":"serif"},
			{"family":"Lora","category":"serif","files":{"regular":"https://fonts.example/lora.ttf"}}
		]}`)
	}))
	defer srv.Close()

	c := NewClient("k", 5*time.Second)
	c.baseURL = srv.URL

	fonts, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(fonts) != 2 {
		t.Fatalf("nameless entries should be dropped, got %d fonts", len(fonts))
	}
	if fonts[0].Name != "Roboto" || fonts[0].Source != SourceName || fonts[0].Files["regular"] == "" {
		t.Fatalf("unexpected font: %+v", fonts[0])
	}
}

func TestListRequiresKey(t *testing.T) {
	c := NewClient("", 0)
	if _, err := c.List(context.Background()); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestListAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient("k", 5*time.Second)
	c.baseURL = srv.URL
	if _, err := c.List(context.Background()); err == nil {
		t.Fatal("expected error for 403")
	}
}
