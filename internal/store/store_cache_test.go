package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/typelark/fontdex/models"
)

func TestLookupCachedResponseHit(t *testing.T) {
	st, mock, done := newMock(t)
	defer done()

	mock.ExpectQuery("FROM query_cache").
		WithArgs("[1,0]", 2).
		WillReturnRows(sqlmock.NewRows([]string{"response", "confidence"}).
			AddRow([]byte(`{"reply":"Try these.","fonts":[{"name":"Inter"}]}`), 0.97))

	resp, hit, err := st.LookupCachedResponse(context.Background(), []float32{1, 0}, 0.95)
	if err != nil {
		t.Fatalf("LookupCachedResponse: %v", err)
	}
	if !hit {
		t.Fatal("expected cache hit")
	}
	if resp.Reply != "Try these." || len(resp.Fonts) != 1 || resp.Fonts[0].Name != "Inter" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestLookupCachedResponseBelowThresholdIsMiss(t *testing.T) {
	st, mock, done := newMock(t)
	defer done()

	mock.ExpectQuery("FROM query_cache").
		WithArgs("[1,0]", 2).
		WillReturnRows(sqlmock.NewRows([]string{"response", "confidence"}).
			AddRow([]byte(`{"reply":"stale"}`), 0.90))

	_, hit, err := st.LookupCachedResponse(context.Background(), []float32{1, 0}, 0.95)
	if err != nil {
		t.Fatalf("LookupCachedResponse: %v", err)
	}
	if hit {
		t.Fatal("near miss must not be served")
	}
}

func TestLookupCachedResponseEmptyTable(t *testing.T) {
	st, mock, done := newMock(t)
	defer done()

	mock.ExpectQuery("FROM query_cache").
		WithArgs("[1,0]", 2).
		WillReturnRows(sqlmock.NewRows([]string{"response", "confidence"}))

	_, hit, err := st.LookupCachedResponse(context.Background(), []float32{1, 0}, 0.95)
	if err != nil {
		t.Fatalf("LookupCachedResponse: %v", err)
	}
	if hit {
		t.Fatal("expected miss on empty cache")
	}
}

func TestSaveCachedResponse(t *testing.T) {
	st, mock, done := newMock(t)
	defer done()

	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO query_cache (query_text, embedding, embedding_dim, response, created_at)
VALUES ($1,$2::vector,$3,$4,NOW())
`)).
		WithArgs("vintage poster font", "[1,0]", 2, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	resp := models.SearchResponse{Reply: "Try these."}
	if err := st.SaveCachedResponse(context.Background(), "vintage poster font", []float32{1, 0}, resp); err != nil {
		t.Fatalf("SaveCachedResponse: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPruneCacheBefore(t *testing.T) {
	st, mock, done := newMock(t)
	defer done()

	cutoff := time.Now().Add(-24 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM query_cache WHERE created_at < $1`)).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := st.PruneCacheBefore(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("PruneCacheBefore: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 pruned rows, got %d", n)
	}
}
