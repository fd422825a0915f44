package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/typelark/fontdex/models"
)

// Store wraps the Postgres connection shared by the API, the orchestrator and
// the enrichment workers.
type Store struct {
	DB *sql.DB
}

// MultimodalEmbeddingDimensions is the vector length produced by the
// multimodal embedding endpoint. Text-only fallback vectors are shorter;
// rows of different dimensionality coexist but are never compared.
const MultimodalEmbeddingDimensions = 4096

// New opens a Postgres connection with the supplied DSN and verifies it.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// FontSearchResult is a vector search hit over the catalog.
type FontSearchResult struct {
	Font       models.Font
	Confidence float64
}

// UpsertFont stores or replaces a catalog entry keyed by name, together with
// its embedding vector.
func (s *Store) UpsertFont(ctx context.Context, font models.Font, vector []float32) error {
	if strings.TrimSpace(font.Name) == "" {
		return fmt.Errorf("font name required")
	}
	if len(vector) == 0 {
		return fmt.Errorf("embedding vector required")
	}
	vectorLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return err
	}
	files := font.Files
	if files == nil {
		files = map[string]string{}
	}
	filesBytes, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("marshal files: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO fonts (name, category, description, tags, source, files, embedding, embedding_dim, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7::vector,$8,NOW())
ON CONFLICT (name) DO UPDATE SET
  category = EXCLUDED.category,
  description = EXCLUDED.description,
  tags = EXCLUDED.tags,
  source = EXCLUDED.source,
  files = EXCLUDED.files,
  embedding = EXCLUDED.embedding,
  embedding_dim = EXCLUDED.embedding_dim,
  updated_at = NOW();
`, font.Name, font.Category, font.Description, pq.Array(font.Tags), font.Source, filesBytes, vectorLiteral, len(vector))
	return err
}

// GetFontByName fetches a catalog entry by its case-sensitive key.
func (s *Store) GetFontByName(ctx context.Context, name string) (models.Font, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT name, category, description, tags, source, files, updated_at
FROM fonts
WHERE name=$1
`, name)
	font, err := scanFont(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Font{}, false, nil
		}
		return models.Font{}, false, err
	}
	return font, true, nil
}

// MissingFonts returns the subset of names that have no catalog row. Order of
// the input is preserved in the output.
func (s *Store) MissingFonts(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT name FROM fonts WHERE name = ANY($1)`, pq.Array(names))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	present := make(map[string]struct{}, len(names))
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		present[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []string
	for _, name := range names {
		if _, ok := present[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

// SearchFonts returns the closest catalog entries for the supplied vector.
// Confidence is 1 - cosine distance; hits below threshold are dropped. Only
// rows whose embedding dimensionality matches the query vector participate.
func (s *Store) SearchFonts(ctx context.Context, vector []float32, threshold float64, limit int) ([]FontSearchResult, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if limit <= 0 {
		limit = 20
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT name, category, description, tags, source, files, updated_at, 1 - (embedding <=> $1::vector) AS confidence
FROM fonts
WHERE embedding IS NOT NULL AND embedding_dim = $2
ORDER BY embedding <=> $1::vector
LIMIT $3
`, vecLiteral, len(vector), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FontSearchResult
	for rows.Next() {
		var (
			font       models.Font
			tags       pq.StringArray
			filesBytes []byte
			confidence float64
		)
		if err := rows.Scan(&font.Name, &font.Category, &font.Description, &tags, &font.Source, &filesBytes, &font.UpdatedAt, &confidence); err != nil {
			return nil, err
		}
		if confidence < threshold {
			continue
		}
		font.Tags = tags
		if len(filesBytes) > 0 {
			_ = json.Unmarshal(filesBytes, &font.Files)
		}
		results = append(results, FontSearchResult{Font: font, Confidence: confidence})
	}
	return results, rows.Err()
}

// LookupCachedResponse checks the semantic query cache. A hit requires the
// nearest cached query to clear the acceptance threshold, which is
// deliberately stricter than catalog retrieval since a hit is returned
// verbatim.
func (s *Store) LookupCachedResponse(ctx context.Context, vector []float32, threshold float64) (models.SearchResponse, bool, error) {
	if len(vector) == 0 {
		return models.SearchResponse{}, false, fmt.Errorf("vector must not be empty")
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return models.SearchResponse{}, false, err
	}
	row := s.DB.QueryRowContext(ctx, `
SELECT response, 1 - (embedding <=> $1::vector) AS confidence
FROM query_cache
WHERE embedding_dim = $2
ORDER BY embedding <=> $1::vector
LIMIT 1
`, vecLiteral, len(vector))

	var (
		respBytes  []byte
		confidence float64
	)
	if err := row.Scan(&respBytes, &confidence); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.SearchResponse{}, false, nil
		}
		return models.SearchResponse{}, false, err
	}
	if confidence < threshold {
		return models.SearchResponse{}, false, nil
	}
	var resp models.SearchResponse
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return models.SearchResponse{}, false, fmt.Errorf("unmarshal cached response: %w", err)
	}
	return resp, true, nil
}

// SaveCachedResponse writes a query/response pair into the semantic cache.
func (s *Store) SaveCachedResponse(ctx context.Context, queryText string, vector []float32, resp models.SearchResponse) error {
	if len(vector) == 0 {
		return fmt.Errorf("vector must not be empty")
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return err
	}
	respBytes, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO query_cache (query_text, embedding, embedding_dim, response, created_at)
VALUES ($1,$2::vector,$3,$4,NOW())
`, queryText, vecLiteral, len(vector), respBytes)
	return err
}

// PruneCacheBefore deletes cache entries older than the cutoff.
func (s *Store) PruneCacheBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, fmt.Errorf("cutoff must be provided")
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM query_cache WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateUser inserts an operator account. Unique violations bubble up as
// *pq.Error for the handler to translate.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, passwordHash)
	return err
}

// GetUserByEmail returns the account id and password hash for login checks.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (string, string, error) {
	var id, hash string
	err := s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return id, hash, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFont(row rowScanner) (models.Font, error) {
	var (
		font       models.Font
		tags       pq.StringArray
		filesBytes []byte
	)
	if err := row.Scan(&font.Name, &font.Category, &font.Description, &tags, &font.Source, &filesBytes, &font.UpdatedAt); err != nil {
		return models.Font{}, err
	}
	font.Tags = tags
	if len(filesBytes) > 0 {
		if err := json.Unmarshal(filesBytes, &font.Files); err != nil {
			return models.Font{}, fmt.Errorf("unmarshal files: %w", err)
		}
	}
	return font, nil
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
