package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/reimburse/internal/models"
)

type VectorStoreConfig struct {
	ConnString  string
	TableName   string
	VectorDim   int
	SearchLimit int
}

// VectorStore keeps indexed invoice records in PostgreSQL with pgvector.
// Records are only ever appended.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	config = withDefaults(config)

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func withDefaults(config VectorStoreConfig) VectorStoreConfig {
	if config.TableName == "" {
		config.TableName = "invoice_analysis"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}
	if config.SearchLimit == 0 {
		config.SearchLimit = 5
	}
	return config
}

func schemaStatements(table string, dim int) []string {
	return []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			employee_name TEXT NOT NULL,
			invoice_file TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL,
			date TEXT NOT NULL,
			metadata JSONB NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, table, dim),
		fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`, table, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_employee_idx ON %s (employee_name)", table, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_status_idx ON %s (status)", table, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_date_idx ON %s (date)", table, table),
	}
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	for _, stmt := range schemaStatements(vs.config.TableName, vs.config.VectorDim) {
		if _, err := vs.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

func (vs *VectorStore) Insert(ctx context.Context, rec models.IndexedRecord, embedding []float32) error {
	if len(embedding) != vs.config.VectorDim {
		return fmt.Errorf("embedding has %d dimensions, table expects %d", len(embedding), vs.config.VectorDim)
	}

	md, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, content, employee_name, invoice_file, status, reason, date, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		vs.config.TableName)

	_, err = vs.pool.Exec(ctx, stmt,
		rec.ID,
		rec.Content,
		rec.Metadata.EmployeeName,
		rec.Metadata.InvoiceFile,
		string(rec.Metadata.Status),
		rec.Metadata.Reason,
		rec.Metadata.Date,
		md,
		pgvector.NewVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// buildSearchQuery renders the similarity query. $1 is the query vector and
// $2 the limit; filter values follow in field order.
func buildSearchQuery(table string, filter models.SearchFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)+2))
	}
	add("employee_name", filter.EmployeeName)
	add("date", filter.Date)
	add("status", string(filter.Status))

	where := ""
	if len(conds) > 0 {
		where = "\n\t\tWHERE " + strings.Join(conds, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT id, content, employee_name, invoice_file, status, reason, date, embedding <=> $1 AS distance
		FROM %s%s
		ORDER BY embedding <=> $1
		LIMIT $2`, table, where)

	return query, args
}

func (vs *VectorStore) Search(ctx context.Context, queryEmbedding []float32, filter models.SearchFilter, limit int) ([]models.Document, error) {
	if limit <= 0 {
		limit = vs.config.SearchLimit
	}

	query, filterArgs := buildSearchQuery(vs.config.TableName, filter)
	args := append([]any{pgvector.NewVector(queryEmbedding), limit}, filterArgs...)

	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var (
			doc    models.Document
			status string
		)
		err := rows.Scan(
			&doc.ID,
			&doc.Content,
			&doc.Metadata.EmployeeName,
			&doc.Metadata.InvoiceFile,
			&status,
			&doc.Metadata.Reason,
			&doc.Metadata.Date,
			&doc.Distance,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		doc.Metadata.Status = models.Status(status)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return docs, nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}
