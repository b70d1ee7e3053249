// Package sqlite is the embedded storage backend: a single SQLite file
// with sqlite-vec (vec0) virtual tables for ANN search. A single *sql.DB
// handle is shared process-wide and limited to one open connection, so
// reads and writes all queue on that connection and reads do not run
// concurrently; write operations are additionally serialized under an
// internal lock.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	sqlitevec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/knowgraph/ragstore/config"
	"github.com/knowgraph/ragstore/embedding"
	"github.com/knowgraph/ragstore/model"
	"github.com/knowgraph/ragstore/storage"
)

func init() {
	sqlitevec.Auto()
}

var _ storage.Adapter = (*Adapter)(nil)

// Adapter implements storage.Adapter against a single SQLite file.
type Adapter struct {
	db       *sql.DB
	writeMu  sync.Mutex
	embedder *embedding.Embedder
	dims     int
	logger   *slog.Logger
}

// Open creates (if absent) and opens the embedded store at
// cfg.DBFilePath, applying the schema and enabling WAL mode per
// cfg.SQLiteEnableWAL.
func Open(cfg config.Config, embedder *embedding.Embedder, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(cfg.DBFilePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: creating data directory: %w", err)
		}
	}

	dsn := cfg.DBFilePath + "?_busy_timeout=30000"
	if cfg.SQLiteEnableWAL {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(cfg.VectorDimensions)); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: applying schema: %w", err)
	}

	logger.Info("sqlite: opened embedded store", "path", cfg.DBFilePath, "dims", cfg.VectorDimensions)

	return &Adapter{db: db, embedder: embedder, dims: cfg.VectorDimensions, logger: logger}, nil
}

// Close closes the underlying handle.
func (a *Adapter) Close(ctx context.Context) error {
	return a.db.Close()
}

func serializeVector(v model.Vector) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func marshalStrings(ss []string) string {
	if ss == nil {
		ss = []string{}
	}
	b, _ := json.Marshal(ss)
	return string(b)
}

func unmarshalStrings(s string) []string {
	if s == "" {
		return nil
	}
	var ss []string
	_ = json.Unmarshal([]byte(s), &ss)
	return ss
}

func marshalMetadata(m model.Metadata) sql.NullString {
	if len(m) == 0 {
		return sql.NullString{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func unmarshalMetadata(s sql.NullString) model.Metadata {
	m := model.Metadata{}
	if s.Valid && s.String != "" {
		_ = json.Unmarshal([]byte(s.String), &m)
	}
	return m
}

// upsertChunkVector embeds text and stores the resulting vector keyed by
// the chunk's SQLite rowid, overwriting any prior vector for that key.
func (a *Adapter) upsertChunkVector(ctx context.Context, tx *sql.Tx, chunkID, text string) error {
	vec, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return err
	}
	var rowid int64
	if err := tx.QueryRowContext(ctx, `SELECT rowid FROM chunks WHERE id = ?`, chunkID).Scan(&rowid); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO vec_chunks(chunk_rowid, embedding) VALUES (?, ?)`,
		rowid, serializeVector(vec))
	return err
}

// upsertEntityVector embeds the entity's canonical text and stores the
// vector keyed by the entity's rowid, caching the text embedded in
// entity's embedding_text column so invariant checks can compare against
// what was actually embedded.
func (a *Adapter) upsertEntityVector(ctx context.Context, tx *sql.Tx, entity *model.Entity) error {
	text := entity.EmbeddingText()
	vec, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return err
	}
	var rowid int64
	if err := tx.QueryRowContext(ctx, `SELECT rowid FROM entities WHERE id = ?`, entity.ID).Scan(&rowid); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO vec_entities(entity_rowid, embedding) VALUES (?, ?)`,
		rowid, serializeVector(vec)); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE entities SET embedding_text = ? WHERE id = ?`, text, entity.ID)
	return err
}
