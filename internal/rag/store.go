// Package rag maintains the retrieval index: embedding vectors over a
// bounded recent window of message history per channel, with cosine
// similarity search.
package rag

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pentland/scribe/internal/embeddings"
)

// Record is one indexed message with its embedding vector. Records are
// uniquely identified by (channel, message_id) so re-indexing the same
// source message updates rather than duplicates.
type Record struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	MessageID string    `json:"message_id"`
	Author    string    `json:"author,omitempty"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// Result is a search hit. Derived per query, never persisted.
type Result struct {
	Content   string    `json:"content"`
	Channel   string    `json:"channel"`
	Author    string    `json:"author,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Score     float32   `json:"score"`
}

// NewID generates a new UUIDv7.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails
		return uuid.New().String()
	}
	return id.String()
}

// Store persists vector records in SQLite. Each channel keeps at most
// perChannel records; the oldest by timestamp are evicted on overflow.
type Store struct {
	db         *sql.DB
	perChannel int
}

// NewStore creates a vector record store on the given database
// connection. perChannel bounds the per-channel window; zero or
// negative uses 200.
func NewStore(db *sql.DB, perChannel int) (*Store, error) {
	if perChannel <= 0 {
		perChannel = 200
	}
	s := &Store{db: db, perChannel: perChannel}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("vector store migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS vector_records (
			id         TEXT PRIMARY KEY,
			channel    TEXT NOT NULL,
			message_id TEXT NOT NULL,
			author     TEXT,
			content    TEXT NOT NULL,
			embedding  BLOB NOT NULL,
			timestamp  TEXT NOT NULL,
			UNIQUE (channel, message_id)
		);

		CREATE INDEX IF NOT EXISTS idx_vector_records_channel
			ON vector_records(channel, timestamp);
	`)
	return err
}

// Upsert stores a record, replacing any prior record for the same
// (channel, message_id). After insertion, records beyond the
// per-channel window are evicted oldest-first.
func (s *Store) Upsert(rec *Record) error {
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO vector_records (id, channel, message_id, author, content, embedding, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel, message_id) DO UPDATE SET
			author = excluded.author,
			content = excluded.content,
			embedding = excluded.embedding,
			timestamp = excluded.timestamp
	`, rec.ID, rec.Channel, rec.MessageID, rec.Author, rec.Content,
		encodeEmbedding(rec.Embedding), rec.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert vector record: %w", err)
	}

	return s.evict(rec.Channel)
}

// evict removes the oldest records beyond the per-channel window.
func (s *Store) evict(channel string) error {
	_, err := s.db.Exec(`
		DELETE FROM vector_records
		WHERE channel = ? AND id NOT IN (
			SELECT id FROM vector_records
			WHERE channel = ?
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		)
	`, channel, channel, s.perChannel)
	if err != nil {
		return fmt.Errorf("evict vector records: %w", err)
	}
	return nil
}

// Has reports whether a record exists for (channel, messageID).
func (s *Store) Has(channel, messageID string) (bool, error) {
	var one int
	err := s.db.QueryRow(`
		SELECT 1 FROM vector_records WHERE channel = ? AND message_id = ?
	`, channel, messageID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check vector record: %w", err)
	}
	return true, nil
}

// Count returns the number of records for a channel.
func (s *Store) Count(channel string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM vector_records WHERE channel = ?
	`, channel).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count vector records: %w", err)
	}
	return n, nil
}

// records loads all records for a channel, or every channel when
// channel is empty.
func (s *Store) records(channel string) ([]*Record, error) {
	query := `SELECT id, channel, message_id, author, content, embedding, timestamp FROM vector_records`
	var args []any
	if channel != "" {
		query += ` WHERE channel = ?`
		args = append(args, channel)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("load vector records: %w", err)
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		var r Record
		var author sql.NullString
		var blob []byte
		var ts string
		if err := rows.Scan(&r.ID, &r.Channel, &r.MessageID, &author, &r.Content, &blob, &ts); err != nil {
			return nil, err
		}
		r.Author = author.String
		r.Embedding = decodeEmbedding(blob)
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		recs = append(recs, &r)
	}
	return recs, rows.Err()
}

// Embedder is the embedding capability Search and the Indexer need.
// Satisfied by embeddings.Client.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
	GenerateBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Search embeds the query and returns the topK most similar records in
// the channel (or across all channels when channel is empty), best
// first. Similarity ties break toward the newer record.
func (s *Store) Search(ctx context.Context, embedder Embedder, query string, topK int, channel string) ([]Result, error) {
	if topK <= 0 {
		topK = 5
	}

	queryVec, err := embedder.Generate(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	recs, err := s.records(channel)
	if err != nil {
		return nil, err
	}

	type scored struct {
		rec   *Record
		score float32
	}
	hits := make([]scored, 0, len(recs))
	for _, r := range recs {
		hits = append(hits, scored{r, embeddings.CosineSimilarity(queryVec, r.Embedding)})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].rec.Timestamp.After(hits[j].rec.Timestamp)
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{
			Content:   h.rec.Content,
			Channel:   h.rec.Channel,
			Author:    h.rec.Author,
			Timestamp: h.rec.Timestamp,
			Score:     h.score,
		}
	}
	return results, nil
}

// encodeEmbedding packs a float32 vector into a little-endian blob.
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding unpacks a little-endian blob into a float32 vector.
func decodeEmbedding(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
