package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/continuumhq/continuum/internal/store"
)

// Archive is the SQLite persistence layer for conversations, messages,
// chunks, embeddings, and extracted facts. Embedding search loads live
// vectors and computes cosine similarity in Go: modernc.org/sqlite cannot
// host custom C functions, and at the expected scale (thousands of chunks
// per conversation) the brute-force scan is fast enough.
//
// All multi-row state transitions (chunking a buffer segment, compacting a
// run of chunks) happen inside a single transaction so a crash can never
// leave a message half-assigned or a chunk half-superseded.
type Archive struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewArchive creates an Archive on top of an opened store. If logger is nil,
// the default slog logger is used.
func NewArchive(st *store.Store, logger *slog.Logger) *Archive {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{db: st.DB(), logger: logger}
}

// --- conversations ---

// EnsureConversation returns the single conversation for userID, creating it
// on first use.
func (a *Archive) EnsureConversation(ctx context.Context, userID string) (Conversation, error) {
	conv, err := a.conversationByUser(ctx, userID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Conversation{}, err
	}

	now := time.Now().UTC()
	conv = Conversation{
		ID:             uuid.NewString(),
		UserID:         userID,
		LastActivityAt: now,
		CreatedAt:      now,
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, message_count, chunk_count, last_activity_at, created_at)
		VALUES (?, ?, 0, 0, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		conv.ID, conv.UserID, timeText(now), timeText(now),
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("archive: create conversation: %w", err)
	}

	// A concurrent creator may have won the conflict; read back the row that
	// actually exists.
	return a.conversationByUser(ctx, userID)
}

func (a *Archive) conversationByUser(ctx context.Context, userID string) (Conversation, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT id, user_id, message_count, chunk_count, last_activity_at, created_at
		FROM conversations WHERE user_id = ?`, userID)
	return scanConversation(row)
}

// ConversationByID loads one conversation.
func (a *Archive) ConversationByID(ctx context.Context, id string) (Conversation, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT id, user_id, message_count, chunk_count, last_activity_at, created_at
		FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// ConversationIDs lists every conversation id; used by the background sweeps.
func (a *Archive) ConversationIDs(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT id FROM conversations ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("archive: list conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("archive: scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanConversation(row *sql.Row) (Conversation, error) {
	var c Conversation
	var lastActivity, created string
	err := row.Scan(&c.ID, &c.UserID, &c.MessageCount, &c.ChunkCount, &lastActivity, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("archive: scan conversation: %w", err)
	}
	c.LastActivityAt = parseTime(lastActivity)
	c.CreatedAt = parseTime(created)
	return c, nil
}

// --- messages ---

// AppendMessage persists a message with the next sequence number and bumps
// the conversation counters. The assigned Seq, ID, and CreatedAt are written
// back into m.
func (a *Archive) AppendMessage(ctx context.Context, m *Message) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin append: %w", err)
	}
	defer tx.Rollback()

	var maxSeq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE conversation_id = ?`,
		m.ConversationID,
	).Scan(&maxSeq)
	if err != nil {
		return fmt.Errorf("archive: next seq: %w", err)
	}

	now := time.Now().UTC()
	m.ID = uuid.NewString()
	m.Seq = maxSeq + 1
	m.CreatedAt = now
	if m.TokenCount == 0 {
		m.TokenCount = EstimateTokens(m.Content)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, token_count, seq, chunk_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL, ?)`,
		m.ID, m.ConversationID, m.Role, m.Content, m.TokenCount, m.Seq, timeText(now),
	)
	if err != nil {
		return fmt.Errorf("archive: insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET message_count = message_count + 1, last_activity_at = ?
		WHERE id = ?`,
		timeText(now), m.ConversationID,
	)
	if err != nil {
		return fmt.Errorf("archive: bump conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit append: %w", err)
	}
	return nil
}

// BufferedMessages returns the primary buffer: every message not yet assigned
// to a chunk, in sequence order.
func (a *Archive) BufferedMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, token_count, seq, chunk_id, created_at
		FROM messages
		WHERE conversation_id = ? AND chunk_id IS NULL
		ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("archive: query buffer: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MessagesBySeqRange returns messages with seq in [startSeq, endSeq].
func (a *Archive) MessagesBySeqRange(ctx context.Context, conversationID string, startSeq, endSeq int64) ([]Message, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, token_count, seq, chunk_id, created_at
		FROM messages
		WHERE conversation_id = ? AND seq BETWEEN ? AND ?
		ORDER BY seq`, conversationID, startSeq, endSeq)
	if err != nil {
		return nil, fmt.Errorf("archive: query seq range: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		var chunkID sql.NullString
		var created string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.TokenCount, &m.Seq, &chunkID, &created); err != nil {
			return nil, fmt.Errorf("archive: scan message: %w", err)
		}
		m.ChunkID = chunkID.String
		m.CreatedAt = parseTime(created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// --- chunks ---

// PersistChunks writes a chunking pass atomically: the new chunks, their
// embeddings, the chunk_id assignment of every owned message, and the
// conversation chunk counter. StartSeq/EndSeq cover only the messages a
// chunk owns; overlap text lives in Content without a second assignment.
func (a *Archive) PersistChunks(ctx context.Context, chunks []Chunk, vectors map[string][]float32, model string) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin chunking: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for i := range chunks {
		c := &chunks[i]
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		if err := insertChunk(ctx, tx, c); err != nil {
			return err
		}
		if vec, ok := vectors[c.ID]; ok {
			if err := insertEmbedding(ctx, tx, c.ID, vec, model, now); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE messages SET chunk_id = ?
			WHERE conversation_id = ? AND seq BETWEEN ? AND ? AND chunk_id IS NULL`,
			c.ID, c.ConversationID, c.StartSeq, c.EndSeq,
		)
		if err != nil {
			return fmt.Errorf("archive: assign messages: %w", err)
		}
		assigned, _ := res.RowsAffected()
		if int(assigned) != c.MessageCount {
			return &ConsistencyError{
				ConversationID: c.ConversationID,
				Detail: fmt.Sprintf("chunk %s expected %d buffered messages in [%d,%d], assigned %d",
					c.ID, c.MessageCount, c.StartSeq, c.EndSeq, assigned),
			}
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET chunk_count = chunk_count + ? WHERE id = ?`,
		len(chunks), chunks[0].ConversationID,
	)
	if err != nil {
		return fmt.Errorf("archive: bump chunk count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit chunking: %w", err)
	}

	a.logger.Debug("archive: persisted chunks",
		"conversation_id", chunks[0].ConversationID,
		"chunks", len(chunks),
		"first_seq", chunks[0].StartSeq,
		"last_seq", chunks[len(chunks)-1].EndSeq,
	)
	return nil
}

func insertChunk(ctx context.Context, tx *sql.Tx, c *Chunk) error {
	topicsJSON, err := json.Marshal(c.Topics)
	if err != nil {
		return fmt.Errorf("archive: marshal topics: %w", err)
	}
	var sourcesJSON []byte
	if len(c.SourceChunkIDs) > 0 {
		sourcesJSON, err = json.Marshal(c.SourceChunkIDs)
		if err != nil {
			return fmt.Errorf("archive: marshal source ids: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chunks
			(id, conversation_id, content, summary, token_count, message_count,
			 start_seq, end_seq, topics, importance, retrieval_count,
			 last_retrieved_at, is_compacted, compacted_into, source_chunk_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, 0, NULL, ?, ?)`,
		c.ID, c.ConversationID, c.Content, c.Summary, c.TokenCount, c.MessageCount,
		c.StartSeq, c.EndSeq, string(topicsJSON), c.Importance,
		nullableBytes(sourcesJSON), timeText(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("archive: insert chunk: %w", err)
	}
	return nil
}

func insertEmbedding(ctx context.Context, tx *sql.Tx, chunkID string, vec []float32, model string, now time.Time) error {
	blob, err := EncodeVector(vec)
	if err != nil {
		return fmt.Errorf("archive: encode vector: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO embeddings (chunk_id, vector, model, created_at)
		VALUES (?, ?, ?, ?)`,
		chunkID, blob, model, timeText(now),
	)
	if err != nil {
		return fmt.Errorf("archive: insert embedding: %w", err)
	}
	return nil
}

const chunkColumns = `id, conversation_id, content, summary, token_count, message_count,
	start_seq, end_seq, topics, importance, retrieval_count, last_retrieved_at,
	is_compacted, compacted_into, source_chunk_ids, created_at`

// ChunkByID loads one chunk.
func (a *Archive) ChunkByID(ctx context.Context, id string) (Chunk, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id)
	if err != nil {
		return Chunk{}, fmt.Errorf("archive: query chunk: %w", err)
	}
	defer rows.Close()

	chunks, err := scanChunks(rows)
	if err != nil {
		return Chunk{}, err
	}
	if len(chunks) == 0 {
		return Chunk{}, ErrNotFound
	}
	return chunks[0], nil
}

// LiveChunks returns every non-compacted chunk for a conversation in
// sequence order. Compaction summaries sort by their covered range.
func (a *Archive) LiveChunks(ctx context.Context, conversationID string) ([]Chunk, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks
		 WHERE conversation_id = ? AND is_compacted = 0
		 ORDER BY start_seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("archive: query live chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// CompactedChunks returns every compacted (superseded) chunk for a
// conversation; used by the deletion sweep.
func (a *Archive) CompactedChunks(ctx context.Context, conversationID string) ([]Chunk, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks
		 WHERE conversation_id = ? AND is_compacted = 1
		 ORDER BY start_seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("archive: query compacted chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

func scanChunks(rows *sql.Rows) ([]Chunk, error) {
	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var topics string
		var lastRetrieved, compactedInto, sources sql.NullString
		var isCompacted int
		var created string
		err := rows.Scan(&c.ID, &c.ConversationID, &c.Content, &c.Summary,
			&c.TokenCount, &c.MessageCount, &c.StartSeq, &c.EndSeq,
			&topics, &c.Importance, &c.RetrievalCount, &lastRetrieved,
			&isCompacted, &compactedInto, &sources, &created)
		if err != nil {
			return nil, fmt.Errorf("archive: scan chunk: %w", err)
		}
		if topics != "" {
			if err := json.Unmarshal([]byte(topics), &c.Topics); err != nil {
				return nil, fmt.Errorf("archive: decode topics: %w", err)
			}
		}
		if sources.Valid && sources.String != "" {
			if err := json.Unmarshal([]byte(sources.String), &c.SourceChunkIDs); err != nil {
				return nil, fmt.Errorf("archive: decode source ids: %w", err)
			}
		}
		if lastRetrieved.Valid {
			c.LastRetrievedAt = parseTime(lastRetrieved.String)
		}
		c.IsCompacted = isCompacted != 0
		c.CompactedInto = compactedInto.String
		c.CreatedAt = parseTime(created)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ChunkVector pairs a live chunk with its decoded embedding for Go-side
// similarity search.
type ChunkVector struct {
	Chunk  Chunk
	Vector []float32
}

// LiveVectors loads every live chunk that has an embedding, with the vector
// decoded, for similarity scanning.
func (a *Archive) LiveVectors(ctx context.Context, conversationID string) ([]ChunkVector, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT `+prefixColumns("c", chunkColumns)+`, e.vector
		FROM chunks c
		JOIN embeddings e ON e.chunk_id = c.id
		WHERE c.conversation_id = ? AND c.is_compacted = 0
		ORDER BY c.start_seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("archive: query live vectors: %w", err)
	}
	defer rows.Close()

	var out []ChunkVector
	for rows.Next() {
		var c Chunk
		var topics string
		var lastRetrieved, compactedInto, sources sql.NullString
		var isCompacted int
		var created string
		var blob []byte
		err := rows.Scan(&c.ID, &c.ConversationID, &c.Content, &c.Summary,
			&c.TokenCount, &c.MessageCount, &c.StartSeq, &c.EndSeq,
			&topics, &c.Importance, &c.RetrievalCount, &lastRetrieved,
			&isCompacted, &compactedInto, &sources, &created, &blob)
		if err != nil {
			return nil, fmt.Errorf("archive: scan chunk vector: %w", err)
		}
		if topics != "" {
			if err := json.Unmarshal([]byte(topics), &c.Topics); err != nil {
				return nil, fmt.Errorf("archive: decode topics: %w", err)
			}
		}
		if sources.Valid && sources.String != "" {
			if err := json.Unmarshal([]byte(sources.String), &c.SourceChunkIDs); err != nil {
				return nil, fmt.Errorf("archive: decode source ids: %w", err)
			}
		}
		if lastRetrieved.Valid {
			c.LastRetrievedAt = parseTime(lastRetrieved.String)
		}
		c.IsCompacted = isCompacted != 0
		c.CompactedInto = compactedInto.String
		c.CreatedAt = parseTime(created)

		vec, err := DecodeVector(blob)
		if err != nil {
			// A corrupt vector should not take down retrieval for the whole
			// conversation; skip the row and log.
			a.logger.Warn("archive: corrupt embedding, skipping", "chunk_id", c.ID, "error", err)
			continue
		}
		out = append(out, ChunkVector{Chunk: c, Vector: vec})
	}
	return out, rows.Err()
}

// TouchChunks bumps retrieval counters for chunks that were served into an
// assembled context. Best-effort by callers: a failure here never fails the
// read path.
func (a *Archive) TouchChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := timeText(time.Now().UTC())
	for _, id := range ids {
		_, err := a.db.ExecContext(ctx, `
			UPDATE chunks SET retrieval_count = retrieval_count + 1, last_retrieved_at = ?
			WHERE id = ?`, now, id)
		if err != nil {
			return fmt.Errorf("archive: touch chunk: %w", err)
		}
	}
	return nil
}

// MarkCompacted writes a compaction atomically: the summary chunk with its
// embedding, and the supersession markers on every source chunk. Source
// chunk content is left in place for the later deletion sweep.
func (a *Archive) MarkCompacted(ctx context.Context, summary *Chunk, vector []float32, model string) error {
	if len(summary.SourceChunkIDs) == 0 {
		return fmt.Errorf("archive: summary chunk has no sources")
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin compaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = now
	}
	if err := insertChunk(ctx, tx, summary); err != nil {
		return err
	}
	if vector != nil {
		if err := insertEmbedding(ctx, tx, summary.ID, vector, model, now); err != nil {
			return err
		}
	}

	for _, src := range summary.SourceChunkIDs {
		res, err := tx.ExecContext(ctx, `
			UPDATE chunks SET is_compacted = 1, compacted_into = ?
			WHERE id = ? AND is_compacted = 0`,
			summary.ID, src,
		)
		if err != nil {
			return fmt.Errorf("archive: mark compacted: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return &ConsistencyError{
				ConversationID: summary.ConversationID,
				Detail:         fmt.Sprintf("source chunk %s not live at compaction time", src),
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit compaction: %w", err)
	}

	a.logger.Info("archive: compacted chunks",
		"conversation_id", summary.ConversationID,
		"summary_id", summary.ID,
		"sources", len(summary.SourceChunkIDs),
	)
	return nil
}

// DeleteChunks removes compacted chunk rows for good. Messages still pointing
// at a deleted chunk are reassigned to the summary that superseded it, so
// the buffered/chunked distinction stays intact.
func (a *Archive) DeleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin deletion: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		var compactedInto sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT compacted_into FROM chunks WHERE id = ? AND is_compacted = 1`, id,
		).Scan(&compactedInto)
		if errors.Is(err, sql.ErrNoRows) {
			// Only compacted chunks are ever deleted; a live id here is a
			// caller bug, skip it rather than destroy live data.
			a.logger.Warn("archive: refusing to delete live chunk", "chunk_id", id)
			continue
		}
		if err != nil {
			return fmt.Errorf("archive: check deletable: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET chunk_id = ? WHERE chunk_id = ?`, compactedInto, id); err != nil {
			return fmt.Errorf("archive: reassign messages: %w", err)
		}
		// Chunks compacted into this one move up to its own successor, so
		// no compacted_into reference is left dangling.
		if _, err := tx.ExecContext(ctx,
			`UPDATE chunks SET compacted_into = ? WHERE compacted_into = ?`, compactedInto, id); err != nil {
			return fmt.Errorf("archive: reassign compacted chunks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE chunk_id = ?`, id); err != nil {
			return fmt.Errorf("archive: delete embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM extraction_log WHERE chunk_id = ?`, id); err != nil {
			return fmt.Errorf("archive: delete extraction log: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, id); err != nil {
			return fmt.Errorf("archive: delete chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit deletion: %w", err)
	}
	return nil
}

// --- extracted info ---

// InsertExtracted records new facts for a chunk and marks the extraction
// pass done, all in one transaction. A new fact supersedes the latest live
// record with the same kind and subject in the conversation.
func (a *Archive) InsertExtracted(ctx context.Context, chunkID string, infos []ExtractedInfo) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin extraction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for i := range infos {
		info := &infos[i]
		if info.ID == "" {
			info.ID = uuid.NewString()
		}
		info.ChunkID = chunkID
		info.CreatedAt = now

		// Locate the previous live fact on the same subject, if any. The
		// new row must exist before the old one can point at it, or the
		// superseded_by foreign key rejects the update.
		var prevID string
		if info.Subject != "" {
			err := tx.QueryRowContext(ctx, `
				SELECT id FROM extracted_info
				WHERE conversation_id = ? AND kind = ? AND subject = ? AND superseded_by IS NULL
				ORDER BY created_at DESC, id DESC LIMIT 1`,
				info.ConversationID, info.Kind, info.Subject,
			).Scan(&prevID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("archive: find prior fact: %w", err)
			}
		}

		var expires any
		if !info.ExpiresAt.IsZero() {
			expires = timeText(info.ExpiresAt)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO extracted_info
				(id, conversation_id, chunk_id, kind, subject, content,
				 confidence, is_permanent, superseded_by, expires_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
			info.ID, info.ConversationID, info.ChunkID, info.Kind, info.Subject,
			info.Content, info.Confidence, boolInt(info.IsPermanent),
			expires, timeText(now),
		)
		if err != nil {
			return fmt.Errorf("archive: insert fact: %w", err)
		}

		if prevID != "" {
			if _, err := tx.ExecContext(ctx,
				`UPDATE extracted_info SET superseded_by = ? WHERE id = ?`,
				info.ID, prevID); err != nil {
				return fmt.Errorf("archive: supersede fact: %w", err)
			}
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO extraction_log (chunk_id, extracted_at) VALUES (?, ?)
		ON CONFLICT(chunk_id) DO NOTHING`,
		chunkID, timeText(now),
	)
	if err != nil {
		return fmt.Errorf("archive: log extraction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit extraction: %w", err)
	}
	return nil
}

// ListExtracted returns facts for a conversation, newest first. kind filters
// when non-empty, since filters when non-zero; superseded and expired records
// are excluded unless includeHistoric is set.
func (a *Archive) ListExtracted(ctx context.Context, conversationID, kind string, since time.Time, includeHistoric bool) ([]ExtractedInfo, error) {
	query := `
		SELECT id, conversation_id, chunk_id, kind, subject, content,
		       confidence, is_permanent, superseded_by, expires_at, created_at
		FROM extracted_info WHERE conversation_id = ?`
	args := []any{conversationID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	if !since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, timeText(since.UTC()))
	}
	if !includeHistoric {
		query += ` AND superseded_by IS NULL AND (expires_at IS NULL OR expires_at > ?)`
		args = append(args, timeText(time.Now().UTC()))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("archive: query facts: %w", err)
	}
	defer rows.Close()

	var infos []ExtractedInfo
	for rows.Next() {
		var info ExtractedInfo
		var permanent int
		var superseded, expires sql.NullString
		var created string
		err := rows.Scan(&info.ID, &info.ConversationID, &info.ChunkID,
			&info.Kind, &info.Subject, &info.Content, &info.Confidence,
			&permanent, &superseded, &expires, &created)
		if err != nil {
			return nil, fmt.Errorf("archive: scan fact: %w", err)
		}
		info.IsPermanent = permanent != 0
		info.SupersededBy = superseded.String
		if expires.Valid {
			info.ExpiresAt = parseTime(expires.String)
		}
		info.CreatedAt = parseTime(created)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// PermanentSourceChunkIDs returns the chunk ids that are the source of a
// live permanent fact; those chunks are exempt from compaction until the
// fact is re-extracted elsewhere or superseded.
func (a *Archive) PermanentSourceChunkIDs(ctx context.Context, conversationID string) (map[string]bool, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT DISTINCT chunk_id FROM extracted_info
		WHERE conversation_id = ? AND is_permanent = 1 AND superseded_by IS NULL`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("archive: query permanent sources: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("archive: scan permanent source: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// UnextractedChunks returns live chunks that have not yet been through a
// fact-extraction pass, oldest first, capped at limit.
func (a *Archive) UnextractedChunks(ctx context.Context, conversationID string, limit int) ([]Chunk, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks
		 WHERE conversation_id = ? AND is_compacted = 0
		   AND id NOT IN (SELECT chunk_id FROM extraction_log)
		 ORDER BY start_seq LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: query unextracted: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// IsExtracted reports whether a chunk has already been through a
// fact-extraction pass.
func (a *Archive) IsExtracted(ctx context.Context, chunkID string) (bool, error) {
	var n int
	err := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM extraction_log WHERE chunk_id = ?`, chunkID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("archive: check extraction log: %w", err)
	}
	return n > 0, nil
}

// --- stats ---

// Stats assembles the operational snapshot for one conversation.
func (a *Archive) Stats(ctx context.Context, conversationID string) (Stats, error) {
	s := Stats{ConversationID: conversationID}

	conv, err := a.ConversationByID(ctx, conversationID)
	if err != nil {
		return Stats{}, err
	}
	s.TotalMessages = conv.MessageCount

	err = a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND chunk_id IS NULL`,
		conversationID).Scan(&s.BufferMessages)
	if err != nil {
		return Stats{}, fmt.Errorf("archive: count buffer: %w", err)
	}

	var oldest sql.NullString
	err = a.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN is_compacted = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN is_compacted = 0 THEN token_count ELSE 0 END), 0),
		       MIN(created_at)
		FROM chunks WHERE conversation_id = ?`,
		conversationID).Scan(&s.TotalChunks, &s.LiveChunks, &s.ArchiveTokens, &oldest)
	if err != nil {
		return Stats{}, fmt.Errorf("archive: chunk stats: %w", err)
	}
	if oldest.Valid {
		s.OldestChunkAt = parseTime(oldest.String)
	}

	var mostID sql.NullString
	var lastRet sql.NullString
	err = a.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(retrieval_count), 0),
		       (SELECT id FROM chunks WHERE conversation_id = ? AND retrieval_count > 0
		        ORDER BY retrieval_count DESC, last_retrieved_at DESC LIMIT 1),
		       MAX(last_retrieved_at)
		FROM chunks WHERE conversation_id = ?`,
		conversationID, conversationID).Scan(&s.Retrieval.TotalRetrievals, &mostID, &lastRet)
	if err != nil {
		return Stats{}, fmt.Errorf("archive: retrieval stats: %w", err)
	}
	s.Retrieval.MostRetrievedID = mostID.String
	if lastRet.Valid {
		s.Retrieval.LastRetrievedAt = parseTime(lastRet.String)
	}

	return s, nil
}

// --- helpers ---

func timeText(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, cols string) string {
	out := ""
	for i, c := range splitColumns(cols) {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + c
	}
	return out
}

func splitColumns(cols string) []string {
	var out []string
	field := ""
	for _, r := range cols {
		switch r {
		case ',':
			out = append(out, field)
			field = ""
		case ' ', '\t', '\n':
			// skip whitespace between columns
		default:
			field += string(r)
		}
	}
	if field != "" {
		out = append(out, field)
	}
	return out
}
