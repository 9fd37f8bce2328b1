package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/luminachat/lumina/internal/models"
)

type CreateMessageParams struct {
	FileID        uuid.UUID
	OwnerID       string
	Text          string
	IsUserMessage bool
}

const messageColumns = "id, file_id, owner_id, text, is_user_message, create_time"

func (s *Store) CreateMessage(ctx context.Context, p CreateMessageParams) (*models.Message, error) {
	var m models.Message
	err := s.db.QueryRow(ctx,
		`INSERT INTO messages (id, file_id, owner_id, text, is_user_message)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+messageColumns,
		uuid.New(), p.FileID, p.OwnerID, p.Text, p.IsUserMessage,
	).Scan(&m.ID, &m.FileID, &m.OwnerID, &m.Text, &m.IsUserMessage, &m.CreateTime)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &m, nil
}

// ListRecentMessages returns the last limit messages of a file ordered
// oldest-to-newest, the shape prompt assembly needs.
func (s *Store) ListRecentMessages(ctx context.Context, fileID uuid.UUID, limit int) ([]models.Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE file_id = $1
			ORDER BY create_time DESC, id DESC
			LIMIT $2
		 ) recent
		 ORDER BY create_time ASC, id ASC`,
		fileID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// ListMessagesPage fetches one history page, newest first, ordered by
// (create_time, id) descending. The page starts at the cursor row inclusive;
// callers fetch limit+1 and pop the extra row into the next cursor. The
// append-only keyset makes pages stable under concurrent inserts.
func (s *Store) ListMessagesPage(ctx context.Context, fileID uuid.UUID, limit int, cursor *uuid.UUID) ([]models.Message, error) {
	var (
		rows pgxRows
		err  error
	)
	if cursor == nil {
		rows, err = s.db.Query(ctx,
			`SELECT `+messageColumns+` FROM messages
			 WHERE file_id = $1
			 ORDER BY create_time DESC, id DESC
			 LIMIT $2`,
			fileID, limit,
		)
	} else {
		rows, err = s.db.Query(ctx,
			`SELECT `+messageColumns+` FROM messages
			 WHERE file_id = $1
			   AND (create_time, id) <= (SELECT create_time, id FROM messages WHERE id = $2)
			 ORDER BY create_time DESC, id DESC
			 LIMIT $3`,
			fileID, *cursor, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages page: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close()
	Err() error
}

func scanMessages(rows pgxRows) ([]models.Message, error) {
	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.FileID, &m.OwnerID, &m.Text, &m.IsUserMessage, &m.CreateTime); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
