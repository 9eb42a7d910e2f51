package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgSink struct {
	pool *pgxpool.Pool
}

func NewPgSink(pool *pgxpool.Pool) *PgSink {
	return &PgSink{pool: pool}
}

func (s *PgSink) Insert(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}

	var meta []byte
	if len(n.Metadata) > 0 {
		var err error
		meta, err = json.Marshal(n.Metadata)
		if err != nil {
			return fmt.Errorf("marshal notification metadata: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, priority, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, n.ID, n.UserID, n.Type, n.Title, n.Message, n.Priority, meta)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	return nil
}
