package consult

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"medscribe/insight"
	"medscribe/transport"
)

// Repository persists consultation records, transcript segments and
// insight events. Writes on the live path are best-effort: a failed save
// is logged by the caller and never interrupts the session.
type Repository interface {
	CreateConsultation(ctx context.Context) (uuid.UUID, error)
	SaveTranscriptSegment(ctx context.Context, consultationID uuid.UUID, seg transport.Segment) error
	SaveInsightEvent(ctx context.Context, consultationID uuid.UUID, ev insight.Event) error
	UpdateConsultationStatus(ctx context.Context, consultationID uuid.UUID, status string) error
}

type postgresRepo struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &postgresRepo{db: db}
}

func (r *postgresRepo) CreateConsultation(ctx context.Context) (uuid.UUID, error) {
	id := uuid.New()
	query := `INSERT INTO consultations (id, status, created_at) VALUES ($1, $2, $3)`

	_, err := r.db.ExecContext(ctx, query, id, ConsultationActive, time.Now())
	if err != nil {
		return uuid.Nil, fmt.Errorf("create consultation: %w", err)
	}
	return id, nil
}

func (r *postgresRepo) SaveTranscriptSegment(ctx context.Context, consultationID uuid.UUID, seg transport.Segment) error {
	query := `
		INSERT INTO transcript_segments (id, consultation_id, text, confidence, produced_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		seg.ID, consultationID, seg.Text, seg.Confidence, seg.ProducedAt)
	if err != nil {
		return fmt.Errorf("save transcript segment: %w", err)
	}
	return nil
}

func (r *postgresRepo) SaveInsightEvent(ctx context.Context, consultationID uuid.UUID, ev insight.Event) error {
	query := `
		INSERT INTO insight_events (id, consultation_id, kind, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		ev.ID, consultationID, string(ev.Kind), []byte(ev.Raw), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("save insight event: %w", err)
	}
	return nil
}

func (r *postgresRepo) UpdateConsultationStatus(ctx context.Context, consultationID uuid.UUID, status string) error {
	query := `UPDATE consultations SET status = $2, updated_at = $3 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, consultationID, status, time.Now())
	if err != nil {
		return fmt.Errorf("update consultation status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("consultation %s not found", consultationID)
	}
	return nil
}
