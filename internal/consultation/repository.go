package consultation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"go-counsel/internal/domain"
)

// errStale means a conditional update matched no row: the status moved underneath us.
var errStale = errors.New("consultation status changed concurrently")

const selectConsultation = `
		SELECT c.id, c.client_id, c.lawyer_profile_id, lp.user_id, c.status,
		       c.started_at, c.trial_end_at, c.ended_at, c.created_at, c.updated_at
		FROM consultations c
		JOIN lawyer_profiles lp ON lp.id = c.lawyer_profile_id`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConsultation(row rowScanner) (*Consultation, error) {
	c := &Consultation{}
	var startedAt, trialEndAt, endedAt sql.NullTime
	if err := row.Scan(&c.ID, &c.ClientID, &c.LawyerProfileID, &c.LawyerUserID, &c.Status,
		&startedAt, &trialEndAt, &endedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.StartedAt = nullTime(startedAt)
	c.TrialEndAt = nullTime(trialEndAt)
	c.EndedAt = nullTime(endedAt)
	return c, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (r *Repository) Get(ctx context.Context, id string) (*Consultation, error) {
	c, err := scanConsultation(r.db.QueryRowContext(ctx, selectConsultation+" WHERE c.id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: consultation %s", domain.ErrNotFound, id)
		}
		return nil, err
	}
	return c, nil
}

// StartTrial moves PENDING to TRIAL. It matches no row if the consultation already left PENDING.
func (r *Repository) StartTrial(ctx context.Context, id string, startedAt, trialEndAt time.Time) error {
	query := `UPDATE consultations
		SET status = 'TRIAL', started_at = $2, trial_end_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`
	return expectOneRow(r.db.ExecContext(ctx, query, id, startedAt, trialEndAt))
}

// Transition moves the consultation to `to` only if its current status is one of `from`.
func (r *Repository) Transition(ctx context.Context, id string, from []Status, to Status, endedAt *time.Time) error {
	args := []any{id, string(to), endedAt}
	placeholders := make([]string, 0, len(from))
	for _, s := range from {
		args = append(args, string(s))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	query := fmt.Sprintf(`UPDATE consultations
		SET status = $2, ended_at = COALESCE($3, ended_at), updated_at = NOW()
		WHERE id = $1 AND status IN (%s)`, strings.Join(placeholders, ", "))
	return expectOneRow(r.db.ExecContext(ctx, query, args...))
}

func (r *Repository) Touch(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE consultations SET updated_at = NOW() WHERE id = $1", id)
	return err
}

func (r *Repository) SaveSummary(ctx context.Context, id, summary string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE consultations SET summary = $2, updated_at = NOW() WHERE id = $1", id, summary)
	return err
}

// ListTrials returns every consultation still in TRIAL, oldest deadline first.
func (r *Repository) ListTrials(ctx context.Context) ([]*Consultation, error) {
	rows, err := r.db.QueryContext(ctx, selectConsultation+
		" WHERE c.status = 'TRIAL' AND c.trial_end_at IS NOT NULL ORDER BY c.trial_end_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CancelStalePending cancels PENDING consultations created before cutoff and returns them.
func (r *Repository) CancelStalePending(ctx context.Context, cutoff, now time.Time) ([]*Consultation, error) {
	query := `UPDATE consultations c
		SET status = 'CANCELLED', ended_at = $2, updated_at = NOW()
		FROM lawyer_profiles lp
		WHERE lp.id = c.lawyer_profile_id AND c.status = 'PENDING' AND c.created_at < $1
		RETURNING c.id, c.client_id, c.lawyer_profile_id, lp.user_id, c.status,
		          c.started_at, c.trial_end_at, c.ended_at, c.created_at, c.updated_at`
	rows, err := r.db.QueryContext(ctx, query, cutoff, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// HasSucceededPayment is consulted at fire time by the trial-end timer and by the send gate.
func (r *Repository) HasSucceededPayment(ctx context.Context, consultationID string) (bool, error) {
	var exists bool
	query := "SELECT EXISTS (SELECT 1 FROM payments WHERE consultation_id = $1 AND status = 'SUCCEEDED')"
	if err := r.db.QueryRowContext(ctx, query, consultationID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// RecordPayment upserts the provider's payment record. Webhook retries are idempotent on provider_ref.
func (r *Repository) RecordPayment(ctx context.Context, consultationID, providerRef string) error {
	query := `INSERT INTO payments (id, consultation_id, provider_ref, status)
		VALUES ($1, $2, $3, 'SUCCEEDED')
		ON CONFLICT (provider_ref) DO UPDATE SET status = 'SUCCEEDED'`
	_, err := r.db.ExecContext(ctx, query, uuid.NewString(), consultationID, providerRef)
	return err
}

func expectOneRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errStale
	}
	return nil
}
