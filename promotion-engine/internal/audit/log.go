// Package audit records promotion attempts: the append-only promotion_log
// table in the destination store, plus a Kafka feed and an S3 snapshot of
// each payload.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/intakecalc/platform/promotion-engine/internal/destination"
	"github.com/intakecalc/platform/promotion-engine/internal/models"
)

var ErrRejected = errors.New("promotion log write rejected")

// Log reads and appends promotion_log rows through the destination client.
type Log struct {
	client destination.Client
}

func NewLog(client destination.Client) *Log {
	return &Log{client: client}
}

func (l *Log) Append(ctx context.Context, e models.PromotionLogEntry) error {
	rec, err := destination.RecordOf(e)
	if err != nil {
		return err
	}
	res, err := l.client.InsertOne(ctx, destination.TablePromotionLog, rec)
	if err != nil {
		return fmt.Errorf("append promotion log %s: %w", e.PromotionID, err)
	}
	if !res.Success {
		return fmt.Errorf("%w: %s", ErrRejected, res.Message)
	}
	return nil
}

// History returns every attempt recorded for the prospect, newest first.
func (l *Log) History(ctx context.Context, prospectID string) ([]models.PromotionLogEntry, error) {
	return l.query(ctx,
		"SELECT * FROM promotion_log WHERE prospect_id = $1 ORDER BY created_at DESC", prospectID)
}

// HasCompleted reports whether a completed entry already exists.
func (l *Log) HasCompleted(ctx context.Context, prospectID string) (bool, error) {
	rows, err := l.query(ctx,
		"SELECT promotion_id FROM promotion_log WHERE prospect_id = $1 AND status = $2",
		prospectID, string(models.PromotionStatusCompleted))
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (l *Log) query(ctx context.Context, q string, params ...any) ([]models.PromotionLogEntry, error) {
	res, err := l.client.Query(ctx, q, params...)
	if err != nil {
		return nil, fmt.Errorf("query promotion log: %w", err)
	}
	if !res.Success {
		return nil, fmt.Errorf("query promotion log: %s", res.Message)
	}
	out := make([]models.PromotionLogEntry, 0, len(res.Rows))
	for _, row := range res.Rows {
		raw, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("encode promotion log row: %w", err)
		}
		var e models.PromotionLogEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode promotion log row: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}
