package gateway

import (
	"context"
	"errors"

	"github.com/intakecalc/platform/promotion-engine/internal/destination"
)

// MemoryBackend serves gateway calls from a destination.MemoryClient. It backs
// local runs of the gateway without Postgres and in-process tests.
type MemoryBackend struct {
	Store *destination.MemoryClient
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{Store: destination.NewMemoryClient()}
}

func (m *MemoryBackend) InsertOne(ctx context.Context, table string, record destination.Record) (string, error) {
	res, err := m.Store.InsertOne(ctx, table, record)
	if err != nil {
		return "", err
	}
	if !res.Success {
		return "", errors.New(res.Message)
	}
	return res.GeneratedID, nil
}

func (m *MemoryBackend) InsertBatch(ctx context.Context, table string, records []destination.Record) (int, error) {
	res, err := m.Store.InsertBatch(ctx, table, records)
	if err != nil {
		return 0, err
	}
	if !res.Success {
		return 0, errors.New(res.Message)
	}
	return res.Count, nil
}

func (m *MemoryBackend) Query(ctx context.Context, st destination.Statement, params []any) ([]destination.Record, error) {
	res, err := m.Store.Query(ctx, st.String(), params...)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, errors.New(res.Message)
	}
	return res.Rows, nil
}

func (m *MemoryBackend) Ping(ctx context.Context) error {
	if !m.Store.Health(ctx) {
		return errors.New("store unavailable")
	}
	return nil
}
