package trigger

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intakecalc/platform/promotion-engine/internal/errorlog"
	"github.com/intakecalc/platform/promotion-engine/internal/models"
	"github.com/intakecalc/platform/promotion-engine/internal/promotion"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	fetchErr  error
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.msgs) > 0 {
		m := f.msgs[0]
		f.msgs = f.msgs[1:]
		f.mu.Unlock()
		return m, nil
	}
	err := f.fetchErr
	f.mu.Unlock()
	if err != nil {
		return kafka.Message{}, err
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

type recordingHandler struct {
	mu     sync.Mutex
	events []promotion.TriggerEvent
	done   chan struct{}
}

func (h *recordingHandler) HandleStatusChange(ctx context.Context, ev promotion.TriggerEvent) (promotion.Outcome, error) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
	h.done <- struct{}{}
	return promotion.Outcome{ProspectID: ev.ProspectID, State: promotion.StateCompleted}, nil
}

func TestConsumerDispatchesAndCommits(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Value: []byte(`{"prospect_id":"p-1","old_status":"prospecting","new_status":"client"}`)},
		{Offset: 2, Value: []byte(`not json`)},
		{Offset: 3, Value: []byte(`{"prospect_id":"p-2","old_status":"prospecting","new_status":"client"}`)},
	}}
	handler := &recordingHandler{done: make(chan struct{}, 2)}
	rep := errorlog.NewMemoryReporter()
	c := NewConsumer(ConsumerConfig{Reader: reader, Handler: handler, Reporter: rep, Logger: log.New(io.Discard, "", 0)})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()
	<-handler.done
	<-handler.done
	cancel()
	require.NoError(t, <-errc)

	handler.mu.Lock()
	ids := []string{handler.events[0].ProspectID, handler.events[1].ProspectID}
	handler.mu.Unlock()
	assert.ElementsMatch(t, []string{"p-1", "p-2"}, ids)
	assert.Equal(t, []int64{1, 2, 3}, reader.committed)

	entries := rep.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, string(errorlog.ProcessTrigger), entries[0].Process)
	assert.Equal(t, models.SeverityLow, entries[0].Severity)

	require.NoError(t, c.Close())
	assert.True(t, reader.closed)
}

func TestConsumerReturnsFetchErrors(t *testing.T) {
	reader := &fakeReader{fetchErr: errors.New("broker gone")}
	c := NewConsumer(ConsumerConfig{Reader: reader, Handler: &recordingHandler{}, Logger: log.New(io.Discard, "", 0)})
	err := c.Run(context.Background())
	assert.ErrorContains(t, err, "broker gone")
}

func TestDecode(t *testing.T) {
	ev, err := Decode([]byte(`{"prospect_id":"p-9","old_status":"prospecting","new_status":"client"}`))
	require.NoError(t, err)
	assert.Equal(t, models.ProspectStatusClient, ev.NewStatus)

	_, err = Decode([]byte(`{"old_status":"prospecting"}`))
	assert.Error(t, err)
}

func TestNewKafkaReaderRequiresTopic(t *testing.T) {
	_, err := NewKafkaReader(KafkaConsumerConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}
