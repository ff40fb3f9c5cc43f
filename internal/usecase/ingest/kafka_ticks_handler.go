package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"AlphaDesk/internal/domain/models"
	domrepo "AlphaDesk/internal/domain/repository"
	mid "AlphaDesk/internal/middleware"
	pkgkafka "AlphaDesk/pkg/kafka"
	"AlphaDesk/pkg/metrics"
)

// KafkaTicksHandler decodes tick messages from Kafka and forwards them.
type KafkaTicksHandler struct {
	topic   string
	proc    mid.Proc
	metrics domrepo.Metrics
	now     func() time.Time
}

func NewKafkaTicksHandler(topic string, proc mid.Proc, m domrepo.Metrics) *KafkaTicksHandler {
	if m == nil {
		m = metrics.Discard{}
	}
	return &KafkaTicksHandler{topic: topic, proc: proc, metrics: m, now: time.Now}
}

func (h *KafkaTicksHandler) Topic() string { return h.topic }

// tickMessage accepts both the quote shape {symbol,bid,ask,last,v,t} and
// the trade shape {symbol,c,v,t}. t is unix seconds or milliseconds.
type tickMessage struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
	C      float64 `json:"c"`
	V      float64 `json:"v"`
	T      int64   `json:"t"`
}

func (m tickMessage) tick(now time.Time) *models.Tick {
	last := m.Last
	if last == 0 {
		last = m.C
	}
	ts := now
	switch {
	case m.T > 1e11:
		ts = time.UnixMilli(m.T)
	case m.T > 0:
		ts = time.Unix(m.T, 0)
	}
	return &models.Tick{Symbol: m.Symbol, Bid: m.Bid, Ask: m.Ask, Last: last, Volume: m.V, Timestamp: ts.UTC()}
}

func (h *KafkaTicksHandler) Handle(ctx context.Context, b []byte) error {
	var m tickMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode tick: %w", err)
	}
	now := h.now()
	t := m.tick(now)
	h.metrics.RecordLatency("ingest_e2e", now.Sub(t.Timestamp).Seconds())

	if err := h.proc.Process(ctx, t); err != nil {
		h.metrics.RecordError("consumer_process")
		return err
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaTicksHandler)(nil)
