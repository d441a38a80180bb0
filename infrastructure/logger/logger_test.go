package logger

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObserved() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{Logger: zap.New(core)}, logs
}

func TestLogOrderActionSatisfiesSchema(t *testing.T) {
	l, logs := newObserved()
	l.LogOrderAction("cancel_and_replace", 7, "tx-1", zap.Int("cancels", 2))

	entries := logs.FilterMessage("order_action").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	for _, key := range []string{"op", "market_index", "tx_id"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("missing field %q", key)
		}
	}
	if v, ok := fields["_schema_error"]; ok {
		t.Errorf("unexpected schema violation: %v", v)
	}
}

func TestLogEventFlagsMissingFields(t *testing.T) {
	l, logs := newObserved()
	// fill_event 缺 side/price/size，必须带上违规标记而非丢弃
	l.logEvent(zapcore.InfoLevel, "fill_event", []zap.Field{
		zap.Uint16("market_index", 7),
	})

	entries := logs.FilterMessage("fill_event").All()
	if len(entries) != 1 {
		t.Fatalf("expected entry to be emitted despite violation, got %d", len(entries))
	}
	if _, ok := entries[0].ContextMap()["_schema_error"]; !ok {
		t.Error("expected _schema_error marker on incomplete fill_event")
	}
}

func TestQuoteAndSyncErrorHelpersSatisfySchema(t *testing.T) {
	l, logs := newObserved()
	l.LogQuote(7, "100", "99.9", "100.1")
	l.LogSyncError(7, "position", errors.New("rpc down"))

	for _, msg := range []string{"quote", "sync_error"} {
		entries := logs.FilterMessage(msg).All()
		if len(entries) != 1 {
			t.Fatalf("%s: expected 1 entry, got %d", msg, len(entries))
		}
		if v, ok := entries[0].ContextMap()["_schema_error"]; ok {
			t.Errorf("%s: unexpected schema violation: %v", msg, v)
		}
	}
}

func TestLogFillSatisfiesSchema(t *testing.T) {
	l, logs := newObserved()
	l.LogFill(7, "bid", "99.9", "1")

	entries := logs.FilterMessage("fill_event").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if v, ok := entries[0].ContextMap()["_schema_error"]; ok {
		t.Errorf("unexpected schema violation: %v", v)
	}
}
