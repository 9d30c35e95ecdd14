package store

import (
	"testing"
	"time"
)

func TestOpen_MigratesSchemaOnMemoryDB(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	totals, err := s.Totals("C1")
	if err != nil {
		t.Fatalf("Totals on empty table: %v", err)
	}
	if totals.TurnCount != 0 {
		t.Fatalf("expected zero turns, got %+v", totals)
	}
}

func TestRecordTurn_AccumulatesTotalsPerChannel(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	now := time.Unix(1700000000, 0)
	records := []TurnRecord{
		{ChannelID: "C1", CostUSD: 0.10, Tokens: 100, StartedAt: now, FinishedAt: now},
		{ChannelID: "C1", CostUSD: 0.25, Tokens: 200, StartedAt: now, FinishedAt: now},
		{ChannelID: "C2", CostUSD: 5.00, Tokens: 900, StartedAt: now, FinishedAt: now},
	}
	for _, r := range records {
		if err := s.RecordTurn(r); err != nil {
			t.Fatalf("RecordTurn: %v", err)
		}
	}

	got, err := s.Totals("C1")
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if got.TurnCount != 2 || got.TotalTokens != 300 {
		t.Fatalf("totals = %+v", got)
	}
	if got.TotalCost < 0.34 || got.TotalCost > 0.36 {
		t.Fatalf("total cost = %v, want ~0.35", got.TotalCost)
	}

	other, err := s.Totals("C2")
	if err != nil {
		t.Fatalf("Totals C2: %v", err)
	}
	if other.TurnCount != 1 || other.TotalTokens != 900 {
		t.Fatalf("C2 totals = %+v", other)
	}
}

func TestRecordTurn_RecordsFailedTurnsWithError(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.RecordTurn(TurnRecord{ChannelID: "C1", Error: "claude exited with code 1"}); err != nil {
		t.Fatalf("RecordTurn: %v", err)
	}
	totals, err := s.Totals("C1")
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if totals.TurnCount != 1 {
		t.Fatalf("expected the failed turn to still be counted, got %+v", totals)
	}
}
