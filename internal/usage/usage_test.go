package usage

import (
	"math"
	"testing"
)

func TestLedgerPricesAndTotals(t *testing.T) {
	var seen []Record
	l := NewLedger(func(r Record) { seen = append(seen, r) })
	l.Add(Record{Kind: KindImage, Provider: "acme", Units: 4})
	l.Add(Record{Kind: KindVideo, Provider: "kling", Units: 120})
	l.Add(Record{Kind: KindText, Provider: "offline", Units: 5000})

	totals := l.Totals()
	if totals.Calls != 3 || len(seen) != 3 {
		t.Fatalf("expected 3 calls, got %d (hook %d)", totals.Calls, len(seen))
	}
	want := 4*0.04 + 2*0.3
	if math.Abs(totals.Cost-want) > 1e-9 {
		t.Fatalf("expected cost %.4f, got %.4f", want, totals.Cost)
	}
	if seen[0].Unit != "images" || seen[1].Unit != "seconds" {
		t.Fatalf("unexpected units %q %q", seen[0].Unit, seen[1].Unit)
	}
	kinds := totals.Kinds()
	if len(kinds) != 3 || kinds[0] != KindImage {
		t.Fatalf("unexpected kinds %v", kinds)
	}
}

func TestEstimateUnknownModelUsesDefault(t *testing.T) {
	got := Estimate(KindText, "openai", "mystery", 1000)
	if math.Abs(got-0.002) > 1e-9 {
		t.Fatalf("expected blended default 0.002, got %f", got)
	}
}

func TestRestoreReplacesRecords(t *testing.T) {
	var l Ledger
	l.Add(Record{Kind: KindSpeech, Provider: "x", Units: 1000})
	l.Restore([]Record{{Kind: KindImage, Cost: 1}})
	if got := l.Records(); len(got) != 1 || got[0].Kind != KindImage {
		t.Fatalf("unexpected records %+v", got)
	}
}
