// Package usage records the billable generator calls a project makes.
//
// Only calls that actually reach a provider are recorded: a content cache hit
// costs nothing and leaves no entry. Costs are estimates from a static price
// table; they are informational and never gate execution.
package usage

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Kind is the generator capability that was billed.
type Kind string

const (
	KindText    Kind = "text"
	KindImage   Kind = "image"
	KindVideo   Kind = "video"
	KindSpeech  Kind = "speech"
	KindLipSync Kind = "lipsync"
)

// Record is one billed call.
type Record struct {
	Kind      Kind      `json:"kind"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Units     float64   `json:"units"`
	Unit      string    `json:"unit"`
	Cost      float64   `json:"cost_usd"`
	Timestamp time.Time `json:"ts"`
}

// Totals aggregates a ledger.
type Totals struct {
	Calls  int              `json:"calls"`
	Cost   float64          `json:"cost_usd"`
	ByKind map[Kind]float64 `json:"by_kind,omitempty"`
}

// Ledger accumulates records for one project. The zero value is ready to use.
type Ledger struct {
	mu       sync.Mutex
	records  []Record
	onRecord func(Record)
}

// NewLedger returns a ledger that calls onRecord for each new record.
func NewLedger(onRecord func(Record)) *Ledger {
	return &Ledger{onRecord: onRecord}
}

// Add appends r, pricing it when Cost is zero.
func (l *Ledger) Add(r Record) {
	if l == nil {
		return
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	if r.Cost == 0 {
		r.Cost = Estimate(r.Kind, r.Provider, r.Model, r.Units)
	}
	if r.Unit == "" {
		r.Unit = unitFor(r.Kind)
	}
	l.mu.Lock()
	l.records = append(l.records, r)
	hook := l.onRecord
	l.mu.Unlock()
	if hook != nil {
		hook(r)
	}
}

// Restore replaces the ledger contents with records from a checkpoint.
func (l *Ledger) Restore(records []Record) {
	l.mu.Lock()
	l.records = append([]Record(nil), records...)
	l.mu.Unlock()
}

// Records returns a copy of every record in insertion order.
func (l *Ledger) Records() []Record {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Record(nil), l.records...)
}

// Totals sums the ledger.
func (l *Ledger) Totals() Totals {
	return Sum(l.Records())
}

// Sum aggregates records.
func Sum(records []Record) Totals {
	totals := Totals{ByKind: make(map[Kind]float64)}
	for _, r := range records {
		totals.Calls++
		totals.Cost += r.Cost
		totals.ByKind[r.Kind] += r.Cost
	}
	return totals
}

// textPrices are USD per 1K tokens.
var textPrices = map[string]struct{ input, output float64 }{
	"gpt-5":           {0.005, 0.015},
	"gpt-5-mini":      {0.0005, 0.0015},
	"claude-4-sonnet": {0.003, 0.015},
	"qwen-max":        {0.002, 0.006},
	"qwen-plus":       {0.0008, 0.002},
	"qwen-turbo":      {0.0003, 0.0006},
	"offline":         {0, 0},
}

// videoPrices are USD per minute of output.
var videoPrices = map[string]float64{
	"vidu":     0.5,
	"seedance": 0.4,
	"kling":    0.3,
	"offline":  0,
}

const (
	defaultTextInput  = 0.001
	defaultTextOutput = 0.003
	defaultVideo      = 0.5
	imagePrice        = 0.04
	speechPer1KChars  = 0.015
)

// Estimate prices units of kind. Text units are tokens, image units are
// images, video and lipsync units are seconds, speech units are characters.
func Estimate(kind Kind, provider, model string, units float64) float64 {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "offline" {
		return 0
	}
	switch kind {
	case KindText:
		price, ok := textPrices[strings.ToLower(model)]
		if !ok {
			price.input, price.output = defaultTextInput, defaultTextOutput
		}
		// Input and output are not separated at this layer; bill at the blended rate.
		return units / 1000 * (price.input + price.output) / 2
	case KindImage:
		return units * imagePrice
	case KindVideo, KindLipSync:
		price, ok := videoPrices[provider]
		if !ok {
			price = defaultVideo
		}
		return units / 60 * price
	case KindSpeech:
		return units / 1000 * speechPer1KChars
	default:
		return 0
	}
}

func unitFor(kind Kind) string {
	switch kind {
	case KindText:
		return "tokens"
	case KindImage:
		return "images"
	case KindVideo, KindLipSync:
		return "seconds"
	case KindSpeech:
		return "chars"
	default:
		return "units"
	}
}

// Kinds returns the kinds present in totals, sorted.
func (t Totals) Kinds() []Kind {
	kinds := make([]Kind, 0, len(t.ByKind))
	for kind := range t.ByKind {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
