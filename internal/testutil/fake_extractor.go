package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Kiwi1009/interview-to-quote/internal/extraction"
	"github.com/Kiwi1009/interview-to-quote/internal/models"
)

var _ extraction.Extractor = (*FakeExtractor)(nil)

// FakeExtractor is a controllable extraction backend. When Gate is set each
// call blocks until a value is sent on (or the channel is closed). Err makes
// every call fail; otherwise Result builds the output, falling back to
// CompleteRequirements.
type FakeExtractor struct {
	Gate   chan struct{}
	Err    error
	Result func(in extraction.Input) *extraction.Result
	Panic  bool

	calls atomic.Int64
	mu    sync.Mutex
	seen  []extraction.Input
}

func NewFakeExtractor() *FakeExtractor {
	return &FakeExtractor{}
}

func (f *FakeExtractor) Model() string { return "fake-model" }

func (f *FakeExtractor) Extract(ctx context.Context, in extraction.Input) (*extraction.Result, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.seen = append(f.seen, in)
	f.mu.Unlock()

	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.Panic {
		panic("fake extractor panic")
	}
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Result != nil {
		return f.Result(in), nil
	}
	return &extraction.Result{
		Model:      "fake-model",
		PromptHash: "fakehash",
		Data:       CompleteRequirements(),
		Confidence: map[string]float64{"workpiece": 0.9, "process": 0.8},
		Evidence: []models.Evidence{
			{FieldPath: "workpiece.weight_range", Snippet: "工件重量約5公斤"},
		},
	}, nil
}

// Calls returns how many times Extract ran.
func (f *FakeExtractor) Calls() int { return int(f.calls.Load()) }

// Inputs returns a copy of every input received.
func (f *FakeExtractor) Inputs() []extraction.Input {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]extraction.Input(nil), f.seen...)
}

// ErrBackend is a ready-made backend failure.
var ErrBackend = errors.New("backend unavailable")

// CompleteRequirements returns requirements with every required field set.
func CompleteRequirements() map[string]interface{} {
	return map[string]interface{}{
		"customer_pain_points": []interface{}{"人工搬運效率低", "產品翻面耗時"},
		"products": map[string]interface{}{
			"name":     "鋁合金外殼",
			"material": "鋁合金",
		},
		"workpiece": map[string]interface{}{
			"weight_range": "3-5kg",
			"dimensions":   "300x200x50mm",
		},
		"process": map[string]interface{}{
			"count":      float64(3),
			"needs_flip": true,
			"steps":      []interface{}{"上料", "加工", "下料"},
		},
		"machines": map[string]interface{}{
			"count": float64(2),
			"types": []interface{}{"CNC"},
		},
		"cycle_time": map[string]interface{}{"current": "120s", "target": "90s"},
		"constraints": map[string]interface{}{
			"budget":   "300萬以內",
			"timeline": "六個月",
		},
		"open_questions": []interface{}{},
	}
}

// ACMETranscript is a short interview used by end-to-end tests.
const ACMETranscript = `業務：請問目前產線的狀況？
王經理：我們每天生產500件，工件重量約5公斤
王經理：每件需要經過3道製程，中間要翻面
業務：目前有幾台機台？
王經理：兩台CNC，希望預算控制在300萬以內
`
