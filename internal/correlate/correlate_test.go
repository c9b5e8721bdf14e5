package correlate

import (
	"math"
	"sync"
	"testing"

	"github.com/shaiso/Ensemble/internal/domain"
)

func ok(id, entity string, payload map[string]any) domain.TaskOutcome {
	return domain.TaskOutcome{TaskID: id, Status: domain.OutcomeSucceeded, Entity: entity, Payload: payload}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCorrelate_Grouping(t *testing.T) {
	outcomes := map[string]domain.TaskOutcome{
		"t3": ok("t3", "photo-1", nil),
		"t1": ok("t1", "photo-1", nil),
		"t2": ok("t2", "", nil),
		"t4": ok("t4", "", map[string]any{"entity_id": "doc-7"}),
		"t5": ok("t5", "photo-1", map[string]any{"entity": "doc-7"}),
	}

	results := Correlate(outcomes, DefaultTagger)
	if len(results) != 3 {
		t.Fatalf("expected 3 groups, got %d: %+v", len(results), results)
	}

	// по EntityID: doc-7, photo-1, t2
	if results[0].EntityID != "doc-7" || len(results[0].Outcomes) != 2 {
		t.Errorf("unexpected group 0: %+v", results[0])
	}
	if results[1].EntityID != "photo-1" || len(results[1].Outcomes) != 2 {
		t.Errorf("unexpected group 1: %+v", results[1])
	}
	if results[1].Outcomes[0].TaskID != "t1" || results[1].Outcomes[1].TaskID != "t3" {
		t.Errorf("members should be ordered by task id: %+v", results[1].Outcomes)
	}
	if results[2].EntityID != "t2" || !results[2].Singleton {
		t.Errorf("untagged outcome should form a singleton: %+v", results[2])
	}
	if results[2].Agreement != 1 || results[2].Compared != 0 {
		t.Errorf("singleton agreement should be 1/0, got %v/%d", results[2].Agreement, results[2].Compared)
	}
}

func TestCorrelate_Deterministic(t *testing.T) {
	outcomes := map[string]domain.TaskOutcome{}
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		outcomes[id] = ok(id, "", nil)
	}

	first := Correlate(outcomes, nil)
	for i := 0; i < 10; i++ {
		again := Correlate(outcomes, nil)
		for j := range first {
			if first[j].EntityID != again[j].EntityID {
				t.Fatalf("order changed between calls: %v vs %v", first[j].EntityID, again[j].EntityID)
			}
		}
	}
}

func TestCorrelate_Agreement(t *testing.T) {
	tests := []struct {
		name      string
		members   []domain.TaskOutcome
		agreement float64
		compared  int
	}{
		{
			name: "full agreement",
			members: []domain.TaskOutcome{
				ok("a", "e", map[string]any{"location": "Paris", "authentic": true}),
				ok("b", "e", map[string]any{"location": "paris ", "authentic": true}),
			},
			agreement: 1,
			compared:  2,
		},
		{
			name: "two of three agree",
			members: []domain.TaskOutcome{
				ok("a", "e", map[string]any{"verdict": "real"}),
				ok("b", "e", map[string]any{"verdict": "real"}),
				ok("c", "e", map[string]any{"verdict": "fake"}),
			},
			agreement: 2.0 / 3.0,
			compared:  1,
		},
		{
			name: "mean over fields",
			members: []domain.TaskOutcome{
				ok("a", "e", map[string]any{"location": "Paris", "authentic": true}),
				ok("b", "e", map[string]any{"location": "Rome", "authentic": true}),
			},
			agreement: (0.5 + 1) / 2,
			compared:  2,
		},
		{
			name: "field reported once is not compared",
			members: []domain.TaskOutcome{
				ok("a", "e", map[string]any{"location": "Paris"}),
				ok("b", "e", map[string]any{"verdict": "real"}),
			},
			agreement: 1,
			compared:  0,
		},
		{
			name: "failed members are ignored",
			members: []domain.TaskOutcome{
				ok("a", "e", map[string]any{"verdict": "real"}),
				{TaskID: "b", Entity: "e", Status: domain.OutcomeFailed, Payload: map[string]any{"verdict": "fake"}, Fallback: true},
				ok("c", "e", map[string]any{"verdict": "real"}),
			},
			agreement: 1,
			compared:  1,
		},
		{
			name: "number and string differ",
			members: []domain.TaskOutcome{
				ok("a", "e", map[string]any{"entity": 1.0}),
				ok("b", "e", map[string]any{"entity": "1"}),
			},
			agreement: 0.5,
			compared:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcomes := make(map[string]domain.TaskOutcome)
			for _, m := range tt.members {
				outcomes[m.TaskID] = m
			}

			results := Correlate(outcomes, NodeTagger)
			if len(results) != 1 {
				t.Fatalf("expected 1 group, got %d", len(results))
			}
			if !almostEqual(results[0].Agreement, tt.agreement) {
				t.Errorf("expected agreement %v, got %v", tt.agreement, results[0].Agreement)
			}
			if results[0].Compared != tt.compared {
				t.Errorf("expected compared %d, got %d", tt.compared, results[0].Compared)
			}
		})
	}
}

func TestCorrelator_CustomFields(t *testing.T) {
	outcomes := map[string]domain.TaskOutcome{
		"a": ok("a", "e", map[string]any{"color": "red", "verdict": "x"}),
		"b": ok("b", "e", map[string]any{"color": "blue", "verdict": "y"}),
	}

	results := Correlator{Fields: []string{"color"}}.Correlate(outcomes, NodeTagger)
	if results[0].Compared != 1 || results[0].Agreement != 0.5 {
		t.Errorf("expected only color compared, got %v/%d", results[0].Agreement, results[0].Compared)
	}
}

func TestTracker(t *testing.T) {
	tr := NewTracker()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i%26))
			tr.Track("corr-"+id, "task-"+id)
		}(i)
	}
	wg.Wait()

	if tr.Len() != 26 {
		t.Errorf("expected 26 entries, got %d", tr.Len())
	}

	taskID, found := tr.Resolve("corr-c")
	if !found || taskID != "task-c" {
		t.Errorf("expected task-c, got %q (%v)", taskID, found)
	}

	tr.Forget("corr-c")
	if _, found := tr.Resolve("corr-c"); found {
		t.Error("forgotten id should not resolve")
	}
}
