package live

import (
	"testing"
	"time"
)

func fixedReconciler() *Reconciler {
	r := NewReconciler()
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return ts }
	return r
}

func TestReconciler_CompleteTurn(t *testing.T) {
	r := fixedReconciler()

	r.AppendInput("Hel")
	if got := r.AppendInput("lo"); got != "Hello" {
		t.Errorf("input accumulator = %q", got)
	}
	r.AppendOutput("Hi")
	r.AppendOutput(" there")

	entries := r.CompleteTurn()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Role != RoleUser || entries[0].Text != "Hello" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Role != RoleAssistant || entries[1].Text != "Hi there" {
		t.Errorf("second entry = %+v", entries[1])
	}
	if !entries[0].Timestamp.Equal(entries[1].Timestamp) {
		t.Error("entries of one turn share the flush timestamp")
	}

	in, out := r.Pending()
	if in != "" || out != "" {
		t.Errorf("accumulators not cleared: %q %q", in, out)
	}
	if r.Len() != 2 {
		t.Errorf("log length = %d", r.Len())
	}
	if r.Phase() != PhaseAccumulating {
		t.Errorf("phase = %s", r.Phase())
	}
}

func TestReconciler_WhitespaceOnly(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		output  string
		entries int
	}{
		{"both empty", "", "", 0},
		{"whitespace input", " ", "", 0},
		{"tabs and newlines", "\t\n", "  ", 0},
		{"input only", "hey", "", 1},
		{"output only", "", "hello", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := fixedReconciler()
			r.AppendInput(tt.input)
			r.AppendOutput(tt.output)
			if got := len(r.CompleteTurn()); got != tt.entries {
				t.Errorf("entries = %d, want %d", got, tt.entries)
			}
			in, out := r.Pending()
			if in != "" || out != "" {
				t.Error("accumulators must be cleared after every turn")
			}
		})
	}
}

func TestReconciler_InputOnlyTurn(t *testing.T) {
	r := fixedReconciler()
	r.AppendInput("parê ")
	r.AppendInput("bikin")

	entries := r.CompleteTurn()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Role != RoleUser {
		t.Errorf("role = %s, want %s", entries[0].Role, RoleUser)
	}
	if entries[0].Text != "parê bikin" {
		t.Errorf("text = %q, want %q", entries[0].Text, "parê bikin")
	}

	in, out := r.Pending()
	if in != "" || out != "" {
		t.Errorf("accumulators not cleared: %q %q", in, out)
	}
}

func TestReconciler_KeepsOriginalText(t *testing.T) {
	r := fixedReconciler()
	r.AppendOutput(" padded ")
	entries := r.CompleteTurn()
	if len(entries) != 1 || entries[0].Text != " padded " {
		t.Errorf("entries = %+v", entries)
	}
}

func TestReconciler_AppendOnlyAcrossTurns(t *testing.T) {
	r := fixedReconciler()

	r.AppendInput("one")
	r.CompleteTurn()
	first := r.Entries()

	r.AppendInput("two")
	r.AppendOutput("three")
	r.CompleteTurn()

	all := r.Entries()
	if len(all) != 3 {
		t.Fatalf("log length = %d, want 3", len(all))
	}
	if all[0] != first[0] {
		t.Error("earlier entries must not change")
	}
	if all[1].Text != "two" || all[2].Text != "three" {
		t.Errorf("unexpected order: %+v", all)
	}

	all[0].Text = "mutated"
	if r.Entries()[0].Text != "one" {
		t.Error("Entries must return a copy")
	}
}

func TestReconciler_ClearLogKeepsTurn(t *testing.T) {
	r := fixedReconciler()
	r.AppendInput("done")
	r.CompleteTurn()
	r.AppendInput("in progress")

	r.ClearLog()
	if r.Len() != 0 {
		t.Error("log should be empty")
	}
	if in, _ := r.Pending(); in != "in progress" {
		t.Errorf("accumulator = %q, want untouched", in)
	}

	r.Reset()
	if in, _ := r.Pending(); in != "" {
		t.Error("Reset should clear accumulators")
	}
}
