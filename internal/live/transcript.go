package live

import (
	"strings"
	"sync"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one finalized utterance.
type Entry struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type TurnPhase string

const (
	PhaseAccumulating TurnPhase = "accumulating"
	PhaseFlushing     TurnPhase = "flushing"
)

// Reconciler accumulates streaming transcription fragments for the current
// turn and turns them into ordered log entries at turn end.
type Reconciler struct {
	mu      sync.Mutex
	input   strings.Builder
	output  strings.Builder
	entries []Entry
	phase   TurnPhase
	now     func() time.Time
}

func NewReconciler() *Reconciler {
	return &Reconciler{phase: PhaseAccumulating, now: time.Now}
}

func (r *Reconciler) AppendInput(text string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.input.WriteString(text)
	return r.input.String()
}

func (r *Reconciler) AppendOutput(text string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output.WriteString(text)
	return r.output.String()
}

func (r *Reconciler) Pending() (input, output string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.input.String(), r.output.String()
}

// CompleteTurn flushes the accumulators. The user entry always precedes the
// assistant entry and whitespace-only text produces no entry. Stored text is
// kept as received.
func (r *Reconciler) CompleteTurn() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.phase = PhaseFlushing
	ts := r.now()

	var added []Entry
	if text := r.input.String(); strings.TrimSpace(text) != "" {
		added = append(added, Entry{Role: RoleUser, Text: text, Timestamp: ts})
	}
	if text := r.output.String(); strings.TrimSpace(text) != "" {
		added = append(added, Entry{Role: RoleAssistant, Text: text, Timestamp: ts})
	}
	r.entries = append(r.entries, added...)

	r.input.Reset()
	r.output.Reset()
	r.phase = PhaseAccumulating
	return added
}

func (r *Reconciler) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Reconciler) Phase() TurnPhase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// ClearLog drops finalized entries and leaves the current turn alone.
func (r *Reconciler) ClearLog() {
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
}

func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.entries = nil
	r.input.Reset()
	r.output.Reset()
	r.phase = PhaseAccumulating
	r.mu.Unlock()
}
