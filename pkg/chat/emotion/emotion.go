// Package emotion maintains a decaying per-user vector of named emotional
// intensities and renders it into a prompt fragment. The tracker never
// fails a turn: classification and persistence errors degrade to the prior
// state.
package emotion

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/kindred-labs/kin/pkg/chat/ai"
	"github.com/kindred-labs/kin/pkg/chat/store"
)

// Names is the closed set of tracked emotions.
var Names = []string{
	"happiness",
	"sadness",
	"anger",
	"fear",
	"curiosity",
	"fatigue",
	"affection",
	"calm",
}

// Known reply tags. Unrecognized tags normalize to TagNeutral.
const (
	TagCheerful = "cheerful"
	TagMellow   = "mellow"
	TagStern    = "stern"
	TagPlayful  = "playful"
	TagAnxious  = "anxious"
	TagSleepy   = "sleepy"
	TagNeutral  = "neutral"
)

const (
	decayFactor = 0.95
	nudgeStep   = 0.1
)

// tagNudges maps a reply tag to the emotions it nudges, positive values
// adding intensity and negative values draining it.
var tagNudges = map[string]map[string]float64{
	TagCheerful: {"happiness": nudgeStep, "sadness": -nudgeStep},
	TagMellow:   {"calm": nudgeStep, "anger": -nudgeStep},
	TagStern:    {"anger": nudgeStep, "happiness": -nudgeStep},
	TagPlayful:  {"happiness": nudgeStep, "curiosity": nudgeStep},
	TagAnxious:  {"fear": nudgeStep, "calm": -nudgeStep},
	TagSleepy:   {"fatigue": nudgeStep, "curiosity": -nudgeStep},
	TagNeutral:  {},
}

// NormalizeTag lowercases a reply tag and maps anything unknown to neutral.
func NormalizeTag(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if _, ok := tagNudges[tag]; ok {
		return tag
	}
	return TagNeutral
}

// Vector is one user's emotional state. Values stay in [0,1].
type Vector struct {
	Values    map[string]float64 `msgpack:"values"`
	UpdatedAt time.Time          `msgpack:"updatedAt"`
}

func defaultVector(now time.Time) Vector {
	values := make(map[string]float64, len(Names))
	for _, name := range Names {
		values[name] = 0.3
	}
	values["calm"] = 0.5
	return Vector{Values: values, UpdatedAt: now}
}

func (v Vector) clone() Vector {
	values := make(map[string]float64, len(v.Values))
	for k, val := range v.Values {
		values[k] = val
	}
	return Vector{Values: values, UpdatedAt: v.UpdatedAt}
}

// Tracker owns the in-memory vectors and their best-effort persistence.
type Tracker struct {
	classifier ai.Classifier
	store      store.Store
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	vectors map[string]Vector
}

func NewTracker(classifier ai.Classifier, st store.Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		classifier: classifier,
		store:      st,
		logger:     logger,
		now:        time.Now,
		vectors:    make(map[string]Vector),
	}
}

// Get returns the user's vector, creating the default on first access. The
// store is consulted once per user to recover a persisted vector; that
// fetch happens outside the lock so one slow load cannot stall every other
// user's update.
func (t *Tracker) Get(ctx context.Context, userID string) Vector {
	return t.ensure(ctx, userID).clone()
}

// ensure returns the cached vector, loading it first when absent. Cached
// maps are never mutated in place, so returning one without cloning is safe
// as long as the caller clones before writing.
func (t *Tracker) ensure(ctx context.Context, userID string) Vector {
	t.mu.Lock()
	if v, ok := t.vectors[userID]; ok {
		t.mu.Unlock()
		return v
	}
	t.mu.Unlock()

	v := defaultVector(t.now())
	if t.store != nil {
		if data, err := t.store.GetDocument(ctx, userID, store.DocEmotion); err == nil {
			var saved Vector
			if err := msgpack.Unmarshal(data, &saved); err == nil && len(saved.Values) > 0 {
				for name := range v.Values {
					if val, ok := saved.Values[name]; ok {
						v.Values[name] = clamp(val)
					}
				}
				v.UpdatedAt = saved.UpdatedAt
			}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.vectors[userID]; ok {
		// Another goroutine finished loading first.
		return cur
	}
	t.vectors[userID] = v
	return v
}

// Update applies classifier suggestions for message (when non-empty), then
// a tag-hint nudge (when non-empty), then decay on everything untouched.
// Classification failure leaves the vector unchanged.
func (t *Tracker) Update(ctx context.Context, userID, message, tagHint string) Vector {
	var suggestions map[string]float64
	if strings.TrimSpace(message) != "" && t.classifier != nil {
		scores, err := t.classifier.Classify(ctx, message, Names)
		if err != nil {
			t.logger.Warn("emotion classification failed", "user_id", userID, "error", err)
			return t.Get(ctx, userID)
		}
		suggestions = scores
	}

	t.ensure(ctx, userID)

	t.mu.Lock()
	v := t.vectors[userID].clone()

	touched := make(map[string]struct{}, len(suggestions))
	for name, score := range suggestions {
		if _, ok := v.Values[name]; !ok {
			continue
		}
		v.Values[name] = clamp(score)
		touched[name] = struct{}{}
	}

	if tagHint != "" {
		for name, delta := range tagNudges[NormalizeTag(tagHint)] {
			v.Values[name] = clamp(v.Values[name] + delta)
			touched[name] = struct{}{}
		}
	}

	for name, val := range v.Values {
		if _, ok := touched[name]; ok {
			continue
		}
		v.Values[name] = val * decayFactor
	}
	v.UpdatedAt = t.now()
	t.vectors[userID] = v
	out := v.clone()
	t.mu.Unlock()

	t.persist(ctx, userID, out)
	return out
}

func (t *Tracker) persist(ctx context.Context, userID string, v Vector) {
	if t.store == nil {
		return
	}
	data, err := msgpack.Marshal(v)
	if err != nil {
		t.logger.Warn("encode emotion vector failed", "user_id", userID, "error", err)
		return
	}
	if err := t.store.SetDocument(ctx, userID, store.DocEmotion, data); err != nil {
		t.logger.Warn("persist emotion vector failed", "user_id", userID, "error", err)
	}
}

// PromptFragment appends a rendering of the current vector, with
// interpretation hints, to basePrompt. It never fails; on any internal
// problem the base prompt comes back unmodified.
func (t *Tracker) PromptFragment(ctx context.Context, userID, basePrompt string) string {
	v := t.Get(ctx, userID)
	if len(v.Values) == 0 {
		return basePrompt
	}

	names := make([]string, 0, len(v.Values))
	for name := range v.Values {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString(basePrompt)
	sb.WriteString("\n\nThe user's current emotional state (0 = absent, 1 = intense):\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "- %s: %.2f\n", name, v.Values[name])
	}
	sb.WriteString("Adapt your reply to this state: if fatigue is high, favor short sentences; " +
		"if sadness or fear is high, be gentle and reassuring; if curiosity is high, " +
		"offer a little more detail; if anger is high, stay calm and do not argue.")
	return sb.String()
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
