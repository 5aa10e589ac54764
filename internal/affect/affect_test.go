package affect

import (
	"math"
	"strings"
	"testing"
	"time"
)

var t0 = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func TestNew_Defaults(t *testing.T) {
	m := New(t0, 0)

	want := map[Channel]float64{
		Dopamine: 0.5, Serotonin: 0.5, Oxytocin: 0.5, Cortisol: 0.3,
		Melatonin: 0.2, Novelty: 0.5, Curiosity: 0.6, Patience: 0.7,
	}
	for c, v := range want {
		if got := m.Value(c); got != v {
			t.Errorf("%s = %v, want %v", c, got, v)
		}
	}
	if m.rate != DefaultDecayRate {
		t.Errorf("rate = %v, want %v", m.rate, DefaultDecayRate)
	}
	if !m.LastUpdated().Equal(t0) {
		t.Errorf("LastUpdated = %v, want %v", m.LastUpdated(), t0)
	}
}

func TestDecay_Idempotent(t *testing.T) {
	m := New(t0, DefaultDecayRate)
	m.ApplyEvent(t0, SentimentPositive, true)

	later := t0.Add(3 * time.Hour)
	m.Decay(later)
	first := m.values

	m.Decay(later)
	if m.values != first {
		t.Errorf("second Decay at same time changed state: %v -> %v", first, m.values)
	}
}

func TestDecay_ZeroAndNegativeElapsed(t *testing.T) {
	m := New(t0, DefaultDecayRate)
	m.ApplyEvent(t0, SentimentNegative, false)
	before := m.values

	m.Decay(t0)
	m.Decay(t0.Add(-time.Hour))

	if m.values != before {
		t.Errorf("decay without elapsed time changed state: %v -> %v", before, m.values)
	}
	if !m.LastUpdated().Equal(t0) {
		t.Errorf("LastUpdated moved to %v", m.LastUpdated())
	}
}

func TestDecay_ExactFormula(t *testing.T) {
	m := New(t0, 0.05)
	m.values[Cortisol] = 0.9

	m.Decay(t0.Add(10 * time.Hour))

	f := math.Exp(-0.05 * 10)
	want := 0.9*f + 0.3*(1-f)
	if got := m.Value(Cortisol); math.Abs(got-want) > 1e-12 {
		t.Errorf("cortisol = %v, want %v", got, want)
	}
}

func TestDecay_MonotonicConvergence(t *testing.T) {
	m := New(t0, DefaultDecayRate)
	// Push every channel away from its baseline in both directions.
	m.values = [numChannels]float64{1, 0, 1, 0, 1, 0, 1, 0}

	prev := m.values
	now := t0
	for step := 0; step < 200; step++ {
		now = now.Add(time.Duration(step+1) * 17 * time.Minute)
		m.Decay(now)

		for _, c := range Channels() {
			base := c.Baseline()
			before := prev[c] - base
			after := m.values[c] - base
			if math.Abs(after) > math.Abs(before)+1e-15 {
				t.Fatalf("step %d: %s moved away from baseline (%v -> %v)", step, c, prev[c], m.values[c])
			}
			if before != 0 && after != 0 && math.Signbit(before) != math.Signbit(after) {
				t.Fatalf("step %d: %s overshot baseline %v (%v -> %v)", step, c, base, prev[c], m.values[c])
			}
		}
		prev = m.values
	}
}

func TestDecay_NearBaselineStaysOnItsSide(t *testing.T) {
	tests := []struct {
		name  string
		start float64
	}{
		{"just below", math.Nextafter(0.4, 0)},
		{"just above", math.Nextafter(0.4, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(t0, DefaultDecayRate)
			m.values[Oxytocin] = tt.start
			below := tt.start < 0.4

			now := t0
			for _, d := range []time.Duration{time.Minute, 17 * time.Minute, time.Hour, 50 * time.Hour} {
				now = now.Add(d)
				m.Decay(now)
				got := m.Value(Oxytocin)
				if below && got > 0.4 || !below && got < 0.4 {
					t.Fatalf("after %v: oxytocin = %v crossed baseline 0.4 from %v", d, got, tt.start)
				}
			}
		})
	}
}

func TestApplyEvent_Deltas(t *testing.T) {
	tests := []struct {
		name    string
		tag     Sentiment
		novel   bool
		channel Channel
		want    float64
	}{
		{"positive dopamine", SentimentPositive, false, Dopamine, 0.6},
		{"positive serotonin", SentimentPositive, false, Serotonin, 0.65},
		{"positive oxytocin", SentimentPositive, false, Oxytocin, 0.6},
		{"positive cortisol", SentimentPositive, false, Cortisol, 0.2},
		{"negative cortisol", SentimentNegative, false, Cortisol, 0.5},
		{"negative serotonin", SentimentNegative, false, Serotonin, 0.4},
		{"negative patience", SentimentNegative, false, Patience, 0.65},
		{"question curiosity", SentimentQuestion, false, Curiosity, 0.7},
		{"question dopamine", SentimentQuestion, false, Dopamine, 0.55},
		{"neutral untouched", SentimentNeutral, false, Dopamine, 0.5},
		{"novel novelty", SentimentNeutral, true, Novelty, 0.7},
		{"novel dopamine", SentimentNeutral, true, Dopamine, 0.6},
		{"novel curiosity", SentimentNeutral, true, Curiosity, 0.75},
		{"question and novel dopamine", SentimentQuestion, true, Dopamine, 0.65},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(t0, DefaultDecayRate)
			m.ApplyEvent(t0, tt.tag, tt.novel)
			if got := m.Value(tt.channel); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("%s = %v, want %v", tt.channel, got, tt.want)
			}
		})
	}
}

func TestApplyEvent_Clamping(t *testing.T) {
	m := New(t0, DefaultDecayRate)
	tags := []Sentiment{SentimentPositive, SentimentNegative, SentimentQuestion, SentimentNeutral}

	now := t0
	for i := 0; i < 500; i++ {
		// Mostly bursts with no elapsed time so deltas pile up.
		if i%50 == 0 {
			now = now.Add(time.Minute)
		}
		m.ApplyEvent(now, tags[i%len(tags)], i%3 != 0)
		for _, c := range Channels() {
			if v := m.Value(c); v < 0 || v > 1 {
				t.Fatalf("iteration %d: %s = %v out of [0,1]", i, c, v)
			}
		}
	}

	// Sustained positive events saturate at exactly 1.
	for i := 0; i < 20; i++ {
		m.ApplyEvent(now, SentimentPositive, true)
	}
	if got := m.Value(Dopamine); got != 1 {
		t.Errorf("dopamine = %v, want 1", got)
	}
	if got := m.Value(Cortisol); got != 0 {
		t.Errorf("cortisol = %v, want 0", got)
	}
}

func TestApplyEvent_StampsTime(t *testing.T) {
	m := New(t0, DefaultDecayRate)
	later := t0.Add(90 * time.Minute)
	m.ApplyEvent(later, SentimentNeutral, false)
	if !m.LastUpdated().Equal(later) {
		t.Errorf("LastUpdated = %v, want %v", m.LastUpdated(), later)
	}
}

func TestSentimentOf(t *testing.T) {
	tests := []struct {
		text string
		want Sentiment
	}{
		{"how are you?", SentimentQuestion},
		{"great news!", SentimentPositive},
		{"what?!", SentimentQuestion},
		{"wow! really?", SentimentQuestion},
		{"check disk space", SentimentNeutral},
		{"", SentimentNeutral},
	}
	for _, tt := range tests {
		if got := SentimentOf(tt.text); got != tt.want {
			t.Errorf("SentimentOf(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestSummarize_Priority(t *testing.T) {
	tests := []struct {
		name string
		set  map[Channel]float64
		want string
	}{
		{"defaults", nil, "balanced"},
		{"energized", map[Channel]float64{Dopamine: 0.8, Serotonin: 0.7}, "energized and content"},
		{"energized beats stressed", map[Channel]float64{Dopamine: 0.8, Serotonin: 0.7, Cortisol: 0.9}, "energized and content"},
		{"stressed", map[Channel]float64{Cortisol: 0.75}, "stressed"},
		{"stressed beats drowsy", map[Channel]float64{Cortisol: 0.75, Melatonin: 0.9}, "stressed"},
		{"drowsy", map[Channel]float64{Melatonin: 0.8}, "drowsy"},
		{"curious", map[Channel]float64{Curiosity: 0.71}, "curious and engaged"},
		{"impatient", map[Channel]float64{Patience: 0.2}, "impatient"},
		{"threshold is strict", map[Channel]float64{Cortisol: 0.7}, "balanced"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(t0, DefaultDecayRate)
			for c, v := range tt.set {
				m.values[c] = v
			}
			if got := m.Summarize(); got != tt.want {
				t.Errorf("Summarize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRender(t *testing.T) {
	m := New(t0, DefaultDecayRate)
	out := m.Render()

	if !strings.HasPrefix(out, "[AFFECT STATE]\n") {
		t.Errorf("missing header: %q", out)
	}
	if !strings.HasSuffix(out, "[/AFFECT STATE]") {
		t.Errorf("missing footer: %q", out)
	}
	for _, want := range []string{
		"dopamine: 0.50 (reward, engagement)",
		"cortisol: 0.30 (stress, urgency)",
		"patience: 0.70 (tolerance for delays)",
		"mood: balanced",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Render() missing %q:\n%s", want, out)
		}
	}
	if got := strings.Count(out, "\n"); got != 10 {
		t.Errorf("Render() has %d newlines, want 10", got)
	}
}

func TestSnapshot_IsCopy(t *testing.T) {
	m := New(t0, DefaultDecayRate)
	snap := m.Snapshot()
	snap.Values["dopamine"] = 0.99

	if m.Value(Dopamine) != 0.5 {
		t.Error("mutating snapshot changed model")
	}
	if len(snap.Values) != 8 {
		t.Errorf("snapshot has %d channels, want 8", len(snap.Values))
	}
	if snap.Mood != "balanced" {
		t.Errorf("Mood = %q, want balanced", snap.Mood)
	}
}
