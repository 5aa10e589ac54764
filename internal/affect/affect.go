// Package affect models SEL's simulated mood as eight continuously
// decaying channels. Each channel drifts back toward its baseline over
// wall-clock time and is nudged by interaction events through a fixed
// delta table.
//
// The model is pure data: callers supply the current time, so decay is
// deterministic and testable without a clock.
package affect

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultDecayRate is the per-hour exponential decay constant shared by
// every channel.
const DefaultDecayRate = 0.05

// Channel identifies one scalar dimension of the mood vector.
type Channel int

// The eight affect channels, in render order.
const (
	Dopamine  Channel = iota // engagement, reward
	Serotonin                // well-being, contentment
	Oxytocin                 // bonding, trust
	Cortisol                 // stress, urgency
	Melatonin                // rest, reduced activity
	Novelty                  // exposure to new stimuli
	Curiosity                // drive to explore
	Patience                 // tolerance for delays

	numChannels
)

type channelInfo struct {
	name     string
	label    string
	baseline float64
	initial  float64
}

var channels = [numChannels]channelInfo{
	Dopamine:  {"dopamine", "reward, engagement", 0.5, 0.5},
	Serotonin: {"serotonin", "well-being, contentment", 0.5, 0.5},
	Oxytocin:  {"oxytocin", "bonding, trust", 0.4, 0.5},
	Cortisol:  {"cortisol", "stress, urgency", 0.3, 0.3},
	Melatonin: {"melatonin", "rest, reduced activity", 0.2, 0.2},
	Novelty:   {"novelty", "exposure to new stimuli", 0.4, 0.5},
	Curiosity: {"curiosity", "drive to explore", 0.6, 0.6},
	Patience:  {"patience", "tolerance for delays", 0.7, 0.7},
}

// Channels returns every channel in render order.
func Channels() []Channel {
	out := make([]Channel, numChannels)
	for i := range out {
		out[i] = Channel(i)
	}
	return out
}

// String returns the channel's short name (e.g. "cortisol").
func (c Channel) String() string {
	if c < 0 || c >= numChannels {
		return fmt.Sprintf("channel(%d)", int(c))
	}
	return channels[c].name
}

// Baseline returns the resting value the channel decays toward.
func (c Channel) Baseline() float64 {
	return channels[c].baseline
}

// Sentiment is the coarse event type derived from an inbound message.
type Sentiment string

// Recognized sentiment tags. Unknown tags apply no deltas.
const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentQuestion Sentiment = "question"
	SentimentNeutral  Sentiment = "neutral"
)

type delta struct {
	channel Channel
	amount  float64
}

// eventDeltas is applied in slice order; clamping happens per write.
var eventDeltas = map[Sentiment][]delta{
	SentimentPositive: {
		{Dopamine, 0.1},
		{Serotonin, 0.15},
		{Oxytocin, 0.1},
		{Cortisol, -0.1},
	},
	SentimentNegative: {
		{Cortisol, 0.2},
		{Serotonin, -0.1},
		{Patience, -0.05},
	},
	SentimentQuestion: {
		{Curiosity, 0.1},
		{Dopamine, 0.05},
	},
}

var noveltyDeltas = []delta{
	{Novelty, 0.2},
	{Dopamine, 0.1},
	{Curiosity, 0.15},
}

// SentimentOf derives the event tag from raw message text. A question
// mark wins over an exclamation mark; everything else is neutral.
func SentimentOf(text string) Sentiment {
	switch {
	case strings.Contains(text, "?"):
		return SentimentQuestion
	case strings.Contains(text, "!"):
		return SentimentPositive
	default:
		return SentimentNeutral
	}
}

// Model is one conversation's affect state. It is not safe for
// concurrent use; the orchestrator serializes access per conversation.
type Model struct {
	values      [numChannels]float64
	rate        float64
	lastUpdated time.Time
}

// New returns a model at the default initial values, stamped at now.
// A non-positive rate falls back to [DefaultDecayRate].
func New(now time.Time, ratePerHour float64) *Model {
	if ratePerHour <= 0 {
		ratePerHour = DefaultDecayRate
	}
	m := &Model{rate: ratePerHour, lastUpdated: now}
	for i, c := range channels {
		m.values[i] = c.initial
	}
	return m
}

// Value returns the current value of a channel.
func (m *Model) Value(c Channel) float64 {
	return m.values[c]
}

// LastUpdated returns the timestamp of the last decay or event.
func (m *Model) LastUpdated() time.Time {
	return m.lastUpdated
}

// Decay moves every channel toward its baseline by exponential decay
// over the hours elapsed since the last update. It is a no-op when no
// time (or negative time) has elapsed.
func (m *Model) Decay(now time.Time) {
	hours := now.Sub(m.lastUpdated).Seconds() / 3600
	if hours <= 0 {
		return
	}

	factor := math.Exp(-m.rate * hours)
	for i, c := range channels {
		m.values[i] = c.baseline + (m.values[i]-c.baseline)*factor
	}
	m.lastUpdated = now
}

// ApplyEvent decays to now and then applies the deltas for the given
// sentiment, plus the novelty deltas when isNovel is set.
func (m *Model) ApplyEvent(now time.Time, tag Sentiment, isNovel bool) {
	m.Decay(now)

	for _, d := range eventDeltas[tag] {
		m.adjust(d.channel, d.amount)
	}
	if isNovel {
		for _, d := range noveltyDeltas {
			m.adjust(d.channel, d.amount)
		}
	}

	m.lastUpdated = now
}

func (m *Model) adjust(c Channel, amount float64) {
	m.values[c] = clamp(m.values[c] + amount)
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Summarize maps the channel values to a single coarse mood label.
// Conditions are checked in a fixed priority order so exactly one
// label is always returned.
func (m *Model) Summarize() string {
	v := m.values
	switch {
	case v[Dopamine] > 0.7 && v[Serotonin] > 0.6:
		return "energized and content"
	case v[Cortisol] > 0.7:
		return "stressed"
	case v[Melatonin] > 0.7:
		return "drowsy"
	case v[Curiosity] > 0.7:
		return "curious and engaged"
	case v[Patience] < 0.3:
		return "impatient"
	default:
		return "balanced"
	}
}

// Render formats the state as a fixed block for model context.
func (m *Model) Render() string {
	var b strings.Builder
	b.WriteString("[AFFECT STATE]\n")
	for i, c := range channels {
		fmt.Fprintf(&b, "%s: %.2f (%s)\n", c.name, m.values[i], c.label)
	}
	fmt.Fprintf(&b, "mood: %s\n", m.Summarize())
	b.WriteString("[/AFFECT STATE]")
	return b.String()
}

// Snapshot is a read-only copy of a model, safe to hand to other
// goroutines.
type Snapshot struct {
	Values      map[string]float64 `json:"values"`
	Mood        string             `json:"mood"`
	LastUpdated time.Time          `json:"last_updated"`
}

// Snapshot copies the current state.
func (m *Model) Snapshot() Snapshot {
	values := make(map[string]float64, numChannels)
	for i, c := range channels {
		values[c.name] = m.values[i]
	}
	return Snapshot{
		Values:      values,
		Mood:        m.Summarize(),
		LastUpdated: m.lastUpdated,
	}
}
