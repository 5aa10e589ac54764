package mqtt

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sel-agent/sel/internal/config"
	"github.com/sel-agent/sel/internal/llm"
)

type fakeStats struct {
	active int
	turns  int64
	mood   string
	last   time.Time
}

func (f fakeStats) Uptime() time.Duration    { return 90*time.Minute + 1500*time.Millisecond }
func (f fakeStats) Version() string          { return "1.2.3" }
func (f fakeStats) ActiveConversations() int { return f.active }
func (f fakeStats) TurnsToday() int64        { return f.turns }
func (f fakeStats) Mood() string             { return f.mood }
func (f fakeStats) LastTurn() time.Time      { return f.last }

var testCfg = config.MQTTConfig{
	Broker:          "mqtt://localhost:1883",
	DeviceName:      "sel-home",
	DiscoveryPrefix: "homeassistant",
}

func TestLoadOrCreateInstanceID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	if _, err := uuid.Parse(first); err != nil {
		t.Errorf("id %q is not a UUID: %v", first, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != first {
		t.Errorf("file content = %q, want %q", got, first)
	}

	second, err := LoadOrCreateInstanceID(dir)
	if err != nil || second != first {
		t.Errorf("second call = %q, %v; want %q", second, err, first)
	}
}

func TestLoadOrCreateInstanceID_RegeneratesEmptyFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "instance_id"), []byte("  \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	id, err := LoadOrCreateInstanceID(dir)
	if err != nil || id == "" {
		t.Errorf("LoadOrCreateInstanceID() = %q, %v", id, err)
	}
}

func TestPublisher_TopicPaths(t *testing.T) {
	p := New(testCfg, "test-id", nil, fakeStats{}, nil)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"baseTopic", p.baseTopic(), "sel/sel-home"},
		{"availabilityTopic", p.availabilityTopic(), "sel/sel-home/availability"},
		{"stateTopic mood", p.stateTopic("mood"), "sel/sel-home/mood/state"},
		{"discoveryTopic", p.discoveryTopic("sensor", "mood"), "homeassistant/sensor/sel-home/mood/config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestPublisher_SensorDefinitions(t *testing.T) {
	p := New(testCfg, "instance-123", nil, fakeStats{}, nil)

	want := []string{"active_conversations", "turns_today", "tokens_today", "mood", "last_turn", "version", "uptime"}
	if dev := p.Device(); dev.Name != testCfg.DeviceName || dev.Identifiers[0] != "instance-123" {
		t.Errorf("Device() = %+v", dev)
	}

	defs := p.sensorDefinitions()
	if len(defs) != len(want) {
		t.Fatalf("got %d sensor definitions, want %d", len(defs), len(want))
	}

	for i, d := range defs {
		if d.entitySuffix != want[i] {
			t.Errorf("sensor %d = %q, want %q", i, d.entitySuffix, want[i])
		}
		c := d.config
		if strings.Contains(c.Name, testCfg.DeviceName) {
			t.Errorf("sensor %s: Name %q repeats the device name", d.entitySuffix, c.Name)
		}
		if !c.HasEntityName || c.ObjectID != d.entitySuffix {
			t.Errorf("sensor %s: HasEntityName=%v ObjectID=%q", d.entitySuffix, c.HasEntityName, c.ObjectID)
		}
		if c.UniqueID != "instance-123_"+d.entitySuffix {
			t.Errorf("sensor %s: UniqueID = %q", d.entitySuffix, c.UniqueID)
		}
		if c.AvailabilityTopic != "sel/sel-home/availability" {
			t.Errorf("sensor %s: AvailabilityTopic = %q", d.entitySuffix, c.AvailabilityTopic)
		}
		if c.StateTopic != p.stateTopic(d.entitySuffix) {
			t.Errorf("sensor %s: StateTopic = %q", d.entitySuffix, c.StateTopic)
		}
		if len(c.Device.Identifiers) != 1 || c.Device.Identifiers[0] != "instance-123" {
			t.Errorf("sensor %s: Device = %+v", d.entitySuffix, c.Device)
		}
	}

	payload, err := json.Marshal(defs[4].config)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(payload), `"device_class":"timestamp"`) {
		t.Errorf("last_turn payload = %s", payload)
	}
}

func TestPublisher_States(t *testing.T) {
	last := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	tokens := NewDailyTokens(time.UTC)
	tokens.Observe(context.Background(), llm.Usage{InputTokens: 1200, OutputTokens: 300})

	p := New(testCfg, "id", tokens, fakeStats{active: 3, turns: 17, mood: "curious and engaged", last: last}, nil)
	got := p.states()

	want := map[string]string{
		"active_conversations": "3",
		"turns_today":          "17",
		"tokens_today":         "1500",
		"mood":                 "curious and engaged",
		"last_turn":            "2025-03-14T09:30:00Z",
		"version":              "1.2.3",
		"uptime":               "1h30m1s",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
	if len(got) != len(p.sensorDefinitions()) {
		t.Errorf("%d states for %d sensors", len(got), len(p.sensorDefinitions()))
	}
}

func TestPublisher_StatesBeforeFirstTurn(t *testing.T) {
	p := New(testCfg, "id", nil, fakeStats{}, nil)
	got := p.states()
	if got["mood"] != "unknown" || got["last_turn"] != "None" || got["tokens_today"] != "0" {
		t.Errorf("states = %v", got)
	}
}

func TestPublisher_StopWithoutStart(t *testing.T) {
	p := New(testCfg, "id", nil, fakeStats{}, nil)
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("Stop() = %v", err)
	}
}

func TestNewDeviceInfo(t *testing.T) {
	info := NewDeviceInfo("instance-abc", "sel-home")
	if info.Name != "sel-home" || info.Manufacturer != "SEL" {
		t.Errorf("info = %+v", info)
	}
	if len(info.Identifiers) != 1 || info.Identifiers[0] != "instance-abc" {
		t.Errorf("Identifiers = %v", info.Identifiers)
	}
}

func TestDailyTokens(t *testing.T) {
	dt := NewDailyTokens(time.UTC)
	ctx := context.Background()
	dt.Observe(ctx, llm.Usage{InputTokens: 100, OutputTokens: 200})
	dt.Observe(ctx, llm.Usage{InputTokens: 50, OutputTokens: 75})

	input, output, requests := dt.Snapshot()
	if input != 150 || output != 275 || requests != 2 {
		t.Errorf("Snapshot() = (%d, %d, %d), want (150, 275, 2)", input, output, requests)
	}
}

func TestDailyTokens_MidnightReset(t *testing.T) {
	loc := time.FixedZone("test", -5*3600)
	now := time.Date(2025, 3, 14, 23, 59, 0, 0, loc)

	dt := NewDailyTokens(loc)
	dt.now = func() time.Time { return now }
	dt.day = dt.today()

	dt.Observe(context.Background(), llm.Usage{InputTokens: 10, OutputTokens: 10})
	now = now.Add(2 * time.Minute)

	if in, out, n := dt.Snapshot(); in != 0 || out != 0 || n != 0 {
		t.Errorf("after midnight = (%d, %d, %d), want zeros", in, out, n)
	}
	dt.Observe(context.Background(), llm.Usage{InputTokens: 1, OutputTokens: 2})
	if in, out, n := dt.Snapshot(); in != 1 || out != 2 || n != 1 {
		t.Errorf("new day = (%d, %d, %d)", in, out, n)
	}
}

func TestDailyTokens_Concurrent(t *testing.T) {
	dt := NewDailyTokens(time.UTC)
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dt.Observe(context.Background(), llm.Usage{InputTokens: 10, OutputTokens: 20})
		}()
	}
	wg.Wait()

	input, output, requests := dt.Snapshot()
	if input != 1000 || output != 2000 || requests != 100 {
		t.Errorf("Snapshot() = (%d, %d, %d)", input, output, requests)
	}
}
