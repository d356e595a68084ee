package events

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"fixedterm/core/types"
)

type testEvent struct{ evt *types.Event }

func (e testEvent) EventType() string    { return e.evt.Type }
func (e testEvent) Event() *types.Event { return e.evt }

func TestRecorderAndMulti(t *testing.T) {
	var a, b Recorder
	fan := Multi{&a, nil, &b, NoopEmitter{}}
	fan.Emit(testEvent{evt: &types.Event{Type: "one"}})
	fan.Emit(testEvent{evt: &types.Event{Type: "two"}})

	if got := a.Types(); len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("unexpected recorder contents: %v", got)
	}
	if len(b.Events()) != 2 {
		t.Fatalf("fan out must reach every emitter")
	}
	a.Reset()
	if len(a.Events()) != 0 {
		t.Fatalf("reset must drop events")
	}
}

func TestLogEmitterWritesAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	LogEmitter{Logger: logger}.Emit(testEvent{evt: &types.Event{
		Type:       "fixedterm.settled",
		Attributes: map[string]string{"owner": "ft1abc", "tokens": "10"},
	}})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["event"] != "fixedterm.settled" || line["tokens"] != "10" || line["owner"] != "ft1abc" {
		t.Fatalf("unexpected log line: %v", line)
	}
}
