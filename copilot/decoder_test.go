package copilot

import (
	"iter"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantOK    bool
		wantErr   bool
		wantType  EventType
		wantSess  string
		wantReq   string
		wantField string
	}{
		{
			name:      "reasoning",
			line:      `{"type":"assistant.reasoning","session_id":"s1","data":{"content":"thinking"}}`,
			wantOK:    true,
			wantType:  EventAssistantReasoning,
			wantSess:  "s1",
			wantField: "thinking",
		},
		{
			name:      "reply with request id",
			line:      `{"type":"assistant.message","session_id":"s1","request_id":"r1","data":{"content":"hi"}}`,
			wantOK:    true,
			wantType:  EventAssistantMessage,
			wantSess:  "s1",
			wantReq:   "r1",
			wantField: "hi",
		},
		{
			name:     "unknown type passes through",
			line:     `{"type":"session.usage","session_id":"s1","data":{}}`,
			wantOK:   true,
			wantType: "session.usage",
			wantSess: "s1",
		},
		{
			name:     "missing data",
			line:     `{"type":"session.idle","session_id":"s1"}`,
			wantOK:   true,
			wantType: EventSessionIdle,
			wantSess: "s1",
		},
		{name: "blank line", line: "", wantOK: false},
		{name: "whitespace only", line: "   \t", wantOK: false},
		{name: "not json", line: "Starting copilot server...", wantOK: true, wantErr: true},
		{name: "truncated json", line: `{"type":"assistant.mess`, wantOK: true, wantErr: true},
		{name: "no type", line: `{"session_id":"s1","data":{}}`, wantOK: true, wantErr: true},
		{name: "json array", line: `[1,2,3]`, wantOK: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok, err := Decode([]byte(tt.line))
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantErr {
				var decodeErr *DecodeError
				require.ErrorAs(t, err, &decodeErr)
				return
			}
			require.NoError(t, err)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantType, ev.Type)
			assert.Equal(t, tt.wantSess, ev.SessionID)
			assert.Equal(t, tt.wantReq, ev.RequestID)
			assert.Equal(t, tt.wantField, ev.Data.Content)
			assert.JSONEq(t, tt.line, string(ev.Raw))
		})
	}
}

func TestDecode_Timestamp(t *testing.T) {
	ev, ok, err := Decode([]byte(`{"type":"session.idle","timestamp":"2025-01-02T03:04:05Z","data":{}}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), ev.Timestamp.UTC())

	before := time.Now()
	ev, _, err = Decode([]byte(`{"type":"session.idle","data":{}}`))
	require.NoError(t, err)
	assert.False(t, ev.Timestamp.Before(before), "missing timestamp defaults to decode time")
}

func TestDecode_Payload(t *testing.T) {
	line := `{"type":"tool.execution_complete","session_id":"s1","data":{"tool_name":"bash","tool_call_id":"c1","arguments":{"cmd":"ls"},"success":false,"result":"boom"}}`
	ev, _, err := Decode([]byte(line))
	require.NoError(t, err)

	assert.Equal(t, "bash", ev.Data.ToolName)
	assert.Equal(t, "c1", ev.Data.ToolCallID)
	assert.JSONEq(t, `{"cmd":"ls"}`, string(ev.Data.Arguments))
	require.NotNil(t, ev.Data.Success)
	assert.False(t, *ev.Data.Success)
	assert.Equal(t, "boom", ev.Data.Result)
}

func TestDecode_Models(t *testing.T) {
	line := `{"type":"models.list.result","request_id":"r1","data":{"models":[{"id":"b","name":"B"},{"id":"a","name":"A"}]}}`
	ev, _, err := Decode([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, []ModelInfo{{ID: "b", Name: "B"}, {ID: "a", Name: "A"}}, ev.Data.Models)
}

func lines(ss ...string) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for _, s := range ss {
			if !yield([]byte(s)) {
				return
			}
		}
	}
}

func TestEvents_MalformedFrameKeepsOrder(t *testing.T) {
	frames := lines(
		`{"type":"assistant.message_delta","session_id":"s1","data":{"delta_content":"a"}}`,
		`garbage`,
		``,
		`{"type":"assistant.message_delta","session_id":"s1","data":{"delta_content":"b"}}`,
	)

	events := slices.Collect(Events(frames, testLogger()))
	require.Len(t, events, 3)

	assert.Equal(t, "a", events[0].Data.DeltaContent)
	assert.Equal(t, EventDecodeError, events[1].Type)
	var decodeErr *DecodeError
	require.ErrorAs(t, events[1].Err, &decodeErr)
	assert.Equal(t, "garbage", decodeErr.Line)
	assert.Equal(t, "b", events[2].Data.DeltaContent)
}

func TestEvents_StopsWhenConsumerStops(t *testing.T) {
	consumed := 0
	frames := func(yield func([]byte) bool) {
		for range 10 {
			consumed++
			if !yield([]byte(`{"type":"session.idle"}`)) {
				return
			}
		}
	}

	for range Events(frames, testLogger()) {
		break
	}
	assert.Equal(t, 1, consumed)
}

func TestDecodeError_TruncatesLongLines(t *testing.T) {
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	_, _, err := Decode(long)
	require.Error(t, err)
	assert.Less(t, len(err.Error()), 400)
}
