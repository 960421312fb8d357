package xpush

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bodyOf decodes the variant payload stored under key.
func bodyOf(t *testing.T, data []byte, key string) map[string]any {
	t.Helper()
	var top map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &top))
	var body map[string]any
	require.NoError(t, json.Unmarshal(top[key], &body))
	return body
}

func TestParse_RejectsMalformed(t *testing.T) {
	cases := []struct {
		name       string
		input      string
		validation bool
	}{
		{"not json", `{"type":`, false},
		{"not an object", `[1,2,3]`, false},
		{"missing type", `{"id":"1","event":{}}`, false},
		{"type not a string", `{"type":5}`, false},
		{"unknown type", `{"type":"command","command":{}}`, false},
		{"missing body", `{"type":"response","id":"1"}`, true},
		{"id not a string", `{"type":"event","id":5,"event":{"type":"X"}}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Build([]byte(tc.input))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrParse)

			var ve *ValidationError
			assert.Equal(t, tc.validation, errors.As(err, &ve))
			assert.Equal(t, tc.validation, errors.Is(err, ErrValidation))
		})
	}
}

func TestParseMap(t *testing.T) {
	env, err := ParseMap(map[string]any{
		"id":        "abc",
		"type":      "request",
		"timestamp": 1700000000.5,
		"request":   map[string]any{"target": "main", "action": "shell.exec"},
	})
	require.NoError(t, err)
	assert.Equal(t, "abc", env.ID)
	assert.Equal(t, KindRequest, env.Kind)
	assert.Equal(t, int64(1700000000), env.Timestamp.Unix())
	assert.NotEmpty(t, env.Body())

	_, err = ParseMap(map[string]any{"type": make(chan int)})
	assert.ErrorIs(t, err, ErrParse)
}

func TestBuild_DispatchesOnKind(t *testing.T) {
	msg, err := Build([]byte(`{"type":"event","event":{"type":"SensorDataChangeEvent","target":"main","data":21.5}}`))
	require.NoError(t, err)
	_, ok := msg.(*Event)
	assert.True(t, ok)

	msg, err = Build([]byte(`{"id":"1","type":"request","request":{"target":"main","action":"light.hue.on"}}`))
	require.NoError(t, err)
	_, ok = msg.(*Request)
	assert.True(t, ok)

	msg, err = BuildMap(map[string]any{
		"id":       "1",
		"type":     "response",
		"response": map[string]any{"output": nil, "errors": []any{}},
	})
	require.NoError(t, err)
	_, ok = msg.(*Response)
	assert.True(t, ok)
}

func TestEvent_WireFormat(t *testing.T) {
	ev := NewEvent("main", BluetoothDeviceConnectedEvent{Peer("AA:BB:CC:DD:EE:FF", "5")}, WithTimestamp(time.Time{}))

	data, err := ev.Serialize()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": null,
		"type": "event",
		"event": {
			"type": "BluetoothDeviceConnectedEvent",
			"target": "main",
			"address": "AA:BB:CC:DD:EE:FF",
			"port": "5"
		}
	}`, string(data))
}

func TestEvent_RoundTrip(t *testing.T) {
	events := []*Event{
		NewEvent("main", BluetoothDeviceConnectedEvent{Peer("AA:BB:CC:DD:EE:FF", "5")}, WithOrigin("phone")),
		NewEvent("main", BluetoothFileReceivedEvent{Path: Some("/tmp/photo.jpg")}),
		NewEvent("main", SensorDataAboveThresholdEvent{Reading(map[string]any{"temperature": 31.5})}, WithID("ev-1")),
		NewEvent("main", SensorDataChangeEvent{SensorReading{Data: Null[any]()}}),
		NewEvent("", BluetoothDeviceDisconnectedEvent{}),
	}
	for _, ev := range events {
		t.Run(ev.Type(), func(t *testing.T) {
			data, err := ev.Serialize()
			require.NoError(t, err)

			got, err := BuildEvent(data)
			require.NoError(t, err)
			assert.True(t, ev.Equal(got), "want %+v, got %+v", ev, got)
			assert.IsType(t, ev.Data, got.Data)
			assert.Equal(t, ev.ID, got.ID)
		})
	}
}

func TestEvent_AbsentAndNullAttributesStayDistinct(t *testing.T) {
	absent := NewEvent("main", BluetoothDeviceConnectedEvent{BluetoothPeer{Address: Some("AA")}})
	null := NewEvent("main", BluetoothDeviceConnectedEvent{BluetoothPeer{Address: Some("AA"), Port: Null[string]()}})

	for _, tc := range []struct {
		ev       *Event
		wantNull bool
	}{{absent, false}, {null, true}} {
		data, err := tc.ev.Serialize()
		require.NoError(t, err)

		v, present := bodyOf(t, data, "event")["port"]
		assert.Equal(t, tc.wantNull, present)
		assert.Nil(t, v)

		got, err := BuildEvent(data)
		require.NoError(t, err)
		peer := got.Data.(BluetoothDeviceConnectedEvent)
		assert.Equal(t, tc.wantNull, peer.Port.IsNull())
		assert.Equal(t, !tc.wantNull, peer.Port.IsAbsent())
		assert.Equal(t, "AA", peer.Address.Or(""))
	}
}

func TestEvent_QualifiedKindResolvesToTypedEvent(t *testing.T) {
	data := []byte(`{"type":"event","event":{
		"type":"platypush.message.event.bluetooth.BluetoothDeviceConnectedEvent",
		"target":"main","address":"AA:BB","port":"1"}}`)

	ev, err := BuildEvent(data)
	require.NoError(t, err)
	peer, ok := ev.Data.(BluetoothDeviceConnectedEvent)
	require.True(t, ok)
	assert.Equal(t, "AA:BB", peer.Address.Or(""))
	assert.Equal(t, "BluetoothDeviceConnectedEvent", ev.Type())
}

func TestEvent_GenericKindRoundTrips(t *testing.T) {
	data := []byte(`{"id":null,"type":"event","event":{"type":"MusicPlayEvent","target":"main","origin":"mpd","track":{"title":"So What"},"volume":70}}`)

	ev, err := BuildEvent(data)
	require.NoError(t, err)
	g, ok := ev.Data.(GenericEvent)
	require.True(t, ok)
	assert.Equal(t, "MusicPlayEvent", g.Type)
	assert.Equal(t, float64(70), g.Fields["volume"])
	assert.Equal(t, "mpd", ev.Origin)

	out, err := ev.Serialize()
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(out))
}

func TestEvent_ScalarAttributesReadAsText(t *testing.T) {
	ev, err := BuildEvent([]byte(`{"type":"event","event":{"type":"BluetoothDeviceConnectedEvent","target":"main","address":"AA:BB","port":5}}`))
	require.NoError(t, err)
	peer, ok := ev.Data.(BluetoothDeviceConnectedEvent)
	require.True(t, ok)
	assert.Equal(t, "5", peer.Port.Or(""))

	ev, err = BuildEvent([]byte(`{"type":"event","event":{"type":"BluetoothFileReceivedEvent","path":true}}`))
	require.NoError(t, err)
	assert.Equal(t, "true", ev.Data.(BluetoothFileReceivedEvent).Path.Or(""))

	big := []byte(`{"type":"event","event":{"type":"BluetoothFilePutRequestEvent","port":12345678901234567890}}`)
	ev, err = BuildEvent(big)
	require.NoError(t, err)
	assert.Equal(t, "12345678901234567890", ev.Data.(BluetoothFilePutRequestEvent).Port.Or(""))
}

func TestEvent_AttributesOutsideSchemaSurvive(t *testing.T) {
	data := []byte(`{"id":null,"type":"event","event":{"type":"BluetoothFileReceivedEvent","target":"main","origin":"phone","path":"/tmp/a.jpg","extra":1,"mime":"image/jpeg"}}`)

	ev, err := BuildEvent(data)
	require.NoError(t, err)
	got, ok := ev.Data.(BluetoothFileReceivedEvent)
	require.True(t, ok)
	assert.Equal(t, "/tmp/a.jpg", got.Path.Or(""))
	assert.Equal(t, Extras{"extra": float64(1), "mime": "image/jpeg"}, got.Extra)

	out, err := ev.Serialize()
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(out))

	reading := SensorReading{Data: Some[any](3), Extra: Extras{"data": "shadowed", "unit": "C"}}
	assert.Equal(t, map[string]any{"data": 3, "unit": "C"}, reading.Attrs())
}

func TestEvent_MissingKind(t *testing.T) {
	_, err := BuildEvent([]byte(`{"type":"event","event":{"target":"main"}}`))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewEvent("main", nil).Serialize()
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewEventFromAttrs("main", "", nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNewEventFromAttrs(t *testing.T) {
	ev, err := NewEventFromAttrs("main", "BluetoothDeviceConnectedEvent", map[string]any{
		"address": "AA:BB:CC:DD:EE:FF",
		"port":    "5",
	}, WithOrigin("cli"))
	require.NoError(t, err)
	assert.IsType(t, BluetoothDeviceConnectedEvent{}, ev.Data)
	assert.Equal(t, map[string]any{"address": "AA:BB:CC:DD:EE:FF", "port": "5"}, ev.Attrs())
	assert.Equal(t, "cli", ev.Origin)

	ev, err = NewEventFromAttrs("main", "DoorbellEvent", map[string]any{"floor": 2})
	require.NoError(t, err)
	assert.Equal(t, "DoorbellEvent", ev.Type())
	assert.Equal(t, float64(2), ev.Attrs()["floor"])
}

func TestRegisterEventKind_Rejects(t *testing.T) {
	noop := func(map[string]json.RawMessage) (EventData, error) { return GenericEvent{}, nil }
	assert.Error(t, RegisterEventKind("", noop))
	assert.Error(t, RegisterEventKind("a.b.Event", noop))
	assert.Error(t, RegisterEventKind("Event", nil))
}

func TestRequest_RoundTrip(t *testing.T) {
	req := NewRequest("main", "calendar.ical.get_upcoming_events", map[string]any{"max_results": 3}, WithOrigin("cli"))
	req.Timeout = 5 * time.Second

	data, err := req.Serialize()
	require.NoError(t, err)

	var wire struct {
		ID      string         `json:"id"`
		Type    string         `json:"type"`
		Request map[string]any `json:"request"`
	}
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, req.ID, wire.ID)
	assert.Equal(t, "request", wire.Type)
	assert.Equal(t, float64(5), wire.Request["timeout"])
	assert.Equal(t, map[string]any{"max_results": float64(3)}, wire.Request["args"])

	got, err := BuildRequest(data)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, "main", got.Target)
	assert.Equal(t, "cli", got.Origin)
	assert.Equal(t, req.Action, got.Action)
	assert.Equal(t, 5*time.Second, got.Timeout)
}

func TestRequest_UnsetTimeoutIsNull(t *testing.T) {
	req := NewRequest("main", "light.hue.on", nil)
	data, err := req.Serialize()
	require.NoError(t, err)

	body := bodyOf(t, data, "request")
	timeout, present := body["timeout"]
	assert.True(t, present)
	assert.Nil(t, timeout)
	assert.Equal(t, map[string]any{}, body["args"])

	got, err := BuildRequest(data)
	require.NoError(t, err)
	assert.Zero(t, got.Timeout)
	assert.NotNil(t, got.Args)
}

func TestRequest_IDsAreUnique(t *testing.T) {
	a := NewRequest("main", "x.y", nil)
	b := NewRequest("main", "x.y", nil)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "fixed", NewRequest("main", "x.y", nil, WithID("fixed")).ID)
}

func TestRequest_ArgsAreCopied(t *testing.T) {
	args := map[string]any{"max_results": 3}
	req := NewRequest("main", "x.y", args)
	args["max_results"] = 99
	assert.Equal(t, 3, req.Args["max_results"])
}

func TestBuildRequest_Validation(t *testing.T) {
	_, err := BuildRequest([]byte(`{"id":"1","type":"request","request":{"target":"main"}}`))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = BuildRequest([]byte(`{"id":"1","type":"request","request":{"action":"a.b"}}`))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = BuildRequest([]byte(`{"id":"1","type":"response","response":{"output":1,"errors":[]}}`))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestResponse_IsError(t *testing.T) {
	assert.False(t, NewResponse("1", "ok").IsError())
	assert.False(t, (&Response{ID: "1"}).IsError())
	assert.True(t, NewResponse("1", nil, "boom").IsError())
}

func TestResponse_OwnsItsErrorList(t *testing.T) {
	errs := []string{"first"}
	a := NewResponse("1", nil, errs...)
	b := NewResponse("2", nil)
	errs[0] = "mutated"
	a.Errors = append(a.Errors, "second")

	assert.Equal(t, []string{"first", "second"}, a.Errors)
	assert.Empty(t, b.Errors)
	assert.NotNil(t, b.Errors)
}

func TestResponse_RoundTrip(t *testing.T) {
	responses := []*Response{
		NewResponse("1", map[string]any{"events": []any{"standup"}}),
		NewResponse("2", nil, "calendar unreachable", "retry later"),
		NewResponse("3", 42.0, "partial"),
		Reply(&Request{ID: "4", Target: "main", Origin: "cli"}, "done"),
	}
	for _, r := range responses {
		data, err := r.Serialize()
		require.NoError(t, err)

		got, err := BuildResponse(data)
		require.NoError(t, err)
		assert.True(t, r.Equal(got), "want %+v, got %+v", r, got)
		assert.Equal(t, r.IsError(), got.IsError())
	}
}

func TestResponse_WireFormat(t *testing.T) {
	r := Reply(&Request{ID: "abc", Target: "main", Origin: "cli"}, []any{1.0, 2.0})
	r.ts = time.Time{}

	data, err := r.Serialize()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "abc",
		"type": "response",
		"target": "cli",
		"origin": "main",
		"response": {"output": [1, 2], "errors": []}
	}`, string(data))

	anon := NewResponse("x", nil)
	anon.ts = time.Time{}
	data, err = anon.Serialize()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"x","type":"response","target":null,"origin":null,"response":{"output":null,"errors":[]}}`, string(data))
}

func TestBuildResponse_Validation(t *testing.T) {
	_, err := BuildResponse([]byte(`{"id":"1","type":"response","response":{"errors":[]}}`))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "response.output", ve.Field)

	_, err = BuildResponse([]byte(`{"id":"1","type":"response","response":{"output":null}}`))
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "response.errors", ve.Field)

	_, err = BuildResponse([]byte(`{"id":"1","type":"response","response":"nope"}`))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBuildResponse_ForeignErrorItems(t *testing.T) {
	r, err := BuildResponseMap(map[string]any{
		"id":       "1",
		"type":     "response",
		"response": map[string]any{"output": nil, "errors": []any{"plain", map[string]any{"code": 3}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"plain", `{"code":3}`}, r.Errors)

	r, err = BuildResponse([]byte(`{"id":"1","type":"response","response":{"output":null,"errors":null}}`))
	require.NoError(t, err)
	assert.False(t, r.IsError())
}

func TestAttr(t *testing.T) {
	var absent Attr[int]
	assert.True(t, absent.IsAbsent())
	assert.Equal(t, 7, absent.Or(7))

	null := Null[int]()
	assert.True(t, null.IsNull())
	_, ok := null.Get()
	assert.False(t, ok)

	set := Some(3)
	v, ok := set.Get()
	assert.True(t, ok)
	assert.Equal(t, 3, v)
	assert.Equal(t, 3, set.Or(7))
}
