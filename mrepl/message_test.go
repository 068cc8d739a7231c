package mrepl

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestStatusesNormalizesSlotShapes(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		want []string
	}{
		{"absent", Message{}, nil},
		{"bare string", Message{SlotStatus: "done"}, []string{"done"}},
		{"string list", Message{SlotStatus: []string{"error", "done"}}, []string{"error", "done"}},
		{"decoded json list", Message{SlotStatus: []any{"need-input"}}, []string{"need-input"}},
		{"non string entries skipped", Message{SlotStatus: []any{1, "done"}}, []string{"done"}},
		{"wrong type", Message{SlotStatus: 42}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.msg.Statuses(); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Statuses() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestStatusesAfterJSONRoundTrip(t *testing.T) {
	raw, err := json.Marshal(ResponseStatus(NewMessage("eval"), StatusError, StatusDone))
	if err != nil {
		t.Fatal(err)
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatal(err)
	}
	if !msg.HasStatus(StatusError) || !msg.HasStatus(StatusDone) {
		t.Fatalf("statuses lost in transit: %v", msg.Statuses())
	}
	if !IsTerminal(msg) {
		t.Fatal("response with done status should be terminal")
	}
}

func TestResponseCarriesCorrelationSlots(t *testing.T) {
	req := Message{SlotOp: "eval", SlotID: "m1", SlotSession: "s1", "code": "1"}
	resp := Response(req)
	if resp.ID() != "m1" || resp.Session() != "s1" {
		t.Fatalf("response = %v, want id m1 and session s1", resp)
	}
	if _, ok := resp["code"]; ok {
		t.Fatal("request slots must not leak into the response")
	}

	// A sessionless request yields a response without a session slot.
	if resp := Response(Message{SlotOp: "describe", SlotID: "m2"}); resp.Session() != "" {
		t.Fatalf("unexpected session slot: %v", resp)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	orig := Message{SlotOp: "eval", "code": "1"}
	cp := orig.Clone()
	cp["code"] = "2"
	if orig["code"] != "1" {
		t.Fatalf("clone mutation leaked: %v", orig)
	}
}
