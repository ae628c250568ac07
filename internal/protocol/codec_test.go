package protocol

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestEncodeTypeFirst(t *testing.T) {
	cases := []struct {
		msg  Message
		want string
	}{
		{Connect{}, `{"type":"connect"}`},
		{Connect{Ack: true}, `{"type":"connect","ack":true}`},
		{Disconnect{}, `{"type":"disconnect"}`},
		{CallRecord{Timestamp: 1700000000000, CallNumber: 4, Duration: 35000},
			`{"type":"callRecord","timestamp":1700000000000,"callNumber":4,"duration":35000}`},
		{Unknown{Kind: "ping"}, `{"type":"ping"}`},
	}
	for _, tc := range cases {
		got, err := Encode(tc.msg)
		if err != nil {
			t.Fatalf("Encode(%T): %v", tc.msg, err)
		}
		if string(got) != tc.want {
			t.Errorf("Encode(%T) = %s, want %s", tc.msg, got, tc.want)
		}
	}
}

func TestDecodeVariants(t *testing.T) {
	n := 7
	contact := Contact{
		Contact: &ContactDetails{
			FirstName:        "Ada",
			LastName:         "Lovelace",
			PhoneNumber:      "+15555550100",
			AdditionalFields: map[string]string{"Ward": "3"},
		},
		YourName:         "Sam",
		MessageTemplates: []MessageTemplate{{Label: "Hi", Message: "Hi {firstName}", SendTextedResult: true}},
		ResultCodes:      []string{"Not Home", "Refused"},
		Stats:            &Stats{Calls: 10, SuccessfulCalls: 3, StartTime: 1700000000000},
		CallNumber:       &n,
	}
	result := CallResult{Result: "Not Home", CallNumber: 7, Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

	for _, m := range []Message{Connect{Ack: true}, contact, result, CallRecord{Timestamp: 1, CallNumber: 2, Duration: 3}, Disconnect{}} {
		raw, err := Encode(m)
		if err != nil {
			t.Fatalf("Encode(%T): %v", m, err)
		}
		got, err := Decode(raw)
		if err != nil {
			t.Fatalf("Decode(%s): %v", raw, err)
		}
		if !reflect.DeepEqual(got, m) {
			t.Errorf("Decode(%s) = %#v, want %#v", raw, got, m)
		}
	}
}

func TestDecodeUnknownIsForwardCompatible(t *testing.T) {
	raw := []byte(`{"type":"ping","n":1}`)
	m, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	u, ok := m.(Unknown)
	if !ok {
		t.Fatalf("Decode returned %T, want Unknown", m)
	}
	if u.Type() != "ping" || string(u.Raw) != string(raw) {
		t.Fatalf("unknown = %+v", u)
	}

	again, err := Encode(u)
	if err != nil || string(again) != string(raw) {
		t.Fatalf("re-encode = %s, %v", again, err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":         `{"type":`,
		"array":            `[1,2]`,
		"string":           `"connect"`,
		"null":             `null`,
		"no type":          `{"ack":true}`,
		"numeric type":     `{"type":3}`,
		"empty type":       `{"type":""}`,
		"wrong body shape": `{"type":"callResult","callNumber":"seven"}`,
		"bad timestamp":    `{"type":"callResult","timestamp":"yesterday"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode([]byte(raw)); !errors.Is(err, ErrMalformed) {
				t.Fatalf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestEncodeRejectsEmpty(t *testing.T) {
	if _, err := Encode(nil); !errors.Is(err, ErrMalformed) {
		t.Fatalf("Encode(nil): %v", err)
	}
	if _, err := Encode(Unknown{}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("Encode(Unknown{}): %v", err)
	}
	if _, err := Encode(Unknown{Kind: "x", Raw: []byte("{")}); err == nil || !strings.Contains(err.Error(), "invalid raw") {
		t.Fatalf("Encode with invalid raw: %v", err)
	}
}
