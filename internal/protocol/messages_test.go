package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageAsk(t *testing.T) {
	raw := []byte(`{"type":"ask","request_id":"r1","query":"what is 2+2","user_ID":"u1","context":["math"]}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	ask, ok := msg.(Ask)
	if !ok {
		t.Fatalf("message type = %T, want Ask", msg)
	}
	if ask.RequestID != "r1" || ask.UserID != "u1" || ask.Query != "what is 2+2" {
		t.Fatalf("unexpected ask: %+v", ask)
	}
	if len(ask.Context) != 1 || ask.Context[0] != "math" {
		t.Fatalf("Context = %v, want [math]", ask.Context)
	}
}

func TestParseClientMessagePing(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"ping","request_id":"p1"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	ping, ok := msg.(Ping)
	if !ok || ping.RequestID != "p1" {
		t.Fatalf("unexpected ping: %#v", msg)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsBlankQuery(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"ask","query":"  ","user_ID":"u1"}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseClientMessageRejectsMalformedJSON(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":`)); err == nil {
		t.Fatalf("expected envelope error")
	}
}

func BenchmarkParseClientMessageAsk(b *testing.B) {
	raw := []byte(`{"type":"ask","request_id":"r1","query":"how do I sort a slice","user_ID":"u1","context":["go","generics"]}`)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := ParseClientMessage(raw); err != nil {
			b.Fatal(err)
		}
	}
}
