package telegram

import (
	"testing"

	"github.com/agentline/agentline/internal/channels"
)

func TestParseUpdate(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    channels.Inbound
		wantErr bool
	}{
		{
			name:    "text message",
			payload: `{"update_id":1,"message":{"message_id":10,"chat":{"id":42},"text":"hello"}}`,
			want:    channels.Inbound{ChatID: "42", Text: "hello"},
		},
		{
			name:    "edited message",
			payload: `{"update_id":2,"edited_message":{"message_id":10,"chat":{"id":42},"text":"hello again"}}`,
			want:    channels.Inbound{ChatID: "42", Text: "hello again"},
		},
		{
			name:    "callback query",
			payload: `{"update_id":3,"callback_query":{"id":"cb1","data":"next","message":{"message_id":10,"date":1700000000,"chat":{"id":42}}}}`,
			want:    channels.Inbound{ChatID: "42", CallbackID: "cb1", CallbackData: "next"},
		},
		{
			name:    "callback query on inaccessible message",
			payload: `{"update_id":7,"callback_query":{"id":"cb3","data":"next","message":{"message_id":10,"date":0,"chat":{"id":42}}}}`,
			want:    channels.Inbound{ChatID: "42", CallbackID: "cb3", CallbackData: "next"},
		},
		{
			name:    "callback query without message",
			payload: `{"update_id":4,"callback_query":{"id":"cb2","data":"x"}}`,
			want:    channels.Inbound{CallbackID: "cb2", CallbackData: "x"},
		},
		{
			name:    "negative chat id for group",
			payload: `{"update_id":5,"message":{"message_id":10,"chat":{"id":-100123},"text":"hi"}}`,
			want:    channels.Inbound{ChatID: "-100123", Text: "hi"},
		},
		{
			name:    "unhandled update type",
			payload: `{"update_id":6,"channel_post":{"message_id":10,"chat":{"id":42},"text":"post"}}`,
			wantErr: true,
		},
		{
			name:    "not json",
			payload: `<xml/>`,
			wantErr: true,
		},
		{
			name:    "empty object",
			payload: `{}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUpdate([]byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatal("ParseUpdate succeeded, want error")
				}
				if channels.GetErrorCode(err) != channels.ErrCodeBadRequest {
					t.Errorf("error code = %s, want BAD_REQUEST", channels.GetErrorCode(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseUpdate: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseUpdate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseUpdateCallbackIsCallback(t *testing.T) {
	in, err := ParseUpdate([]byte(`{"update_id":1,"callback_query":{"id":"cb1","data":"d"}}`))
	if err != nil {
		t.Fatalf("ParseUpdate: %v", err)
	}
	if !in.IsCallback() {
		t.Error("callback update not classified as callback")
	}

	in, err = ParseUpdate([]byte(`{"update_id":2,"message":{"chat":{"id":1},"text":"t"}}`))
	if err != nil {
		t.Fatalf("ParseUpdate: %v", err)
	}
	if in.IsCallback() {
		t.Error("text update classified as callback")
	}
}

func TestConnSendRejectsBadChatID(t *testing.T) {
	c := &Conn{agentID: "a1"}
	if err := c.Send(t.Context(), "not-a-number", "hi"); err == nil {
		t.Error("Send accepted a non-numeric chat id")
	}
}

func TestConnStateTracksClose(t *testing.T) {
	c := &Conn{agentID: "a1"}
	if c.State() != channels.StateConnected {
		t.Errorf("State = %q, want connected", c.State())
	}
	if err := c.Close(t.Context()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.State() != channels.StateDisconnected {
		t.Errorf("State after Close = %q, want disconnected", c.State())
	}
}
