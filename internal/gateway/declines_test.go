package gateway

import "testing"

func TestDeclineMessage(t *testing.T) {
	tests := []struct {
		code          string
		wantMessage   string
		wantRetryable bool
	}{
		{"insufficient_funds", "Insufficient funds.", true},
		{"expired_card", "Your card has expired.", false},
		{"lost_card", genericDeclineMessage, false},
		{"stolen_card", genericDeclineMessage, false},
		{"generic_decline", genericDeclineMessage, true},
		{"processing_error", "A processing error occurred. Please try again.", true},
		{"some_unknown_code", genericDeclineMessage, true},
		{"", genericDeclineMessage, true},
	}

	for _, tt := range tests {
		msg, retryable := DeclineMessage(tt.code)
		if msg != tt.wantMessage {
			t.Fatalf("DeclineMessage(%q) message=%q, want %q", tt.code, msg, tt.wantMessage)
		}
		if retryable != tt.wantRetryable {
			t.Fatalf("DeclineMessage(%q) retryable=%v, want %v", tt.code, retryable, tt.wantRetryable)
		}
	}
}
