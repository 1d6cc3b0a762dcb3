package chat

import "testing"

func TestConversationString(t *testing.T) {
	tests := []struct {
		name string
		conv Conversation
		want string
	}{
		{"channel", NewChannel("general"), "channel:general"},
		{"dm", NewDM("u42"), "dm:u42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.conv.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseConversation(t *testing.T) {
	tests := []struct {
		in      string
		want    Conversation
		wantErr bool
	}{
		{in: "channel:general", want: NewChannel("general")},
		{in: "dm:u42", want: NewDM("u42")},
		{in: "general", want: NewChannel("general")},
		{in: "channel:a:b", want: NewChannel("a:b")},
		{in: "group:x", wantErr: true},
		{in: "channel:", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseConversation(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseConversation(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseConversation(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseConversation(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestConversationIsZero(t *testing.T) {
	if !(Conversation{}).IsZero() {
		t.Error("zero Conversation should report IsZero")
	}
	if NewChannel("general").IsZero() {
		t.Error("channel conversation should not report IsZero")
	}
}

func TestConversationTypeValid(t *testing.T) {
	tests := []struct {
		typ  ConversationType
		want bool
	}{
		{ConversationChannel, true},
		{ConversationDM, true},
		{"group", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := tt.typ.Valid(); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestPresenceStatusValid(t *testing.T) {
	valid := []PresenceStatus{PresenceOnline, PresenceAway, PresenceBusy, PresenceOffline}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("Valid(%q) = false, want true", s)
		}
	}
	for _, s := range []PresenceStatus{"", "invisible", "ONLINE"} {
		if s.Valid() {
			t.Errorf("Valid(%q) = true, want false", s)
		}
	}
}
