package subscription

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateTopic(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		wantErr bool
	}{
		{"simple", "home/kitchen/temp", false},
		{"single level wildcard", "home/+/temp", false},
		{"multi level wildcard", "home/#", false},
		{"only hash", "#", false},
		{"only plus", "+", false},
		{"plus and hash", "+/tennis/#", false},
		{"leading slash", "/home", false},
		{"max length", strings.Repeat("a", MaxTopicLength), false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxTopicLength+1), true},
		{"nul byte", "home/\x00/temp", true},
		{"invalid utf8", "home/\xff", true},
		{"hash not last", "home/#/temp", true},
		{"hash inside level", "home/kit#", true},
		{"plus inside level", "home/kit+chen", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTopic(tt.topic)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateTopic() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidTopic) {
				t.Errorf("ValidateTopic() error = %v, want ErrInvalidTopic", err)
			}
		})
	}
}

func TestValidateQoS(t *testing.T) {
	for qos := byte(0); qos <= 2; qos++ {
		if err := ValidateQoS(qos); err != nil {
			t.Errorf("ValidateQoS(%d) error = %v", qos, err)
		}
	}
	if err := ValidateQoS(3); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("ValidateQoS(3) error = %v, want ErrInvalidQoS", err)
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"home/kitchen/temp", "home/kitchen/temp", true},
		{"home/kitchen/temp", "home/kitchen/hum", false},
		{"home/+/temp", "home/kitchen/temp", true},
		{"home/+/temp", "home/kitchen/hum", false},
		{"home/+/temp", "home/temp", false},
		{"home/#", "home/kitchen/temp", true},
		{"home/#", "home", true},
		{"home/#", "office/a", false},
		{"#", "anything/at/all", true},
		{"+", "single", true},
		{"+", "two/levels", false},
		{"+/+", "/finance", true},
		{"#", "$SYS/broker/uptime", false},
		{"+/broker/uptime", "$SYS/broker/uptime", false},
		{"$SYS/#", "$SYS/broker/uptime", true},
		{"$share/group/home/+", "home/kitchen", true},
		{"$share/group", "group", false},
	}

	for _, tt := range tests {
		t.Run(tt.filter+"|"+tt.topic, func(t *testing.T) {
			if got := Match(tt.filter, tt.topic); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
			}
		})
	}
}

func TestHasWildcard(t *testing.T) {
	if HasWildcard("a/b") {
		t.Error("HasWildcard(a/b) = true, want false")
	}
	if !HasWildcard("a/+") || !HasWildcard("a/#") {
		t.Error("HasWildcard() = false for a wildcard filter")
	}
}
