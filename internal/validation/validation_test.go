package validation

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	rules := SegmentRules()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "router1", false},
		{"with hyphen", "my-router", false},
		{"with underscore", "my_router", false},
		{"with dot", "core.dc1", false},
		{"ip-like", "192.168.1.1", false},
		{"empty", "", true},
		{"dot", ".", true},
		{"dotdot", "..", true},
		{"slash", "a/b", true},
		{"backslash", "a\\b", true},
		{"control char", "a\x00b", true},
		{"space", "a b", true},
		{"too long", strings.Repeat("a", 256), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input, rules)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateNameWithoutDots(t *testing.T) {
	rules := SegmentRules()
	rules.AllowDots = false

	if err := ValidateName("my.router", rules); err == nil {
		t.Error("expected error for dot when dots are not allowed")
	}
}

func TestValidateTopic(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"test/topic", false},
		{"snmp/core-1/ifInOctets", false},
		{"temp", false},
		{"rover pose", false},
		{"", true},
		{"/lead", true},
		{"trail/", true},
		{"a//b", true},
		{"tab\there", true},
		{strings.Repeat("x", MaxTopicLength+1), true},
	}

	for _, tt := range tests {
		err := ValidateTopic(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateTopic(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
	}
}

func TestValidateOID(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"1.3.6.1.2.1.1.5.0", false},
		{".1.3.6.1.2.1.1.5.0", false},
		{"1.3", false},
		{"", true},
		{".", true},
		{"1", true},
		{"1..3", true},
		{"1.3.x", true},
		{"sysName.0", true},
	}

	for _, tt := range tests {
		err := ValidateOID(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateOID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
	}
}
