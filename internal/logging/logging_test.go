package logging

import "testing"

func TestConfigure(t *testing.T) {
	tests := []struct {
		level   string
		format  string
		wantErr bool
	}{
		{"debug", "text", false},
		{"info", "json", false},
		{"", "", false},
		{"WARN", "TEXT", false},
		{"verbose", "text", true},
		{"info", "xml", true},
	}
	for _, tt := range tests {
		err := Configure(tt.level, tt.format)
		if (err != nil) != tt.wantErr {
			t.Errorf("Configure(%q, %q) err = %v, wantErr %v", tt.level, tt.format, err, tt.wantErr)
		}
	}
}
