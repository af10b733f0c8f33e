package backoff

import "testing"

func TestForName(t *testing.T) {
	tests := []struct {
		name    string
		want    Strategy
		wantErr bool
	}{
		{name: "", want: LinearStrategy{}},
		{name: "linear", want: LinearStrategy{}},
		{name: " Exponential ", want: ExponentialJitterStrategy{Multiplier: 2, Jitter: 0.1}},
		{name: "decorrelated", want: DecorrelatedJitterStrategy{}},
		{name: "fibonacci", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ForName(tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ForName(%q) expected error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("ForName(%q) unexpected error: %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ForName(%q) = %#v, want %#v", tt.name, got, tt.want)
		}
	}
}
