package timespec

import (
	"errors"
	"testing"
)

func TestParseVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want Minute
	}{
		{name: "bare 12h", raw: "9am", want: 540},
		{name: "12h with minutes", raw: "9:00am", want: 540},
		{name: "12h with space and caps", raw: "9:00 AM", want: 540},
		{name: "12h pm", raw: "5pm", want: 1020},
		{name: "12h pm minutes", raw: "5:45 pm", want: 1065},
		{name: "noon", raw: "12pm", want: 720},
		{name: "midnight", raw: "12am", want: 0},
		{name: "24h", raw: "17:30", want: 1050},
		{name: "24h leading zero", raw: "09:00", want: 540},
		{name: "24h single digit hour", raw: "7:05", want: 425},
		{name: "24h midnight", raw: "0:00", want: 0},
		{name: "24h last minute", raw: "23:59", want: 1439},
		{name: "surrounding whitespace", raw: "  10:15  ", want: 615},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("Parse(%q) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	bad := []string{
		"", "gibberish", "25:00", "12:60", "13pm", "0am", "-1:00",
		"9:3:7", "9:", "am", "12 34",
	}
	for _, raw := range bad {
		if _, err := Parse(raw); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Parse(%q): expected ErrMalformed, got %v", raw, err)
		}
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		m    Minute
		want string
	}{
		{0, "12:00 AM"},
		{540, "9:00 AM"},
		{720, "12:00 PM"},
		{1020, "5:00 PM"},
		{1439, "11:59 PM"},
	}
	for _, tt := range tests {
		if got := Format(tt.m); got != tt.want {
			t.Fatalf("Format(%d) = %q, want %q", tt.m, got, tt.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	for m := Minute(0); m < MinutesPerDay; m++ {
		back, err := Parse(Format(m))
		if err != nil {
			t.Fatalf("Parse(Format(%d)) error: %v", m, err)
		}
		if back != m {
			t.Fatalf("round trip %d -> %q -> %d", m, Format(m), back)
		}
	}
}
