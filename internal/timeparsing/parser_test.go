package timeparsing

import (
	"testing"
	"time"
)

func TestParseCompactDuration(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{input: "+6h", want: time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC)},
		{input: "+1d", want: time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC)},
		{input: "2w", want: time.Date(2025, 6, 29, 12, 0, 0, 0, time.UTC)},
		{input: "+3m", want: time.Date(2025, 9, 15, 12, 0, 0, 0, time.UTC)},
		{input: "1y", want: time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)},
		{input: "-6h", want: time.Date(2025, 6, 15, 6, 0, 0, 0, time.UTC)},
		{input: "-2w", want: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		{input: "+0d", want: now},
		{input: "", wantErr: true},
		{input: "+ 6h", wantErr: true},
		{input: "6x", wantErr: true},
		{input: "2025-01-15", wantErr: true},
		{input: "tomorrow", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCompactDuration(tt.input, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCompactDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseCompactDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseCompactDurationLeapDay(t *testing.T) {
	got, err := ParseCompactDuration("+1d", time.Date(2024, 2, 28, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseAbsolute(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	got, err := ParseAbsolute("2025-02-01", now)
	if err != nil {
		t.Fatalf("date-only: %v", err)
	}
	if want := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("date-only = %v, want %v", got, want)
	}

	got, err = ParseAbsolute("2025-03-15T14:30:00Z", now)
	if err != nil {
		t.Fatalf("RFC3339: %v", err)
	}
	if got.Hour() != 14 || got.Minute() != 30 {
		t.Errorf("RFC3339 = %v", got)
	}

	if _, err := ParseAbsolute("15/03/2025", now); err == nil {
		t.Error("expected an error for an unsupported layout")
	}
}

func TestParseRelativeTime(t *testing.T) {
	// Wednesday
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.Local)

	tests := []struct {
		input   string
		wantDay int
		wantErr bool
	}{
		{input: "+1d", wantDay: 16},
		{input: "2025-01-20", wantDay: 20},
		{input: "tomorrow", wantDay: 16},
		{input: "next monday", wantDay: 20},
		{input: "in 3 days", wantDay: 18},
		{input: "not-a-date", wantErr: true},
		{input: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseRelativeTime(tt.input, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRelativeTime(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Year() != 2025 || got.Month() != time.January || got.Day() != tt.wantDay {
				t.Errorf("ParseRelativeTime(%q) = %v, want January %d 2025", tt.input, got, tt.wantDay)
			}
		})
	}
}

func TestCompactDurationTakesPrecedence(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.Local)
	got, err := ParseRelativeTime("+1d", now)
	if err != nil {
		t.Fatal(err)
	}
	if want := now.AddDate(0, 0, 1); !got.Equal(want) {
		t.Errorf("got %v, want %v: the time of day should be kept", got, want)
	}
}
