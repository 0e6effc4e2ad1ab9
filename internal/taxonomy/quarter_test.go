package taxonomy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseQuarterFolder(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   Period
		wantOK bool
	}{
		{"underscore", "Q1_2024", Period{2024, "Q1"}, true},
		{"lowercase with space", "q1 2024", Period{2024, "Q1"}, true},
		{"no separator", "Q42023", Period{2023, "Q4"}, true},
		{"surrounding whitespace", "  Q3_2022 ", Period{2022, "Q3"}, true},
		{"hyphen rejected", "Q2-2023", Period{}, false},
		{"quarter out of range", "Q5_2024", Period{}, false},
		{"quarter zero", "Q0_2024", Period{}, false},
		{"two digit year", "Q1_24", Period{}, false},
		{"five digit year", "Q1_20245", Period{}, false},
		{"double space", "Q1  2024", Period{}, false},
		{"trailing text", "Q1_2024 final", Period{}, false},
		{"plain folder", "Retail", Period{}, false},
		{"empty", "", Period{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseQuarterFolder(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPeriodLabelRoundTrips(t *testing.T) {
	p := Period{Year: 2024, Quarter: "Q2"}
	assert.Equal(t, "Q2_2024", p.Label())
	got, ok := ParseQuarterFolder(p.Label())
	assert.True(t, ok)
	assert.Equal(t, p, got)
}

func TestValidQuarter(t *testing.T) {
	assert.True(t, ValidQuarter("Q1"))
	assert.True(t, ValidQuarter("q4"))
	assert.False(t, ValidQuarter("Q5"))
	assert.False(t, ValidQuarter(""))
	assert.Equal(t, "Q3", NormalizeQuarter(" q3"))
}

func TestTrailingSegment(t *testing.T) {
	assert.Equal(t, "Q1_2024", TrailingSegment("Shared Documents/Reports/Q1_2024"))
	assert.Equal(t, "Q1_2024", TrailingSegment("/Reports/Q1_2024/"))
	assert.Equal(t, "", TrailingSegment("/"))
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "Reports/Q1_2024/Retail", Join("Reports/Q1_2024", "Retail"))
	assert.Equal(t, "/root/a/b", Join("/root/", "/a/", "b"))
	assert.Equal(t, "a", Join("", "a"))
}
