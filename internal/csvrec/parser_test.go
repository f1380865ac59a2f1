package csvrec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Record
	}{
		{name: "empty input", text: ""},
		{name: "header only", text: "roll,name\n"},
		{name: "header only with blanks", text: "\n\nroll,name\n   \n"},
		{
			name: "basic rows in order",
			text: "roll,name\n21A,Alice\n21B,Bob\n",
			want: []Record{
				{"roll": "21A", "name": "Alice"},
				{"roll": "21B", "name": "Bob"},
			},
		},
		{
			name: "crlf and stray cr line endings",
			text: "roll,name\r\n21A,Alice\r21B,Bob",
			want: []Record{
				{"roll": "21A", "name": "Alice"},
				{"roll": "21B", "name": "Bob"},
			},
		},
		{
			name: "values and headers trimmed",
			text: " roll , name \n 21A ,  Alice  \n",
			want: []Record{{"roll": "21A", "name": "Alice"}},
		},
		{
			name: "missing trailing values default empty",
			text: "roll,name,email\n21A,Alice\n",
			want: []Record{{"roll": "21A", "name": "Alice", "email": ""}},
		},
		{
			name: "extra columns beyond headers ignored",
			text: "roll,name\n21A,Alice,ignored\n",
			want: []Record{{"roll": "21A", "name": "Alice"}},
		},
		{
			name: "blank lines between rows discarded",
			text: "roll,name\n21A,Alice\n\n   \n21B,Bob\n",
			want: []Record{
				{"roll": "21A", "name": "Alice"},
				{"roll": "21B", "name": "Bob"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.text)
			if tt.want == nil {
				require.Empty(t, got)
				return
			}
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseNoQuoteSupport(t *testing.T) {
	// Quoted fields are not interpreted; a comma always splits.
	got := Parse("roll,name\n21A,\"Doe, Jane\"\n")
	require.Len(t, got, 1)
	require.Equal(t, "21A", got[0]["roll"])
	require.Equal(t, `"Doe`, got[0]["name"])
}
