package imports

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseHeader(t *testing.T) {
	h := parseHeader("\ufeffAddress, SECTOR ,type,price,address")
	assert.Equal(t, 0, h["address"], "first duplicate column wins")
	assert.Equal(t, 1, h["sector"])
	assert.Equal(t, 3, h["price"])
	_, ok := h["latitude"]
	assert.False(t, ok)
}

func TestMapRow_ShortLine(t *testing.T) {
	h := parseHeader("address,sector,type,price,latitude,longitude")
	row := h.mapRow(splitLine("Rua A, centro "))

	assert.Equal(t, "Rua A", row.Address)
	assert.Equal(t, "centro", row.Sector)
	assert.Empty(t, row.Type)
	assert.True(t, math.IsNaN(row.Price))
	assert.Error(t, row.Validate())
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		nan  bool
	}{
		{in: "10", want: 10},
		{in: "-23.55", want: -23.55},
		{in: "1e3", want: 1000},
		{in: "", nan: true},
		{in: "abc", nan: true},
		{in: "1.000,00", nan: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := parseNumber(tt.in)
			if tt.nan {
				assert.True(t, math.IsNaN(got))
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
