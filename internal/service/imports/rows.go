package imports

import (
	"math"
	"strconv"
	"strings"

	"github.com/ignite/property-imports/internal/domain"
)

// fieldDelimiter splits upload lines. Quoting and escaping are not supported.
const fieldDelimiter = ","

const utf8BOM = "\ufeff"

// splitLine naively splits a line on fieldDelimiter and trims each field.
func splitLine(line string) []string {
	parts := strings.Split(line, fieldDelimiter)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// header maps lowercased column names to their position.
type header map[string]int

func parseHeader(line string) header {
	h := make(header)
	for i, name := range splitLine(strings.TrimPrefix(line, utf8BOM)) {
		name = strings.ToLower(name)
		if _, dup := h[name]; !dup {
			h[name] = i
		}
	}
	return h
}

func (h header) value(values []string, name string) string {
	i, ok := h[name]
	if !ok || i >= len(values) {
		return ""
	}
	return values[i]
}

// mapRow builds a row by column name. Numbers that are empty or do not parse
// become NaN so validation rejects them.
func (h header) mapRow(values []string) domain.PropertyRow {
	return domain.PropertyRow{
		Address:   h.value(values, "address"),
		Sector:    h.value(values, "sector"),
		Type:      h.value(values, "type"),
		Price:     parseNumber(h.value(values, "price")),
		Latitude:  parseNumber(h.value(values, "latitude")),
		Longitude: parseNumber(h.value(values, "longitude")),
	}
}

func parseNumber(s string) float64 {
	if s == "" {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}
