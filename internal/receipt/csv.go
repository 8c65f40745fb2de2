package receipt

import (
	"sort"
	"strconv"
	"strings"
)

// GenerateCSV renders receipts as CSV with the header
// Date,Time,Location,Cost,Currency. Rows are sorted by date ascending using
// lexical comparison, with null dates sorting as the empty string. An empty
// list yields only the header line.
func GenerateCSV(receipts []*Receipt) string {
	sorted := make([]*Receipt, len(receipts))
	copy(sorted, receipts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strOrEmpty(sorted[i].Date) < strOrEmpty(sorted[j].Date)
	})

	var b strings.Builder
	b.WriteString("Date,Time,Location,Cost,Currency")

	for _, r := range sorted {
		currency := DefaultCurrency
		if r.Currency != nil && *r.Currency != "" {
			currency = *r.Currency
		}
		cost := ""
		if r.Cost != nil {
			cost = strconv.FormatFloat(*r.Cost, 'f', -1, 64)
		}
		fields := []string{
			strOrEmpty(r.Date),
			strOrEmpty(r.Time),
			escapeCSVField(strOrEmpty(r.Location)),
			cost,
			currency,
		}
		b.WriteString("\n")
		b.WriteString(strings.Join(fields, ","))
	}

	return b.String()
}

// escapeCSVField quotes a field that contains a comma, quote, or newline,
// doubling any internal quotes.
func escapeCSVField(field string) string {
	if strings.ContainsAny(field, ",\"\n") {
		return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
	}
	return field
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
