package ingest

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
}

// parseDate accepts the ISO and Spanish day-first layouts the registry emits.
func parseDate(text string) *time.Time {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return &t
		}
	}
	if m := spanishLongDate.FindStringSubmatch(strings.ToLower(text)); m != nil {
		if month, ok := spanishMonths[m[2]]; ok {
			day, _ := strconv.Atoi(m[1])
			year, _ := strconv.Atoi(m[3])
			t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
			return &t
		}
	}
	return nil
}

var spanishLongDate = regexp.MustCompile(`(\d{1,2})\s+de\s+([a-záéíóú]+)\s+(?:de|del)\s+(\d{4})`)

var spanishMonths = map[string]time.Month{
	"enero": time.January, "febrero": time.February, "marzo": time.March,
	"abril": time.April, "mayo": time.May, "junio": time.June,
	"julio": time.July, "agosto": time.August, "septiembre": time.September,
	"setiembre": time.September, "octubre": time.October, "noviembre": time.November,
	"diciembre": time.December,
}

var amountChars = regexp.MustCompile(`[\d.,]+`)

// parseAmount reads a number written as 1234.5, 1.234.567,89 or 1,234,567.89.
func parseAmount(text string) *float64 {
	m := amountChars.FindString(text)
	if m == "" {
		return nil
	}
	lastDot := strings.LastIndex(m, ".")
	lastComma := strings.LastIndex(m, ",")

	var clean string
	switch {
	case lastComma > lastDot:
		// Spanish: dots group thousands, comma is decimal.
		clean = strings.ReplaceAll(m, ".", "")
		clean = strings.Replace(clean, ",", ".", 1)
	case lastDot > lastComma && lastComma >= 0:
		clean = strings.ReplaceAll(m, ",", "")
	case lastDot >= 0 && strings.Count(m, ".") > 1:
		clean = strings.ReplaceAll(m, ".", "")
	case lastDot >= 0 && len(m)-lastDot-1 == 3:
		// "12.000" is twelve thousand in Spanish notation.
		clean = strings.ReplaceAll(m, ".", "")
	default:
		clean = m
	}
	clean = strings.Trim(clean, ".,")
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil || v < 0 {
		return nil
	}
	return &v
}

// parseAmountJSON accepts a JSON number or a formatted string.
func parseAmountJSON(raw json.RawMessage) *float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n <= 0 {
			return nil
		}
		return &n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v := parseAmount(s); v != nil && *v > 0 {
			return v
		}
	}
	return nil
}
