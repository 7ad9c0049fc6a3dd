package churn

import (
	"sort"
	"strings"
)

// Canonical field keys produced by the normalizer.
const (
	FieldName             = "name"
	FieldEmail            = "email"
	FieldPhone            = "phone"
	FieldCompany          = "company"
	FieldSegment          = "segment"
	FieldLastActivityDate = "last_activity_date"
	FieldTotalRevenue     = "total_revenue"
	FieldSupportTickets   = "support_tickets"
)

// headerSynonyms maps a trimmed, lower-cased upload header to its canonical key.
var headerSynonyms = map[string]string{
	"name":               FieldName,
	"customer_name":      FieldName,
	"customer name":      FieldName,
	"email":              FieldEmail,
	"email_address":      FieldEmail,
	"phone":              FieldPhone,
	"phone_number":       FieldPhone,
	"company":            FieldCompany,
	"company_name":       FieldCompany,
	"segment":            FieldSegment,
	"customer_segment":   FieldSegment,
	"last_activity_date": FieldLastActivityDate,
	"last activity date": FieldLastActivityDate,
	"last_activity":      FieldLastActivityDate,
	"total_revenue":      FieldTotalRevenue,
	"total revenue":      FieldTotalRevenue,
	"revenue":            FieldTotalRevenue,
	"support_tickets":    FieldSupportTickets,
	"support tickets":    FieldSupportTickets,
	"tickets":            FieldSupportTickets,
}

// NormalizeHeader returns the canonical key for a raw header, or the trimmed
// lower-cased header when it has no synonym.
func NormalizeHeader(raw string) string {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if canonical, ok := headerSynonyms[normalized]; ok {
		return canonical
	}
	return normalized
}

// IsCanonical reports whether key is one of the canonical field keys.
func IsCanonical(key string) bool {
	switch key {
	case FieldName, FieldEmail, FieldPhone, FieldCompany, FieldSegment,
		FieldLastActivityDate, FieldTotalRevenue, FieldSupportTickets:
		return true
	}
	return false
}

// Fields is one upload row keyed by canonical field name. Values are still raw
// strings; numbers and dates are parsed by the caller.
type Fields struct {
	Values map[string]string
	Extra  map[string]string
}

// Get returns the raw value of a canonical field.
func (f Fields) Get(key string) string {
	return f.Values[key]
}

// Normalize maps raw header/value pairs onto canonical keys. Headers are
// visited in sorted order so that when several spellings collapse onto the
// same key the first non-empty value wins deterministically.
func Normalize(raw map[string]string) Fields {
	headers := make([]string, 0, len(raw))
	for header := range raw {
		headers = append(headers, header)
	}
	sort.Strings(headers)

	fields := Fields{
		Values: make(map[string]string, len(headers)),
		Extra:  map[string]string{},
	}
	for _, header := range headers {
		key := NormalizeHeader(header)
		if key == "" {
			continue
		}
		value := raw[header]
		target := fields.Extra
		if IsCanonical(key) {
			target = fields.Values
		}
		if existing, ok := target[key]; ok && strings.TrimSpace(existing) != "" {
			continue
		}
		target[key] = value
	}
	return fields
}
