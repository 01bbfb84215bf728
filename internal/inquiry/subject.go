// Package inquiry holds the I/O-free core of an inventory request: subject
// parsing, day-range clamping, query building and reply formatting.
package inquiry

import (
	"regexp"
	"strconv"
	"strings"

	"inventory-agent/internal/domain"
)

// SubjectPrefix is the literal every request subject starts with, compared
// case-insensitively.
const SubjectPrefix = "consulta inventario"

const (
	ReasonMissingColon    = "missing_colon"
	ReasonWrongPrefix     = "wrong_prefix"
	ReasonFieldCount      = "field_count"
	ReasonMissingDayCount = "missing_day_count"
	ReasonInvalidDayCount = "invalid_day_count"
	ReasonUnsupportedType = "unsupported_type"
)

var digitRun = regexp.MustCompile(`\d+`)

var kindSynonyms = map[string]domain.Kind{
	"saldo":                    domain.KindBalance,
	"historial":                domain.KindHistory,
	"historial de movimientos": domain.KindHistory,
	"proyección":               domain.KindProjection,
	"proyeccion":               domain.KindProjection,
}

// SubjectError reports why a subject line does not follow the request grammar.
type SubjectError struct {
	Reason  string
	Message string
}

func (e *SubjectError) Error() string {
	return "inquiry: malformed subject: " + e.Message
}

func malformed(reason, msg string) *SubjectError {
	return &SubjectError{Reason: reason, Message: msg}
}

// HasRequestPrefix reports whether subject starts with the request prefix.
// The poller uses it to skip unrelated mail before parsing.
func HasRequestPrefix(subject string) bool {
	prefix, _, ok := strings.Cut(subject, ":")
	if !ok {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(prefix), SubjectPrefix)
}

// ParseSubject parses "Consulta inventario: <product>, <type>, <n> <unit>".
// Checks run in a fixed order so the first violated rule is reported.
func ParseSubject(subject string) (domain.ParsedQuery, error) {
	prefix, rest, ok := strings.Cut(subject, ":")
	if !ok {
		return domain.ParsedQuery{}, malformed(ReasonMissingColon,
			"must contain a colon separating prefix from body")
	}
	if strings.ToLower(strings.TrimSpace(prefix)) != SubjectPrefix {
		return domain.ParsedQuery{}, malformed(ReasonWrongPrefix,
			`wrong prefix, expected "Consulta inventario:"`)
	}

	parts := strings.Split(rest, ",")
	if len(parts) != 3 {
		return domain.ParsedQuery{}, fieldCountError()
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
		if parts[i] == "" {
			return domain.ParsedQuery{}, fieldCountError()
		}
	}
	product, kindRaw, daysRaw := parts[0], parts[1], parts[2]

	run := digitRun.FindString(daysRaw)
	if run == "" {
		return domain.ParsedQuery{}, malformed(ReasonMissingDayCount, "missing day count")
	}
	days, err := strconv.Atoi(run)
	if err != nil || days < 1 {
		return domain.ParsedQuery{}, malformed(ReasonInvalidDayCount, "day count must be a positive integer")
	}

	kind, ok := kindSynonyms[strings.Join(strings.Fields(strings.ToLower(kindRaw)), " ")]
	if !ok {
		return domain.ParsedQuery{}, malformed(ReasonUnsupportedType,
			"unsupported type "+strconv.Quote(kindRaw)+", use saldo, historial or proyección")
	}

	return domain.ParsedQuery{Product: product, Kind: kind, RequestedDays: days}, nil
}

func fieldCountError() *SubjectError {
	return malformed(ReasonFieldCount,
		"must have exactly three comma-separated fields: product, type, day-count")
}
