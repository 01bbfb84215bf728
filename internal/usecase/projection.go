package usecase

import (
	"errors"
	"regexp"
	"strings"
)

var (
	queryVerb      = regexp.MustCompile(`(?i)^(SELECT|WITH)\b`)
	writeStatement = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|REPLACE|ATTACH|DETACH|PRAGMA|VACUUM|REINDEX)\b`)
	codeFence      = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
)

// ValidateGeneratedSQL accepts model-generated projection SQL only when it is
// a single read statement: it starts with SELECT or WITH, ends with the one
// and only ';', and names no write or schema keyword.
func ValidateGeneratedSQL(raw string) (string, error) {
	sql := strings.TrimSpace(raw)
	if m := codeFence.FindStringSubmatch(sql); m != nil {
		sql = strings.TrimSpace(m[1])
	}
	if sql == "" {
		return "", errors.New("usecase: generated sql is empty")
	}
	if !queryVerb.MatchString(sql) {
		return "", errors.New("usecase: generated sql must start with SELECT or WITH")
	}
	if !strings.HasSuffix(sql, ";") {
		return "", errors.New("usecase: generated sql must end with ';'")
	}
	if strings.Count(sql, ";") != 1 {
		return "", errors.New("usecase: generated sql must be a single statement")
	}
	if kw := writeStatement.FindString(sql); kw != "" {
		return "", errors.New("usecase: generated sql contains forbidden keyword " + strings.ToUpper(kw))
	}
	return sql, nil
}
