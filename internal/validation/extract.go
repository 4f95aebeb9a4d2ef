package validation

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

var emailShape = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// IsEmailLike reports whether a trimmed string looks like an email address.
func IsEmailLike(value string) bool {
	return emailShape.MatchString(strings.TrimSpace(value))
}

// EmailRef is an extracted email together with the row it came from.
type EmailRef struct {
	Email    string `json:"email"`
	RowIndex int    `json:"rowIndex"`
}

// ExtractEmails pulls email-shaped values out of uploaded rows. When
// selectedColumn is set it is used for every row; otherwise the first key
// that is named like an email column, or whose string value looks like an
// email, is used. Rows without an extractable email are skipped.
func ExtractEmails(rows []map[string]interface{}, selectedColumn string) []EmailRef {
	emails := make([]EmailRef, 0, len(rows))

	for i, row := range rows {
		if row == nil {
			continue
		}

		field := selectedColumn
		if field == "" {
			for _, key := range sortedKeys(row) {
				if strings.Contains(strings.ToLower(key), "email") {
					field = key
					break
				}
				if s, ok := row[key].(string); ok && IsEmailLike(s) {
					field = key
					break
				}
			}
		}
		if field == "" {
			continue
		}

		value, ok := row[field].(string)
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value != "" && IsEmailLike(value) {
			emails = append(emails, EmailRef{Email: value, RowIndex: i})
		}
	}

	return emails
}

// RowEmail finds the email in a single row for chunk verification: the
// first key containing "email" case-insensitively whose string value
// contains an "@". Returns "" when the row has none.
func RowEmail(row map[string]interface{}) string {
	for _, key := range sortedKeys(row) {
		if !strings.Contains(strings.ToLower(key), "email") {
			continue
		}
		s, ok := row[key].(string)
		if !ok || !strings.Contains(s, "@") {
			continue
		}
		return strings.TrimSpace(s)
	}
	return ""
}

// sortedKeys gives field scans a stable order; map iteration is random.
func sortedKeys(row map[string]interface{}) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ColumnOrder recovers the key order of the first object in a JSON array.
// Go maps do not preserve order, so the original column order has to be
// read off the raw upload bytes.
func ColumnOrder(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))

	// Enter the array
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, nil
	}
	if !dec.More() {
		return nil, nil
	}

	// Enter the first object
	tok, err = dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil
	}

	var columns []string
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			break
		}
		columns = append(columns, key)

		// Skip the value, whatever shape it has
		var discard json.RawMessage
		if err := dec.Decode(&discard); err != nil {
			return nil, err
		}
	}

	return columns, nil
}
