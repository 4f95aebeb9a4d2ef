// Package validation defines the data model for bulk email validation jobs:
// the per-list snippet hash, the uploaded list data blob, verification
// results and the categorization and email-extraction rules applied to them.
package validation

import (
	"fmt"
	"math/rand"
	"strconv"
	"time"
)

// Snippet status values. A job is in_progress from creation until the
// finalizer stamps it completed, or failed when the verifier exhausts its
// retries.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Verification categories. Every result falls into exactly one.
const (
	CategoryGood     = "Good"
	CategoryCatchAll = "Catch all"
	CategoryRisky    = "Risky"
	CategoryBad      = "Bad"
)

// Verifier verdict values for the valid and catch_all fields.
const (
	ValidYes     = "Valid"
	ValidNo      = "Invalid"
	ValidUnknown = "Unknown"

	CatchAllYes     = "Yes"
	CatchAllNo      = "No"
	CatchAllUnknown = "Unknown"
)

// Key prefixes for the three keyspaces.
const (
	snippetPrefix   = "userListSnippet"
	dataPrefix      = "userListData"
	responsesPrefix = "validationJobResponses"
)

// SnippetKey returns the hash key for a list's snippet.
func SnippetKey(userID, listID string) string {
	return fmt.Sprintf("%s:%s:%s", snippetPrefix, userID, listID)
}

// DataKey returns the string key for a list's data blob.
func DataKey(userID, listID string) string {
	return fmt.Sprintf("%s:%s:%s", dataPrefix, userID, listID)
}

// ResponsesKey returns the list key for a job's result accumulator.
func ResponsesKey(userID, listID string) string {
	return fmt.Sprintf("%s:%s:%s", responsesPrefix, userID, listID)
}

// SnippetKeyPattern returns the glob matching all of a user's snippets.
func SnippetKeyPattern(userID string) string {
	return fmt.Sprintf("%s:%s:*", snippetPrefix, userID)
}

const listIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// GenerateListID returns a new list id of the form list-<unix-ms>-<random9>.
func GenerateListID() string {
	suffix := make([]byte, 9)
	for i := range suffix {
		suffix[i] = listIDAlphabet[rand.Intn(len(listIDAlphabet))]
	}
	return fmt.Sprintf("list-%d-%s", time.Now().UnixMilli(), suffix)
}

// ListSnippet is the progress record for a validation job. It is stored as
// a hash with every field a string: counters are decimal integers and
// percentages carry two decimal places.
type ListSnippet struct {
	UserID             string `json:"userId"`
	ListID             string `json:"listId"`
	ListName           string `json:"listName"`
	UploadTimestamp    string `json:"uploadTimestamp"`
	DateValidated      string `json:"dateValidated"`
	TotalEmails        int    `json:"totalEmails"`
	ValidCount         int    `json:"validCount"`
	CatchAllCount      int    `json:"catchAllCount"`
	UnknownCount       int    `json:"unknownCount"`
	InvalidCount       int    `json:"invalidCount"`
	PercentValid       string `json:"percentValid"`
	PercentCatchAll    string `json:"percentCatchAll"`
	PercentUnknown     string `json:"percentUnknown"`
	PercentInvalid     string `json:"percentInvalid"`
	Status             string `json:"status"`
	AdditionalMetadata string `json:"additionalMetadata"`
}

// Fields flattens the snippet into hash fields.
func (s ListSnippet) Fields() map[string]string {
	return map[string]string{
		"userId":             s.UserID,
		"listId":             s.ListID,
		"listName":           s.ListName,
		"uploadTimestamp":    s.UploadTimestamp,
		"dateValidated":      s.DateValidated,
		"totalEmails":        strconv.Itoa(s.TotalEmails),
		"validCount":         strconv.Itoa(s.ValidCount),
		"catchAllCount":      strconv.Itoa(s.CatchAllCount),
		"unknownCount":       strconv.Itoa(s.UnknownCount),
		"invalidCount":       strconv.Itoa(s.InvalidCount),
		"percentValid":       s.PercentValid,
		"percentCatchAll":    s.PercentCatchAll,
		"percentUnknown":     s.PercentUnknown,
		"percentInvalid":     s.PercentInvalid,
		"status":             s.Status,
		"additionalMetadata": s.AdditionalMetadata,
	}
}

// SnippetFromFields rebuilds a snippet from hash fields. Missing or
// malformed counters parse as zero, matching the pipeline's tolerant reads.
func SnippetFromFields(fields map[string]string) ListSnippet {
	return ListSnippet{
		UserID:             fields["userId"],
		ListID:             fields["listId"],
		ListName:           fields["listName"],
		UploadTimestamp:    fields["uploadTimestamp"],
		DateValidated:      fields["dateValidated"],
		TotalEmails:        atoiOrZero(fields["totalEmails"]),
		ValidCount:         atoiOrZero(fields["validCount"]),
		CatchAllCount:      atoiOrZero(fields["catchAllCount"]),
		UnknownCount:       atoiOrZero(fields["unknownCount"]),
		InvalidCount:       atoiOrZero(fields["invalidCount"]),
		PercentValid:       fields["percentValid"],
		PercentCatchAll:    fields["percentCatchAll"],
		PercentUnknown:     fields["percentUnknown"],
		PercentInvalid:     fields["percentInvalid"],
		Status:             fields["status"],
		AdditionalMetadata: fields["additionalMetadata"],
	}
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// Percentage formats count/total as a two-decimal percentage string.
// A zero total yields "0.00".
func Percentage(count, total int) string {
	if total <= 0 {
		return "0.00"
	}
	return strconv.FormatFloat(float64(count)/float64(total)*100, 'f', 2, 64)
}

// ListMetadata describes an uploaded list.
type ListMetadata struct {
	UserID          string   `json:"userId"`
	ListID          string   `json:"listId"`
	ListName        string   `json:"listName"`
	Columns         []string `json:"columns"`
	UploadTimestamp string   `json:"uploadTimestamp"`
	DateValidated   string   `json:"dateValidated"`
	ExpiryDays      int      `json:"expiryDays"`
}

// ListData is the full uploaded list: metadata plus the original rows.
// Rows keep whatever shape the upload had; validation stamps four extra
// columns onto each row at completion.
type ListData struct {
	Metadata ListMetadata             `json:"metadata"`
	Rows     []map[string]interface{} `json:"rows"`
}

// Row stamp columns written by the finalizer.
const (
	ColValidStatus  = "validStatus"
	ColCatchAll     = "catchAll"
	ColCategory     = "category"
	ColErrorMessage = "errorMessage"
	NoResultMessage = "No validation result"
)

// ValidationResult is one verifier verdict for one email.
type ValidationResult struct {
	Email    string  `json:"email"`
	Valid    string  `json:"valid"`
	CatchAll string  `json:"catch_all"`
	Category string  `json:"category"`
	Error    *string `json:"error"`
}
