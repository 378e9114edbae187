package extraction

import (
	"fmt"
	"strings"

	"github.com/Kiwi1009/interview-to-quote/internal/models"
)

// RequiredFields must be present for pricing to be meaningful.
var RequiredFields = []string{
	"workpiece.weight_range",
	"process.count",
	"process.needs_flip",
	"machines.count",
}

// MissingFieldQuestion is the open question recorded for a missing field.
func MissingFieldQuestion(path string) string {
	return fmt.Sprintf("缺少必要欄位：%s", path)
}

// Validate returns the required fields absent from data and appends one
// open question per missing field to data["open_questions"], skipping
// questions already present. A field holding false or 0 counts as present.
func Validate(data map[string]interface{}) []string {
	var missing []string
	for _, path := range RequiredFields {
		v, ok := models.Lookup(data, path)
		if !ok || isEmpty(v) {
			missing = append(missing, path)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	questions, _ := data["open_questions"].([]interface{})
	seen := make(map[string]bool, len(questions))
	for _, q := range questions {
		seen[questionText(q)] = true
	}
	for _, path := range missing {
		q := MissingFieldQuestion(path)
		if !seen[q] {
			questions = append(questions, q)
			seen[q] = true
		}
	}
	data["open_questions"] = questions
	return missing
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	}
	return false
}

// questionText accepts both plain strings and {"question": ...} objects.
func questionText(q interface{}) string {
	switch t := q.(type) {
	case string:
		return t
	case map[string]interface{}:
		if s, ok := t["question"].(string); ok {
			return s
		}
	}
	return fmt.Sprint(q)
}

// filterEvidence drops evidence whose field path is not present in data.
func filterEvidence(data map[string]interface{}, evidence []models.Evidence) (kept []models.Evidence, dropped []string) {
	kept = make([]models.Evidence, 0, len(evidence))
	for _, ev := range evidence {
		if _, ok := models.Lookup(data, ev.FieldPath); ok && ev.FieldPath != "" {
			kept = append(kept, ev)
			continue
		}
		dropped = append(dropped, ev.FieldPath)
	}
	return kept, dropped
}
