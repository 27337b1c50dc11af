package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// Row is one schemaless row read from the versioning engine. Values keep
// whatever dynamic type the driver produced; the typed accessors below absorb
// the string/byte/number variations Dolt returns for the same column across
// query paths.
type Row map[string]interface{}

// GetString returns the column as a string.
func (r Row) GetString(col string) (string, bool) {
	v, ok := r[col]
	if !ok || v == nil {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(s), true
	default:
		return "", false
	}
}

// GetInt returns the column as an int64.
func (r Row) GetInt(col string) (int64, bool) {
	v, ok := r[col]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case []byte:
		parsed, err := strconv.ParseInt(string(n), 10, 64)
		return parsed, err == nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

// GetBool returns the column as a bool. Dolt surfaces booleans as tinyint.
func (r Row) GetBool(col string) (bool, bool) {
	if n, ok := r.GetInt(col); ok {
		return n != 0, true
	}
	if s, ok := r.GetString(col); ok {
		return s == "true" || s == "1", true
	}
	return false, false
}

// GetTime returns the column as a time.Time.
func (r Row) GetTime(col string) (time.Time, bool) {
	v, ok := r[col]
	if !ok || v == nil {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case []byte:
		return parseSQLTime(string(t))
	case string:
		return parseSQLTime(t)
	default:
		return time.Time{}, false
	}
}

// GetJSON decodes a JSON column into a map. Returns an empty map for NULL or
// empty values so metadata pass-through never nil-panics.
func (r Row) GetJSON(col string) (map[string]interface{}, bool) {
	s, ok := r.GetString(col)
	if !ok || s == "" || s == "null" {
		return map[string]interface{}{}, false
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return map[string]interface{}{}, false
	}
	return out, true
}

func parseSQLTime(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DocumentFromRow maps a row of the documents table (or a diff over it, with
// the given column prefix such as "to_") into a Document.
func DocumentFromRow(row Row, prefix string) *Document {
	doc := &Document{}
	doc.DocID, _ = row.GetString(prefix + "doc_id")
	doc.CollectionName, _ = row.GetString(prefix + "collection_name")
	doc.Content, _ = row.GetString(prefix + "content")
	doc.ContentHash, _ = row.GetString(prefix + "content_hash")
	doc.Title, _ = row.GetString(prefix + "title")
	doc.DocType, _ = row.GetString(prefix + "doc_type")
	if md, ok := row.GetJSON(prefix + "metadata"); ok {
		doc.Metadata = md
	}
	return doc
}
