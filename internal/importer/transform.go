package importer

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-import/internal/mapper"
	"github.com/sells-group/crm-import/internal/normalize"
)

// Record is one transformed row: canonical field name → coerced value.
// Values are strings except for multi-value fields, which hold []string.
type Record map[string]any

// Str returns the string value of a field, or "".
func (r Record) Str(field string) string {
	s, _ := r[field].(string)
	return s
}

// List returns the multi-value tokens of a field, or nil.
func (r Record) List(field string) []string {
	l, _ := r[field].([]string)
	return l
}

// nameFields are the canonical fields that satisfy the minimum-field rule
// alongside email.
var nameFields = []string{"fullName", "firstName", "lastName", "name"}

// multiValueSep splits technology-style list cells.
var multiValueSep = strings.NewReplacer(";", ",", "|", ",")

// Transform coerces one raw row into a canonical record using the job's
// header mapping. Unparseable cells are dropped, never fatal; the row is
// rejected only when it ends up with neither a name field nor an email.
func Transform(headers []string, values []string, mapping map[string]string, cat *mapper.Catalog) (Record, error) {
	rec := make(Record, len(mapping))

	for i, header := range headers {
		field, ok := mapping[header]
		if !ok || i >= len(values) {
			continue
		}
		raw := strings.TrimSpace(values[i])
		if raw == "" {
			continue
		}

		switch cat.FieldType(field) {
		case mapper.TypeEmail:
			if v := normalize.Email(raw); v != "" {
				rec[field] = v
			}
		case mapper.TypePhone:
			if v := normalize.Phone(raw); v != "" {
				rec[field] = v
			}
		case mapper.TypeNumeric:
			if v := normalize.Digits(raw); v != "" {
				rec[field] = v
			}
		case mapper.TypeMulti:
			if tokens := splitMulti(raw); len(tokens) > 0 {
				rec[field] = tokens
			}
		case mapper.TypeDomain:
			if v := normalize.Domain(raw); v != "" {
				rec[field] = v
			}
		case mapper.TypeURL:
			rec[field] = normalize.Whitespace(raw)
		default:
			if v := normalize.Whitespace(raw); v != "" {
				rec[field] = v
			}
		}
	}

	// Join first/last into a full name when no explicit one mapped.
	if rec.Str("fullName") == "" {
		first, last := rec.Str("firstName"), rec.Str("lastName")
		if first != "" || last != "" {
			rec["fullName"] = normalize.Whitespace(first + " " + last)
		}
	}

	if !rec.hasIdentity() {
		return nil, eris.New("row has no name field and no email address")
	}
	return rec, nil
}

// hasIdentity reports whether the record carries at least one name field
// or an email address.
func (r Record) hasIdentity() bool {
	if r.Str("email") != "" {
		return true
	}
	for _, f := range nameFields {
		if r.Str(f) != "" {
			return true
		}
	}
	return false
}

// splitMulti tokenizes a multi-value cell on ';', ',' and '|'.
func splitMulti(raw string) []string {
	var tokens []string
	for _, tok := range strings.Split(multiValueSep.Replace(raw), ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}
