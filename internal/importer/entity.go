package importer

import (
	"strconv"

	"github.com/sells-group/crm-import/internal/model"
)

// recordSource tags entities created by the import pipeline.
const recordSource = "bulk-import"

// buildContact materializes a transformed record as a contact entity.
func buildContact(rec Record) model.Contact {
	return model.Contact{
		FullName:    rec.Str("fullName"),
		FirstName:   rec.Str("firstName"),
		LastName:    rec.Str("lastName"),
		Email:       rec.Str("email"),
		Phone:       rec.Str("phone"),
		MobilePhone: rec.Str("mobilePhone"),
		Title:       rec.Str("title"),
		Company:     rec.Str("company"),
		Industry:    rec.Str("industry"),
		City:        rec.Str("city"),
		State:       rec.Str("state"),
		Country:     rec.Str("country"),
		LinkedInURL: rec.Str("linkedinUrl"),
		Source:      recordSource,
	}
}

// buildCompany materializes a transformed record as a company entity.
func buildCompany(rec Record) model.Company {
	co := model.Company{
		Name:         rec.Str("name"),
		Domain:       rec.Str("domain"),
		Website:      rec.Str("website"),
		Industry:     rec.Str("industry"),
		Phone:        rec.Str("phone"),
		Street:       rec.Str("street"),
		City:         rec.Str("city"),
		State:        rec.Str("state"),
		ZipCode:      rec.Str("zipCode"),
		Country:      rec.Str("country"),
		Technologies: rec.List("technologies"),
		Source:       recordSource,
	}
	if co.Domain == "" {
		co.Domain = companyDomain(rec)
	}
	if n, err := strconv.Atoi(rec.Str("employeeCount")); err == nil {
		co.EmployeeCount = n
	}
	if n, err := strconv.ParseInt(rec.Str("revenue"), 10, 64); err == nil {
		co.Revenue = n
	}
	return co
}

// patchFields converts a fill-empty patch into the store's column update
// shape. Multi-value fields travel as []string; the store decides how to
// serialize them.
func patchFields(patch Record) map[string]any {
	fields := make(map[string]any, len(patch))
	for k, v := range patch {
		fields[k] = v
	}
	return fields
}
