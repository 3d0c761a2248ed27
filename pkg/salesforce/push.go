package salesforce

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-import/internal/model"
)

// PushResult tallies a collection push. Individual record failures do
// not fail the push; they are accounted here.
type PushResult struct {
	Pushed int
	Failed int
	Errors []string
}

func (r *PushResult) absorb(results []CollectionResult) {
	for _, res := range results {
		if res.Success {
			r.Pushed++
			continue
		}
		r.Failed++
		for _, msg := range res.Errors {
			r.Errors = append(r.Errors, msg)
		}
	}
}

// AccountFields maps an imported company onto Salesforce Account fields,
// omitting empty values.
func AccountFields(co model.Company) map[string]any {
	fields := map[string]any{"Name": co.Name}
	setStr := func(key, val string) {
		if val != "" {
			fields[key] = val
		}
	}
	setStr("Website", co.Website)
	setStr("Industry", co.Industry)
	setStr("Phone", co.Phone)
	setStr("BillingStreet", co.Street)
	setStr("BillingCity", co.City)
	setStr("BillingState", co.State)
	setStr("BillingPostalCode", co.ZipCode)
	setStr("BillingCountry", co.Country)
	if co.EmployeeCount > 0 {
		fields["NumberOfEmployees"] = co.EmployeeCount
	}
	if co.Revenue > 0 {
		fields["AnnualRevenue"] = co.Revenue
	}
	return fields
}

// ContactFields maps an imported contact onto Salesforce Contact fields,
// omitting empty values. Salesforce requires LastName; when the import
// only captured a full name it is used as the last name.
func ContactFields(ct model.Contact) map[string]any {
	lastName := ct.LastName
	if lastName == "" {
		lastName = ct.FullName
	}
	if lastName == "" {
		lastName = ct.Email
	}
	fields := map[string]any{"LastName": lastName}
	setStr := func(key, val string) {
		if val != "" {
			fields[key] = val
		}
	}
	setStr("FirstName", ct.FirstName)
	setStr("Email", ct.Email)
	setStr("Phone", ct.Phone)
	setStr("MobilePhone", ct.MobilePhone)
	setStr("Title", ct.Title)
	setStr("MailingCity", ct.City)
	setStr("MailingState", ct.State)
	setStr("MailingCountry", ct.Country)
	return fields
}

// PushAccounts inserts companies as Salesforce Accounts via the
// Collections API in batches of 200.
func PushAccounts(ctx context.Context, c Client, companies []model.Company) (PushResult, error) {
	records := make([]map[string]any, len(companies))
	for i, co := range companies {
		records[i] = AccountFields(co)
	}
	return pushCollection(ctx, c, "Account", records)
}

// PushContacts inserts contacts as Salesforce Contacts via the
// Collections API in batches of 200.
func PushContacts(ctx context.Context, c Client, contacts []model.Contact) (PushResult, error) {
	records := make([]map[string]any, len(contacts))
	for i, ct := range contacts {
		records[i] = ContactFields(ct)
	}
	return pushCollection(ctx, c, "Contact", records)
}

// pushCollection splits records into batches of 200 (SF Collections API
// limit) and sends them via InsertCollection, tallying per-record
// outcomes.
func pushCollection(ctx context.Context, c Client, sObjectName string, records []map[string]any) (PushResult, error) {
	var result PushResult
	if len(records) == 0 {
		return result, nil
	}

	for start := 0; start < len(records); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(records) {
			end = len(records)
		}

		results, err := c.InsertCollection(ctx, sObjectName, records[start:end])
		if err != nil {
			return result, eris.Wrap(err, fmt.Sprintf("sf: push %s batch %d-%d", sObjectName, start, end))
		}
		result.absorb(results)
	}

	return result, nil
}

// RecordUpdate holds a Salesforce record ID and the fields to update.
type RecordUpdate struct {
	ID     string
	Fields map[string]any
}

// BulkUpdate splits updates into batches of 200 and sends them via
// UpdateCollection, tallying per-record outcomes.
func BulkUpdate(ctx context.Context, c Client, sObjectName string, updates []RecordUpdate) (PushResult, error) {
	var result PushResult
	if len(updates) == 0 {
		return result, nil
	}

	for start := 0; start < len(updates); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(updates) {
			end = len(updates)
		}
		batch := updates[start:end]

		records := make([]CollectionRecord, len(batch))
		for i, u := range batch {
			records[i] = CollectionRecord(u)
		}

		results, err := c.UpdateCollection(ctx, sObjectName, records)
		if err != nil {
			return result, eris.Wrap(err, fmt.Sprintf("sf: bulk update %s batch %d-%d", sObjectName, start, end))
		}
		result.absorb(results)
	}

	return result, nil
}
