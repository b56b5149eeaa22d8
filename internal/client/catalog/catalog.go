// Package catalog declares the collections of the application.
package catalog

import "github.com/dmitrijs2005/ledgersync/internal/client/store"

const (
	Clients       = "clients"
	Receipts      = "receipts"
	Expenses      = "expenses"
	Notifications = "notifications"
)

// Index names.
const (
	IndexCNIC       = "cnic"
	IndexName       = "name"
	IndexClientCNIC = "clientCnic"
	IndexIssuedOn   = "issuedOn"
)

// Version is bumped whenever Schema changes.
const Version = 1

// Schema returns the local store schema. Receipts, expenses and
// notifications reference their client by CNIC and are removed with it.
func Schema() store.Schema {
	byClient := store.Index{Name: IndexClientCNIC, Field: "clientCnic"}
	return store.Schema{
		Version: Version,
		Collections: []store.Collection{
			{Name: Clients, Indexes: []store.Index{
				{Name: IndexCNIC, Field: "cnic", Unique: true},
				{Name: IndexName, Field: "name"},
			}},
			{Name: Receipts, Indexes: []store.Index{
				byClient,
				{Name: IndexIssuedOn, Field: "issuedOn"},
			}},
			{Name: Expenses, Indexes: []store.Index{byClient}},
			{Name: Notifications, Indexes: []store.Index{byClient}},
		},
		Cascades: []store.Cascade{
			{Parent: Clients, ParentField: "cnic", Child: Receipts, ChildIndex: IndexClientCNIC},
			{Parent: Clients, ParentField: "cnic", Child: Expenses, ChildIndex: IndexClientCNIC},
			{Parent: Clients, ParentField: "cnic", Child: Notifications, ChildIndex: IndexClientCNIC},
		},
	}
}

// KeyIndex returns the index GetByKey looks records up by.
func KeyIndex(collection string) (string, bool) {
	switch collection {
	case Clients:
		return IndexCNIC, true
	case Receipts, Expenses, Notifications:
		return IndexClientCNIC, true
	}
	return "", false
}
