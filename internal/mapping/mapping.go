package mapping

// Kind selects the per-field transform applied while mapping a source column
// onto its destination parameter.
type Kind string

const (
	KindIdentity Kind = "identity"
	KindDate     Kind = "date"
	KindNumeric  Kind = "numeric-as-string"
	KindJSON     Kind = "json-passthrough"
)

// Field is one (source column, destination parameter, transform) entry.
// Required fields gate record-level validity: a record with none of them
// present is not worth submitting.
type Field struct {
	Source   string `json:"source"`
	Dest     string `json:"dest"`
	Kind     Kind   `json:"kind"`
	Required bool   `json:"required,omitempty"`
}

// Invoice is the field mapping for the invoices table. Order matters only for
// readability; the transform iterates it as given.
var Invoice = []Field{
	{Source: "vendor_id", Dest: "vendor_id", Kind: KindIdentity, Required: true},
	{Source: "org_id", Dest: "org_id", Kind: KindIdentity},
	{Source: "invoice_type", Dest: "invoice_type", Kind: KindIdentity},
	{Source: "corresponding_proforma_invoice", Dest: "corresponding_proforma_invoice", Kind: KindIdentity},
	{Source: "invoice_no", Dest: "invoice_no", Kind: KindIdentity, Required: true},
	{Source: "invoice_date", Dest: "invoice_date", Kind: KindDate, Required: true},
	{Source: "invoice_due_date", Dest: "invoice_due_date", Kind: KindDate},
	{Source: "purchase_order_no", Dest: "purchase_order_no", Kind: KindIdentity},
	{Source: "received_date", Dest: "received_date", Kind: KindDate},
	{Source: "office_vessel", Dest: "office_vessel", Kind: KindIdentity},
	{Source: "currency", Dest: "currency", Kind: KindIdentity},
	{Source: "total_amount", Dest: "total_amount", Kind: KindNumeric, Required: true},
	{Source: "additional_costs", Dest: "additional_costs", Kind: KindJSON},
	{Source: "additional_costs_total", Dest: "additional_costs_total", Kind: KindNumeric},
	{Source: "tax_details", Dest: "tax_details", Kind: KindJSON},
	{Source: "tax_details_total", Dest: "tax_details_total", Kind: KindNumeric},
	{Source: "igst_total", Dest: "igst_total", Kind: KindNumeric},
	{Source: "department", Dest: "department", Kind: KindIdentity},
	{Source: "assignee", Dest: "assignee", Kind: KindIdentity},
	{Source: "invoice_file", Dest: "invoice_file", Kind: KindIdentity},
	{Source: "supporting_documents", Dest: "supporting_documents", Kind: KindIdentity},
}

// Dropped lists source columns that exist upstream but are never sent to the
// remote API.
var Dropped = []string{"id", "created_at", "updated_at"}

// SourceColumns returns the source column names of a mapping table, in order.
func SourceColumns(table []Field) []string {
	cols := make([]string, 0, len(table))
	for _, f := range table {
		cols = append(cols, f.Source)
	}
	return cols
}
