package retro

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/transpostw1/vincap-retro-sync/internal/mapping"
	"github.com/transpostw1/vincap-retro-sync/internal/obs"
)

// Reference identifiers the Retro instance expects verbatim. These come from
// the target deployment's master data and must not be regenerated.
const (
	refCostCenter = "14!G!d490d9af-a497-4ea6-b807-cbbeae42c35b"
	refCargoType  = "9!G!e2c8c531-8387-4e07-afac-24f8727ffa1b"
)

// gstRateRefs maps each GST rate the remote requires to its fixed reference.
// Every submission must carry all six rates; unused rates go out as zero rows.
var gstRateRefs = []struct {
	Rate float64
	Ref  string
}{
	{0, "22!G!26fd346e-e9f1-4e50-8c26-05859f753250"},
	{3, "22!G!906e8b3a-8817-4fc1-8e9c-fc8c5f6b3fbe"},
	{5, "22!G!b0f98850-b5ba-4f71-8536-2121b7c06ad7"},
	{12, "22!G!030734df-53ae-4cb9-803d-c8929f11152c"},
	{18, "22!G!01482a49-1aee-4a46-8043-78a74c95b034"},
	{28, "22!G!96a553ec-2f36-4f3f-a66a-77780c5bb1ec"},
}

// defaultCostRefs are the cost rows the remote expects when a record carries
// no additional costs of its own.
var defaultCostRefs = []struct {
	Name string
	Ref  string
}{
	{"Cess", "1!G!0ff1217d-fcd0-4ec1-9f5b-0543af73d7ed"},
	{"Courier Charge", "1!G!f34767f5-cd75-4aa8-95f7-0e78167fc493"},
	{"Transportation Charge", "1!G!482e3378-f20e-4d68-9b23-6885f8b9aaf5"},
	{"Delivery Charge", "1!G!0a46e8f4-9f8d-401e-b9cb-fd420db1de7b"},
}

type taxDetail struct {
	TaxRate float64 `json:"tax_rate"`
	Amount  float64 `json:"amount"`
	SGST    float64 `json:"sgst"`
	CGST    float64 `json:"cgst"`
	IGST    float64 `json:"igst"`
	HSNSAC  string  `json:"hsn_sac"`
}

type additionalCost struct {
	Type    string  `json:"type"`
	Amount  float64 `json:"amount"`
	TaxRate float64 `json:"tax_rate"`
	HSNSAC  string  `json:"hsn_sac"`
}

type gstEntry struct {
	Rate       float64 `json:"Rate"`
	Amount     float64 `json:"Amount"`
	HSNSAC     string  `json:"HSN_SAC"`
	TaxTotal   float64 `json:"TaxTotal"`
	Total      float64 `json:"Total"`
	GSTType    string  `json:"GSTType"`
	IGST       float64 `json:"IGST"`
	CGST       float64 `json:"CGST"`
	SGST       float64 `json:"SGST"`
	ExternalID string  `json:"externalid"`
	GSTRate    string  `json:"GSTRate"`
}

type costEntry struct {
	Name           string  `json:"Name"`
	HSNSAC         string  `json:"HSN_SAC"`
	Amount         float64 `json:"Amount"`
	GSTRate        string  `json:"GSTRate"`
	TaxTotal       float64 `json:"TaxTotal"`
	Total          float64 `json:"Total"`
	TaxAmount      float64 `json:"TaxAmount"`
	ExternalID     string  `json:"externalId"`
	AdditionalCost string  `json:"AdditionalCost"`
}

// buildInvoiceForm assembles the AddUpdateInvoice form body: one `data`
// envelope, a `gstData` field per fixed rate, one `aCostData` per cost row and
// the `masterEdit` flag.
func buildInvoiceForm(p mapping.Payload) (url.Values, error) {
	gstEntries := buildGSTEntries(p["tax_details"])
	costEntries := buildCostEntries(p["additional_costs"])

	var subTotal, gstTotal float64
	for _, e := range gstEntries {
		subTotal += e.Amount
		gstTotal += e.TaxTotal
	}
	var costTotal float64
	for _, e := range costEntries {
		costTotal += e.Total
	}

	totalAmount := subTotal + gstTotal + costTotal
	if raw := p["total_amount"]; raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			totalAmount = v
		}
	}

	remark := "Migrated from Neon"
	if vessel := p["office_vessel"]; vessel != "" {
		remark += " - " + vessel
	}

	data := map[string]any{
		"Status":                                 "",
		"ApprovalStatus":                         "",
		"InternalReference":                      "",
		"DryDockInvoice":                         false,
		"Date":                                   apiDate(p["invoice_date"]),
		"DueDate":                                apiDate(p["invoice_due_date"]),
		"ReceivedDate":                           apiDate(p["received_date"]),
		"CounterParty":                           p["vendor_id"],
		"ReferenceNumber":                        p["invoice_no"],
		"Type":                                   p["invoice_type"],
		"SubTotal":                               subTotal,
		"Remark":                                 remark,
		"Currency":                               p["currency"],
		"Location":                               p["office_vessel"],
		"Paid":                                   false,
		"Due":                                    false,
		"Overdue":                                false,
		"PendingAssignment":                      true,
		"externalId":                             "",
		"Organization":                           p["org_id"],
		"Department":                             p["department"],
		"TotalAmount":                            totalAmount,
		"AdditionalCostTotal":                    costTotal,
		"GSTTotal":                               gstTotal,
		"CostCenter":                             refCostCenter,
		"CorrespondingProformaInvoice":           p["corresponding_proforma_invoice"],
		"CorrespondingProformaInvoiceExternalId": "",
		"RCMApplicable":                          false,
		"CargoType":                              refCargoType,
		"CharterType":                            "tc",
		"PurchaseOrderId":                        p["purchase_order_no"],
		"PurchaseOrderRetroNETReference":         "",
		"isServicePurchaseOrder":                 true,
		"TakeOverExpense":                        false,
	}

	envelope, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal invoice data: %w", err)
	}

	form := url.Values{}
	form.Set("data", string(envelope))
	for _, e := range gstEntries {
		raw, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal gst entry: %w", err)
		}
		form.Add("gstData", string(raw))
	}
	for _, e := range costEntries {
		raw, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal cost entry: %w", err)
		}
		form.Add("aCostData", string(raw))
	}
	form.Set("masterEdit", "false")
	return form, nil
}

// buildGSTEntries produces one row per fixed rate, filling in the record's tax
// details where present and zero rows elsewhere.
func buildGSTEntries(taxDetailsJSON string) []gstEntry {
	byRate := map[float64]taxDetail{}
	if taxDetailsJSON != "" {
		var details []taxDetail
		if err := decodeDoubleJSON([]byte(taxDetailsJSON), &details); err != nil {
			obs.Warn("tax details not parseable, sending zero GST rows", map[string]any{"error": err.Error()})
		} else {
			for _, d := range details {
				byRate[d.TaxRate] = d
			}
		}
	}

	entries := make([]gstEntry, 0, len(gstRateRefs))
	for _, rr := range gstRateRefs {
		entry := gstEntry{Rate: rr.Rate, GSTType: "na", GSTRate: rr.Ref}
		if d, ok := byRate[rr.Rate]; ok && rr.Rate > 0 {
			base := d.Amount
			taxTotal := d.SGST + d.CGST + d.IGST
			if base == 0 && taxTotal > 0 {
				base = taxTotal / (rr.Rate / 100)
			}
			if taxTotal == 0 && base > 0 {
				taxTotal = base * rr.Rate / 100
			}
			entry.Amount = base
			entry.HSNSAC = d.HSNSAC
			entry.TaxTotal = taxTotal
			entry.Total = base + taxTotal
			entry.IGST = d.IGST
			entry.CGST = d.CGST
			entry.SGST = d.SGST
		}
		entries = append(entries, entry)
	}
	return entries
}

// buildCostEntries maps the record's additional costs onto Retro cost rows,
// falling back to the fixed zero rows the remote expects when none exist.
func buildCostEntries(costsJSON string) []costEntry {
	if costsJSON != "" {
		var costs []additionalCost
		if err := decodeDoubleJSON([]byte(costsJSON), &costs); err != nil {
			obs.Warn("additional costs not parseable, sending default rows", map[string]any{"error": err.Error()})
		} else if len(costs) > 0 {
			entries := make([]costEntry, 0, len(costs))
			for _, c := range costs {
				taxAmount := c.Amount * c.TaxRate / 100
				entry := costEntry{
					Name:           strings.TrimSpace(c.Type),
					HSNSAC:         c.HSNSAC,
					Amount:         c.Amount,
					TaxTotal:       taxAmount,
					Total:          c.Amount + taxAmount,
					TaxAmount:      taxAmount,
					AdditionalCost: "1!G!" + uuid.NewString(),
				}
				if c.TaxRate > 0 {
					entry.GSTRate = "22!G!" + uuid.NewString()
				}
				entries = append(entries, entry)
			}
			return entries
		}
	}

	entries := make([]costEntry, 0, len(defaultCostRefs))
	for _, dc := range defaultCostRefs {
		entries = append(entries, costEntry{Name: dc.Name, AdditionalCost: dc.Ref})
	}
	return entries
}

// apiDate expands a YYYY-MM-DD payload date into the timestamp shape the
// remote expects. Empty dates stay empty rather than inventing a value.
func apiDate(d string) string {
	if d == "" {
		return ""
	}
	return d + "T00:00:00.000Z"
}
