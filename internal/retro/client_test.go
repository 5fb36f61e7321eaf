package retro

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/transpostw1/vincap-retro-sync/internal/mapping"
)

func testPayload() mapping.Payload {
	return mapping.Payload{
		"vendor_id":    "15!G!717acd53-286b-413f-936e-84b2505a6fe3",
		"invoice_no":   "INV-1042",
		"invoice_date": "2024-01-15",
		"currency":     "17!G!00098981-b3ec-45bb-bc3c-f29c7cdc07b0",
		"total_amount": "236.00",
		"tax_details":  `[{"tax_rate":18,"sgst":18,"cgst":18,"igst":0,"hsn_sac":"9983","amount":200}]`,
	}
}

func testSession() Session {
	return Session{
		Cookie:     &http.Cookie{Name: "ASP.NET_SessionId", Value: "abc123"},
		AcquiredAt: time.Now().UTC(),
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, srv.URL, "operator", "secret", 5*time.Second)
}

func TestAuthenticateSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != authenticatePath {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("userName"); got != "operator" {
			t.Fatalf("unexpected userName: %q", got)
		}
		http.SetCookie(w, &http.Cookie{Name: "ASP.NET_SessionId", Value: "gaiwuhwq5vf"})
		// Served as text/html by the real remote.
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`[{"response":true,"message":"ok","redirectLink":"/Home"}]`))
	})

	sess, err := c.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !sess.Valid() {
		t.Fatal("expected a valid session")
	}
	if sess.Cookie.Name != "ASP.NET_SessionId" || sess.Cookie.Value != "gaiwuhwq5vf" {
		t.Fatalf("unexpected cookie: %+v", sess.Cookie)
	}
	if sess.AcquiredAt.IsZero() {
		t.Fatal("AcquiredAt not set")
	}
}

func TestAuthenticateRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"response":false,"message":"invalid credentials","redirectLink":""}]`))
	})

	_, err := c.Authenticate(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestAuthenticateNoCookie(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"response":true,"message":"ok","redirectLink":""}]`))
	})

	if _, err := c.Authenticate(context.Background()); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed without cookie, got %v", err)
	}
}

func TestSubmitSuccess(t *testing.T) {
	var seen url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != submitPath {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if cookie, err := r.Cookie("ASP.NET_SessionId"); err != nil || cookie.Value != "abc123" {
			t.Fatalf("session cookie not forwarded: %v", err)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		seen = r.PostForm
		_, _ = w.Write([]byte(`[{"response":true,"message":"Invoice Saved Successfully"}]`))
	})

	out, err := c.Submit(context.Background(), testSession(), "42", testPayload())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.Status != StatusSuccess {
		t.Fatalf("unexpected status: %+v", out)
	}
	if out.RemoteMessage != "Invoice Saved Successfully" {
		t.Fatalf("message not captured: %+v", out)
	}
	if out.RecordID != "42" || out.HTTPStatus != http.StatusOK {
		t.Fatalf("outcome metadata wrong: %+v", out)
	}

	if got := len(seen["gstData"]); got != 6 {
		t.Fatalf("expected 6 gstData rows, got %d", got)
	}
	if got := len(seen["aCostData"]); got != 4 {
		t.Fatalf("expected 4 default aCostData rows, got %d", got)
	}
	if seen.Get("masterEdit") != "false" {
		t.Fatalf("masterEdit missing: %v", seen.Get("masterEdit"))
	}

	var envelope map[string]any
	if err := json.Unmarshal([]byte(seen.Get("data")), &envelope); err != nil {
		t.Fatalf("data field not JSON: %v", err)
	}
	if envelope["ReferenceNumber"] != "INV-1042" {
		t.Fatalf("unexpected reference: %v", envelope["ReferenceNumber"])
	}
	if envelope["Date"] != "2024-01-15T00:00:00.000Z" {
		t.Fatalf("unexpected date: %v", envelope["Date"])
	}
	if envelope["TotalAmount"] != 236.0 {
		t.Fatalf("unexpected total: %v", envelope["TotalAmount"])
	}
	if envelope["PendingAssignment"] != true {
		t.Fatalf("PendingAssignment not set: %v", envelope["PendingAssignment"])
	}
}

func TestSubmitRejectedNotRetryable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"response":false,"message":"Duplicate Reference Number"}]`))
	})

	out, err := c.Submit(context.Background(), testSession(), "42", testPayload())
	if err != nil {
		t.Fatalf("rejection must not surface as a retryable error, got %v", err)
	}
	if out.Status != StatusFailure {
		t.Fatalf("expected failure outcome: %+v", out)
	}
	if out.RemoteMessage != "Duplicate Reference Number" {
		t.Fatalf("remote message not verbatim: %+v", out)
	}
}

func TestSubmitAuthExpired(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"401": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		},
		"redirect to login": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Location", "/Authentication/Login")
			w.WriteHeader(http.StatusFound)
		},
		"login page body": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html><body><form action="/Login">...</form></body></html>`))
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, handler)
			_, err := c.Submit(context.Background(), testSession(), "42", testPayload())
			if !errors.Is(err, ErrAuthExpired) {
				t.Fatalf("expected ErrAuthExpired, got %v", err)
			}
		})
	}
}

func TestSubmitTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := New(srv.URL, srv.URL, "operator", "secret", time.Second)
	srv.Close()

	out, err := c.Submit(context.Background(), testSession(), "42", testPayload())
	if err == nil || errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if out.Status != StatusFailure || out.ErrorDetail == "" {
		t.Fatalf("outcome should carry transport detail: %+v", out)
	}
}

func TestPendingAssignmentsDoubleDecode(t *testing.T) {
	inner := `{"Data":[{"ReferenceNumber":"INV-1042","Status":"Pending","TotalAmount":236}]}`
	outer, err := json.Marshal(inner)
	if err != nil {
		t.Fatalf("marshal outer layer: %v", err)
	}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pendingPath {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write(outer)
	})

	invoices, err := c.PendingAssignments(context.Background(), testSession())
	if err != nil {
		t.Fatalf("PendingAssignments: %v", err)
	}
	if len(invoices) != 1 {
		t.Fatalf("expected one invoice, got %d", len(invoices))
	}
	if invoices[0].ReferenceNumber != "INV-1042" || invoices[0].TotalAmount != 236 {
		t.Fatalf("unexpected invoice: %+v", invoices[0])
	}
}

func TestPendingAssignmentsSingleEncoded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Data":[{"ReferenceNumber":"INV-7"}]}`))
	})

	invoices, err := c.PendingAssignments(context.Background(), testSession())
	if err != nil {
		t.Fatalf("PendingAssignments: %v", err)
	}
	if len(invoices) != 1 || invoices[0].ReferenceNumber != "INV-7" {
		t.Fatalf("unexpected invoices: %+v", invoices)
	}
}

func TestGSTEntriesFillKnownRates(t *testing.T) {
	entries := buildGSTEntries(`[{"tax_rate":18,"sgst":90,"cgst":90,"igst":0,"hsn_sac":"9983"}]`)
	if len(entries) != 6 {
		t.Fatalf("expected 6 entries, got %d", len(entries))
	}
	var found bool
	for _, e := range entries {
		if e.Rate == 18 {
			found = true
			if e.TaxTotal != 180 {
				t.Fatalf("unexpected tax total: %+v", e)
			}
			if e.Amount != 1000 {
				t.Fatalf("base amount should derive from tax total: %+v", e)
			}
			if e.Total != 1180 {
				t.Fatalf("unexpected total: %+v", e)
			}
		} else if e.Amount != 0 || e.TaxTotal != 0 {
			t.Fatalf("unused rate %v should be zero: %+v", e.Rate, e)
		}
		if e.GSTRate == "" {
			t.Fatalf("missing rate reference: %+v", e)
		}
	}
	if !found {
		t.Fatal("18% rate entry missing")
	}
}

func TestCostEntriesFromRecord(t *testing.T) {
	entries := buildCostEntries(`[{"type":"Courier Charge","amount":100,"tax_rate":18}]`)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Name != "Courier Charge" || e.TaxAmount != 18 || e.Total != 118 {
		t.Fatalf("unexpected cost entry: %+v", e)
	}
	if e.GSTRate == "" || e.AdditionalCost == "" {
		t.Fatalf("reference ids missing: %+v", e)
	}
}
