package source

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

var testColumns = []string{"invoice_no", "total_amount"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestFetchPagesInBatches(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select id, invoice_no, total_amount from invoices order by id limit").
		WithArgs(2, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "invoice_no", "total_amount"}).
			AddRow(1, "INV-1", 100.0).
			AddRow(2, "INV-2", 200.0))
	mock.ExpectQuery("select id, invoice_no, total_amount from invoices order by id limit").
		WithArgs(2, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "invoice_no", "total_amount"}).
			AddRow(3, "INV-3", 300.0))

	it, err := store.Fetch(FetchSpec{Table: "invoices", Columns: testColumns, BatchSize: 2})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	ctx := context.Background()
	var ids []string
	for it.Next(ctx) {
		ids = append(ids, it.Row().ID)
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(ids) != 3 || ids[0] != "1" || ids[2] != "3" {
		t.Fatalf("unexpected ids: %v", ids)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFetchHonorsMaxRecords(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select id, invoice_no, total_amount from invoices order by id limit").
		WithArgs(2, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "invoice_no", "total_amount"}).
			AddRow(1, "INV-1", 100.0).
			AddRow(2, "INV-2", 200.0))

	it, err := store.Fetch(FetchSpec{Table: "invoices", Columns: testColumns, BatchSize: 5, MaxRecords: 2})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	ctx := context.Background()
	count := 0
	for it.Next(ctx) {
		count++
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 records, got %d", count)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFetchSingleRecord(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select id, invoice_no, total_amount from invoices where id =").
		WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{"id", "invoice_no", "total_amount"}).
			AddRow(42, "INV-42", 420.0))

	it, err := store.Fetch(FetchSpec{Table: "invoices", Columns: testColumns, BatchSize: 50, RecordID: "42"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	ctx := context.Background()
	if !it.Next(ctx) {
		t.Fatalf("expected one record, err=%v", it.Err())
	}
	row := it.Row()
	if row.ID != "42" || row.Record["invoice_no"] != "INV-42" {
		t.Fatalf("unexpected row: %+v", row)
	}
	if it.Next(ctx) {
		t.Fatal("single-id fetch must yield exactly one record")
	}
}

func TestFetchSingleRecordNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select id, invoice_no, total_amount from invoices where id =").
		WithArgs("999").
		WillReturnRows(sqlmock.NewRows([]string{"id", "invoice_no", "total_amount"}))

	it, err := store.Fetch(FetchSpec{Table: "invoices", Columns: testColumns, BatchSize: 50, RecordID: "999"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if it.Next(context.Background()) {
		t.Fatal("expected no records")
	}
	if !errors.Is(it.Err(), ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", it.Err())
	}
}

func TestFetchRejectsBadTable(t *testing.T) {
	store, _ := newMockStore(t)

	if _, err := store.Fetch(FetchSpec{Table: "invoices; drop table users", Columns: testColumns}); err == nil {
		t.Fatal("expected error for unsafe table name")
	}
}

func TestListRecords(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select id, invoice_no, invoice_date, total_amount from invoices order by id limit").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "invoice_no", "invoice_date", "total_amount"}).
			AddRow(1, "INV-1", nil, 100.5))

	records, err := store.ListRecords(context.Background(), "invoices", 5)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	if records[0].ID != "1" || records[0].InvoiceNo != "INV-1" || records[0].TotalAmount != 100.5 {
		t.Fatalf("unexpected record: %+v", records[0])
	}
}
