package details

import "github.com/ledgerchat/ledgerchat/internal/agent"

// Schema describes one queryable table group: the hand-authored
// description fed to the SQL-drafting model, the tables the validator
// allows, and the column used as the resource identifier in answers.
type Schema struct {
	Kind        agent.Kind
	Tables      []string
	IDColumn    string
	TitleColumn string
	Description string
}

// Invoices is the invoice agent's schema.
var Invoices = Schema{
	Kind:        agent.KindInvoice,
	Tables:      []string{"invoices"},
	IDColumn:    "invoice_number",
	TitleColumn: "vendor_name",
	Description: `Table invoices:
  id             bigint
  company_id     text      -- always filter on this
  invoice_number text
  vendor_name    text
  invoice_date   date
  due_date       date      -- nullable
  total_amount   numeric   -- invoice total including tax
  tax_amount     numeric   -- nullable
  currency       text      -- ISO code, default 'USD'
  status         text      -- 'open', 'paid', 'overdue'
  document_key   text      -- nullable, source document
  created_at     timestamptz`,
}

// Loans is the loan agent's schema.
var Loans = Schema{
	Kind:        agent.KindLoan,
	Tables:      []string{"loans"},
	IDColumn:    "loan_number",
	TitleColumn: "lender_name",
	Description: `Table loans:
  id                  bigint
  company_id          text    -- always filter on this
  loan_number         text
  lender_name         text
  principal_amount    numeric
  interest_rate       numeric -- annual rate as a fraction, e.g. 0.0525
  start_date          date
  maturity_date       date    -- nullable
  outstanding_balance numeric -- nullable
  status              text    -- 'active', 'closed', 'defaulted'
  document_key        text    -- nullable, source document
  created_at          timestamptz`,
}

// BankStatements is the bank-statement agent's schema.
var BankStatements = Schema{
	Kind:        agent.KindBankStatement,
	Tables:      []string{"bank_statements"},
	IDColumn:    "account_number",
	TitleColumn: "bank_name",
	Description: `Table bank_statements:
  id                bigint
  company_id        text    -- always filter on this
  account_number    text
  bank_name         text
  statement_date    date
  opening_balance   numeric
  closing_balance   numeric
  total_deposits    numeric -- nullable
  total_withdrawals numeric -- nullable
  document_key      text    -- nullable, source document
  created_at        timestamptz`,
}

// Documents is the document-query agent's schema; it answers questions
// about which documents exist, not about their content.
var Documents = Schema{
	Kind:        agent.KindDocumentQuery,
	Tables:      []string{"documents"},
	IDColumn:    "document_key",
	TitleColumn: "filename",
	Description: `Table documents:
  document_key text -- primary key
  company_id   text -- always filter on this
  filename     text
  doc_type     text -- 'invoice', 'loan', 'bank_statement', 'document'
  uploaded_at  timestamptz`,
}
