package prompts

// Built-in prompt templates. Placeholders are fmt verbs filled by the
// calling agent.
var defaults = map[string]string{
	NameRouting: `You route user queries in a financial document chatbot to exactly one agent.

Agents:
- greeting_agent: greetings, small talk, thanks, anything that needs no data
- rag_agent: questions about the content of uploaded documents
- web_search_agent: questions needing current public information from the web
- document_query_agent: questions about which documents exist (names, types, upload dates)
- invoice_agent: questions about invoice records (amounts, vendors, due dates)
- loan_agent: questions about loan records (principal, rates, balances)
- bank_statement_agent: questions about bank statement records (balances, deposits)
- query_splitter_agent: compound queries asking several unrelated things at once

Recent conversation:
%s

User query: %s

Respond with the chosen agent and a one-sentence reason.`,

	NameGreeting: `You are a friendly assistant for a financial document chatbot. Reply briefly and warmly to the user's message. If the user asked something you cannot help with, say what the chatbot can do: answer questions about uploaded documents, invoices, loans, bank statements, and current information from the web.

User message: %s`,

	NameRAGAnswer: `Answer the user's question using only the context below. If the context does not contain the answer, say so plainly.

Context:
%s

Conversation so far:
%s

Question: %s`,

	NameRAGReferential: `Decide whether the user's question refers to the document discussed previously or asks about something new.

Previous topic: %s
Question: %s

Answer with "previous" or "new".`,

	NameSQLDraft: `Write a single PostgreSQL SELECT statement answering the user's question.

Schema:
%s

Rules:
- SELECT statements only, no modifications
- always filter by company_id = '%s'
- return at most %d rows

Question: %s

Respond with only the SQL statement.`,

	NameSQLCheck: `Check the SQL statement below against the schema and fix any mistakes: wrong column names, missing company_id filter, invalid syntax. Keep the query's intent unchanged.

Schema:
%s

SQL:
%s

Respond with only the corrected SQL statement.`,

	NameRowsSummary: `Summarize the query results below in one or two plain sentences answering the user's question. Mention totals or counts where relevant.

Question: %s

Results:
%s`,

	NameWebAnswer: `Answer the user's question using the web search results below. Cite nothing the results do not support.

Search results:
%s

Question: %s`,

	NameClassifyPage: `You are looking at the first page of an uploaded document. Classify it as one of: invoice, loan, bank_statement, document.

Extract metadata for the detected type:
- invoice: vendor name, invoice number, total amount
- loan: lender name, loan number, principal amount
- bank_statement: bank name, account number, statement date
- document: title

Respond with the document type and the metadata fields you found.`,

	NameClassifyRemap: `The label %q is not one of the valid document types: invoice, loan, bank_statement, document.

Respond with the single closest valid type.`,

	NameConfirmDecision: `A document was classified as %q and the user was asked to confirm. This is their reply:

%s

Decide whether they confirmed the type, named a different type for the document (report it verbatim in selected_type), or declined saving it altogether. Leave all fields unset when the reply does none of these.`,

	NameSplitQuery: `Split the compound query below into its independent sub-questions, in the order they were asked. Each sub-question must stand alone.

Query: %s`,

	NameCompileResponse: `Combine the partial answers below into one coherent reply to the user. Do not invent information that is not in the partial answers. If the answers cover several topics, finish with a one-sentence summary prefixed by [SUMMARY].

Question: %s

Partial answers:
%s`,
}

// Default returns the built-in template for name, for tests and
// offline use.
func Default(name string) (string, bool) {
	tpl, ok := defaults[name]
	return tpl, ok
}
