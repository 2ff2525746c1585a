// Package finance defines the domain types shared across the bot: the
// transaction and project records, the Ledger and Extractor contracts,
// and the error kinds collaborator failures are classified into.
package finance
