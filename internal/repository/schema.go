package repository

// Schema definitions for the Sentinel database.
// Compatible with both SQLite and PostgreSQL.

// schemaLedger stores the historical ledger as an alternative to the CSV file.
// seq preserves the file order inside a step.
const schemaLedger = `
CREATE TABLE IF NOT EXISTS ledger_transactions (
    seq INTEGER PRIMARY KEY,
    step INTEGER NOT NULL,
    type TEXT NOT NULL,
    amount DOUBLE PRECISION NOT NULL,
    name_orig TEXT NOT NULL,
    old_balance_orig DOUBLE PRECISION NOT NULL,
    new_balance_orig DOUBLE PRECISION NOT NULL,
    name_dest TEXT NOT NULL,
    old_balance_dest DOUBLE PRECISION NOT NULL,
    new_balance_dest DOUBLE PRECISION NOT NULL,
    is_fraud INTEGER NOT NULL DEFAULT 0,
    is_flagged_fraud INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_ledger_step ON ledger_transactions(step);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    flag TEXT NOT NULL,
    weight INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaLedger,
		schemaRuleConfigs,
	}
}
