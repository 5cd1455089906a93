package repository

// Schema definitions for the Talon database.
// Compatible with both SQLite and PostgreSQL.

const schemaFeeRules = `
CREATE TABLE IF NOT EXISTS fee_rules (
    id BIGINT NOT NULL,
    tenant_id TEXT NOT NULL,
    card_scheme TEXT NOT NULL DEFAULT '',
    account_type TEXT NOT NULL DEFAULT '[]',
    merchant_category_code TEXT NOT NULL DEFAULT '[]',
    aci TEXT NOT NULL DEFAULT '[]',
    is_credit BOOLEAN,
    intracountry BOOLEAN,
    capture_delay TEXT NOT NULL DEFAULT '',
    monthly_volume TEXT NOT NULL DEFAULT '',
    monthly_fraud_level TEXT NOT NULL DEFAULT '',
    expression TEXT NOT NULL DEFAULT '',
    fixed_amount TEXT NOT NULL,
    rate TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_fee_rules_tenant ON fee_rules(tenant_id);
`

const schemaMerchants = `
CREATE TABLE IF NOT EXISTS merchants (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    account_type TEXT NOT NULL,
    merchant_category_code INTEGER NOT NULL,
    capture_delay TEXT NOT NULL,
    acquiring_country TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_merchants_tenant ON merchants(tenant_id);
`

const schemaPayments = `
CREATE TABLE IF NOT EXISTS payments (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    merchant_id TEXT NOT NULL,
    card_scheme TEXT NOT NULL,
    aci TEXT NOT NULL,
    is_credit BOOLEAN NOT NULL,
    amount REAL NOT NULL,
    issuing_country TEXT NOT NULL DEFAULT '',
    acquiring_country TEXT NOT NULL DEFAULT '',
    has_fraudulent_dispute BOOLEAN NOT NULL DEFAULT FALSE,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_payments_tenant ON payments(tenant_id);
CREATE INDEX IF NOT EXISTS idx_payments_merchant ON payments(tenant_id, merchant_id);
CREATE INDEX IF NOT EXISTS idx_payments_timestamp ON payments(tenant_id, merchant_id, timestamp);
`

const schemaFeeAssessments = `
CREATE TABLE IF NOT EXISTS fee_assessments (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    payment_id TEXT NOT NULL,
    merchant_id TEXT NOT NULL,
    rule_id BIGINT NOT NULL,
    amount TEXT NOT NULL,
    fee TEXT NOT NULL,
    applicable_rules TEXT NOT NULL DEFAULT '[]',
    timestamp TIMESTAMP NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fee_assessments_tenant ON fee_assessments(tenant_id);
CREATE INDEX IF NOT EXISTS idx_fee_assessments_payment ON fee_assessments(tenant_id, payment_id);
CREATE INDEX IF NOT EXISTS idx_fee_assessments_rule ON fee_assessments(tenant_id, rule_id);
`

// AllSchemas returns all table schemas in creation order.
func AllSchemas() []string {
	return []string{
		schemaFeeRules,
		schemaMerchants,
		schemaPayments,
		schemaFeeAssessments,
	}
}
