// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/talon/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveFeeRule stores a fee rule with tenant isolation. Constraint fields are
// stored in their serialized catalog form; parsing and validation belong to
// the engine's catalog load.
func (r *SQLRepository) SaveFeeRule(ctx context.Context, tenantID string, rule *domain.FeeRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	accountTypes, _ := json.Marshal(rule.AccountType)
	mccs, _ := json.Marshal(rule.MerchantCategoryCode)
	acis, _ := json.Marshal(rule.ACI)

	now := time.Now().UTC()

	query := `
		INSERT INTO fee_rules (
			id, tenant_id, card_scheme, account_type, merchant_category_code,
			aci, is_credit, intracountry, capture_delay, monthly_volume,
			monthly_fraud_level, expression, fixed_amount, rate,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			card_scheme = excluded.card_scheme,
			account_type = excluded.account_type,
			merchant_category_code = excluded.merchant_category_code,
			aci = excluded.aci,
			is_credit = excluded.is_credit,
			intracountry = excluded.intracountry,
			capture_delay = excluded.capture_delay,
			monthly_volume = excluded.monthly_volume,
			monthly_fraud_level = excluded.monthly_fraud_level,
			expression = excluded.expression,
			fixed_amount = excluded.fixed_amount,
			rate = excluded.rate,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.CardScheme,
		string(accountTypes), string(mccs), string(acis),
		optBoolValue(rule.IsCredit), optBoolValue(rule.Intracountry),
		rule.CaptureDelay, rule.MonthlyVolume, rule.MonthlyFraudLevel,
		rule.Expression, rule.FixedAmount.String(), rule.Rate.String(),
		now, now,
	)
	return err
}

// GetFeeRule retrieves one fee rule with tenant isolation.
func (r *SQLRepository) GetFeeRule(ctx context.Context, tenantID string, ruleID int64) (*domain.FeeRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := feeRuleColumns + `
		FROM fee_rules
		WHERE tenant_id = ? AND id = ?
	`

	rule, err := scanFeeRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListFeeRules retrieves the tenant's catalog ordered by ascending rule ID,
// the precedence order the engine's first-match-wins policy relies on.
func (r *SQLRepository) ListFeeRules(ctx context.Context, tenantID string) ([]*domain.FeeRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := feeRuleColumns + `
		FROM fee_rules
		WHERE tenant_id = ?
		ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.FeeRule
	for rows.Next() {
		rule, err := scanFeeRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

const feeRuleColumns = `
		SELECT id, tenant_id, card_scheme, account_type, merchant_category_code,
			   aci, is_credit, intracountry, capture_delay, monthly_volume,
			   monthly_fraud_level, expression, fixed_amount, rate
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeeRule(row rowScanner) (*domain.FeeRule, error) {
	var rule domain.FeeRule
	var accountTypes, mccs, acis string
	var isCredit, intracountry sql.NullBool
	var fixedAmount, rate string

	err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.CardScheme,
		&accountTypes, &mccs, &acis,
		&isCredit, &intracountry,
		&rule.CaptureDelay, &rule.MonthlyVolume, &rule.MonthlyFraudLevel,
		&rule.Expression, &fixedAmount, &rate,
	)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(accountTypes), &rule.AccountType)
	json.Unmarshal([]byte(mccs), &rule.MerchantCategoryCode)
	json.Unmarshal([]byte(acis), &rule.ACI)

	rule.IsCredit = nullBoolToOpt(isCredit)
	rule.Intracountry = nullBoolToOpt(intracountry)

	if rule.FixedAmount, err = decimal.NewFromString(fixedAmount); err != nil {
		return nil, fmt.Errorf("rule %d: corrupt fixed_amount %q: %w", rule.ID, fixedAmount, err)
	}
	if rule.Rate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("rule %d: corrupt rate %q: %w", rule.ID, rate, err)
	}

	return &rule, nil
}

func optBoolValue(o domain.OptBool) any {
	if !o.Valid {
		return nil
	}
	return o.Bool
}

func nullBoolToOpt(n sql.NullBool) domain.OptBool {
	if !n.Valid {
		return domain.OptBool{}
	}
	return domain.SetBool(n.Bool)
}

// SaveMerchant stores a merchant configuration with tenant isolation.
func (r *SQLRepository) SaveMerchant(ctx context.Context, tenantID string, m *domain.Merchant) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}

	query := `
		INSERT INTO merchants (
			id, tenant_id, account_type, merchant_category_code,
			capture_delay, acquiring_country, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			account_type = excluded.account_type,
			merchant_category_code = excluded.merchant_category_code,
			capture_delay = excluded.capture_delay,
			acquiring_country = excluded.acquiring_country,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		m.ID, tenantID, m.AccountType, m.MerchantCategoryCode,
		m.CaptureDelay, m.AcquiringCountry, m.CreatedAt, now,
	)
	return err
}

// GetMerchant retrieves a merchant configuration with tenant isolation.
func (r *SQLRepository) GetMerchant(ctx context.Context, tenantID string, merchantID string) (*domain.Merchant, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, account_type, merchant_category_code,
			   capture_delay, acquiring_country, created_at, updated_at
		FROM merchants
		WHERE tenant_id = ? AND id = ?
	`

	var m domain.Merchant
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, merchantID).Scan(
		&m.ID, &m.TenantID, &m.AccountType, &m.MerchantCategoryCode,
		&m.CaptureDelay, &m.AcquiringCountry, &m.CreatedAt, &m.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &m, nil
}

// ListMerchants retrieves all merchants for a tenant.
func (r *SQLRepository) ListMerchants(ctx context.Context, tenantID string) ([]*domain.Merchant, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, account_type, merchant_category_code,
			   capture_delay, acquiring_country, created_at, updated_at
		FROM merchants
		WHERE tenant_id = ?
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var merchants []*domain.Merchant
	for rows.Next() {
		var m domain.Merchant
		if err := rows.Scan(
			&m.ID, &m.TenantID, &m.AccountType, &m.MerchantCategoryCode,
			&m.CaptureDelay, &m.AcquiringCountry, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		merchants = append(merchants, &m)
	}

	return merchants, rows.Err()
}

// SavePayment stores a payment with tenant isolation.
func (r *SQLRepository) SavePayment(ctx context.Context, tenantID string, p *domain.Payment) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(p.Metadata)

	query := `
		INSERT INTO payments (
			id, tenant_id, merchant_id, card_scheme, aci, is_credit,
			amount, issuing_country, acquiring_country,
			has_fraudulent_dispute, timestamp, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		p.ID, tenantID, p.MerchantID, p.CardScheme, p.ACI, p.IsCredit,
		p.Amount, p.IssuingCountry, p.AcquiringCountry,
		p.HasFraudulentDispute, p.Timestamp, p.CreatedAt, string(metadata),
	)
	return err
}

// GetPayment retrieves a payment by ID with tenant isolation.
func (r *SQLRepository) GetPayment(ctx context.Context, tenantID string, paymentID string) (*domain.Payment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, merchant_id, card_scheme, aci, is_credit,
			   amount, issuing_country, acquiring_country,
			   has_fraudulent_dispute, timestamp, created_at, metadata
		FROM payments
		WHERE tenant_id = ? AND id = ?
	`

	var p domain.Payment
	var metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, paymentID).Scan(
		&p.ID, &p.TenantID, &p.MerchantID, &p.CardScheme, &p.ACI, &p.IsCredit,
		&p.Amount, &p.IssuingCountry, &p.AcquiringCountry,
		&p.HasFraudulentDispute, &p.Timestamp, &p.CreatedAt, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if metadata != "" {
		json.Unmarshal([]byte(metadata), &p.Metadata)
	}

	return &p, nil
}

// GetMonthlyTotals aggregates payment volume and fraud-dispute volume for a
// merchant over [from, to).
func (r *SQLRepository) GetMonthlyTotals(ctx context.Context, tenantID string, merchantID string, from, to time.Time) (*domain.MonthlyTotals, error) {
	if tenantID == "" || merchantID == "" {
		return nil, fmt.Errorf("%w: tenantID and merchantID are required", ErrInvalidInput)
	}

	query := `
		SELECT
			COALESCE(SUM(amount), 0),
			COALESCE(SUM(CASE WHEN has_fraudulent_dispute THEN amount ELSE 0 END), 0),
			COUNT(*),
			COALESCE(SUM(CASE WHEN has_fraudulent_dispute THEN 1 ELSE 0 END), 0)
		FROM payments
		WHERE tenant_id = ? AND merchant_id = ?
		  AND timestamp >= ? AND timestamp < ?
	`

	var t domain.MonthlyTotals
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, merchantID, from, to).Scan(
		&t.TotalAmount, &t.FraudAmount, &t.TotalCount, &t.FraudCount,
	)
	if err != nil {
		return nil, err
	}

	return &t, nil
}

// SaveAssessment stores a fee assessment with tenant isolation.
func (r *SQLRepository) SaveAssessment(ctx context.Context, tenantID string, a *domain.FeeAssessment) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	applicable, _ := json.Marshal(a.ApplicableRules)
	metadata, _ := json.Marshal(a.Metadata)

	query := `
		INSERT INTO fee_assessments (
			id, tenant_id, payment_id, merchant_id, rule_id,
			amount, fee, applicable_rules, timestamp, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, tenantID, a.PaymentID, a.MerchantID, a.RuleID,
		a.Amount.String(), a.Fee.String(), string(applicable),
		a.Timestamp, string(metadata),
	)
	return err
}

// GetAssessment retrieves a fee assessment by ID with tenant isolation.
func (r *SQLRepository) GetAssessment(ctx context.Context, tenantID string, assessmentID string) (*domain.FeeAssessment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, payment_id, merchant_id, rule_id,
			   amount, fee, applicable_rules, timestamp, metadata
		FROM fee_assessments
		WHERE tenant_id = ? AND id = ?
	`

	var a domain.FeeAssessment
	var amount, fee, applicable, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, assessmentID).Scan(
		&a.ID, &a.TenantID, &a.PaymentID, &a.MerchantID, &a.RuleID,
		&amount, &fee, &applicable, &a.Timestamp, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if a.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("assessment %s: corrupt amount %q: %w", a.ID, amount, err)
	}
	if a.Fee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("assessment %s: corrupt fee %q: %w", a.ID, fee, err)
	}
	json.Unmarshal([]byte(applicable), &a.ApplicableRules)
	json.Unmarshal([]byte(metadata), &a.Metadata)

	return &a, nil
}

// Ping verifies the database connection.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
