// Benchmark tool for testing Talon against a payments CSV export.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/payments.csv -url http://localhost:8080
//
// This tool:
//   1. Reads payment rows (merchant, card scheme, ACI, EUR amount, countries)
//   2. Sends each payment to Talon for fee assessment
//   3. Tracks which rules billed and how much fee each rule produced
//   4. Reports match rate, fee totals, latency, and throughput
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentRow represents a row from the payments dataset
type PaymentRow struct {
	PSPReference         string
	Merchant             string
	CardScheme           string
	Amount               float64
	IsCredit             bool
	ACI                  string
	IssuingCountry       string
	AcquiringCountry     string
	HasFraudulentDispute bool
}

// AssessRequest is the Talon API request format
type AssessRequest struct {
	PaymentID            string  `json:"paymentId,omitempty"`
	MerchantID           string  `json:"merchantId"`
	CardScheme           string  `json:"cardScheme"`
	ACI                  string  `json:"aci"`
	IsCredit             bool    `json:"isCredit"`
	Amount               float64 `json:"amount"`
	IssuingCountry       string  `json:"issuingCountry,omitempty"`
	AcquiringCountry     string  `json:"acquiringCountry,omitempty"`
	HasFraudulentDispute bool    `json:"hasFraudulentDispute,omitempty"`
}

// AssessResponse is the Talon API response format
type AssessResponse struct {
	AssessmentID string  `json:"assessmentId"`
	RuleID       int64   `json:"ruleId"`
	Fee          string  `json:"fee"`
	Applicable   []int64 `json:"applicableRules"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TotalProcessed int64
	TotalMatched   int64
	TotalNoRule    int64
	TotalErrors    int64

	ProcessingTimeMs int64

	mu        sync.Mutex
	totalFee  decimal.Decimal
	feeByRule map[int64]decimal.Decimal
	hitByRule map[int64]int64
}

func (m *Metrics) record(ruleID int64, fee decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalFee = m.totalFee.Add(fee)
	m.feeByRule[ruleID] = m.feeByRule[ruleID].Add(fee)
	m.hitByRule[ruleID]++
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to payments CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Talon base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum payments to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each payment result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/payments.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║             TALON BENCHMARK - Bulk Fee Assessment             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:   %s\n", *csvPath)
	fmt.Printf("Talon URL:  %s\n", *baseURL)
	fmt.Printf("Tenant ID:  %s\n", *tenantID)
	fmt.Printf("Workers:    %d\n", *workers)
	fmt.Printf("Limit:      %d\n", *limit)
	fmt.Println()

	// Check Talon is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Talon not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Talon is running:")
		fmt.Println("  cd talon && go run cmd/talon/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Talon is healthy")

	// Read payment data
	fmt.Printf("\nReading payments from %s...\n", *csvPath)
	payments, err := readPaymentsCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d payments\n", len(payments))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(payments, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readPaymentsCSV(path string, limit int) ([]PaymentRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(col)] = i
	}

	var payments []PaymentRow

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		amount, _ := strconv.ParseFloat(record[colIndex["eur_amount"]], 64)

		row := PaymentRow{
			PSPReference:         record[colIndex["psp_reference"]],
			Merchant:             record[colIndex["merchant"]],
			CardScheme:           record[colIndex["card_scheme"]],
			Amount:               amount,
			IsCredit:             parseBool(record[colIndex["is_credit"]]),
			ACI:                  record[colIndex["aci"]],
			IssuingCountry:       record[colIndex["issuing_country"]],
			AcquiringCountry:     record[colIndex["acquirer_country"]],
			HasFraudulentDispute: parseBool(record[colIndex["has_fraudulent_dispute"]]),
		}

		payments = append(payments, row)

		if limit > 0 && len(payments) >= limit {
			break
		}
	}

	return payments, nil
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "1.0", "yes":
		return true
	}
	return false
}

func runBenchmark(payments []PaymentRow, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{
		totalFee:  decimal.Zero,
		feeByRule: make(map[int64]decimal.Decimal),
		hitByRule: make(map[int64]int64),
	}

	// Create work channel
	work := make(chan PaymentRow, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for row := range work {
				start := time.Now()
				result, status, err := assessPayment(client, baseURL, tenantID, row)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					if status == http.StatusUnprocessableEntity {
						atomic.AddInt64(&metrics.TotalNoRule, 1)
					} else {
						atomic.AddInt64(&metrics.TotalErrors, 1)
					}
					if verbose {
						fmt.Printf("MISS %s -> %v\n", row.PSPReference, err)
					}
					continue
				}

				atomic.AddInt64(&metrics.TotalMatched, 1)

				fee, ferr := decimal.NewFromString(result.Fee)
				if ferr == nil {
					metrics.record(result.RuleID, fee)
				}

				if verbose {
					fmt.Printf("✓ %-12s | %-14s | ACI %-2s | €%10.2f | rule %4d | fee %s\n",
						row.PSPReference,
						row.CardScheme,
						row.ACI,
						row.Amount,
						result.RuleID,
						result.Fee,
					)
				}
			}
		}()
	}

	// Send work
	for _, row := range payments {
		work <- row
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func assessPayment(client *http.Client, baseURL, tenantID string, row PaymentRow) (*AssessResponse, int, error) {
	req := AssessRequest{
		PaymentID:            row.PSPReference,
		MerchantID:           row.Merchant,
		CardScheme:           row.CardScheme,
		ACI:                  row.ACI,
		IsCredit:             row.IsCredit,
		Amount:               row.Amount,
		IssuingCountry:       row.IssuingCountry,
		AcquiringCountry:     row.AcquiringCountry,
		HasFraudulentDispute: row.HasFraudulentDispute,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/assess", bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result AssessResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, err
	}

	return &result, resp.StatusCode, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 ASSESSMENT STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Matched:          %d\n", m.TotalMatched)
	fmt.Printf("   No Rule:          %d\n", m.TotalNoRule)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)
	if m.TotalProcessed > 0 {
		matchRate := float64(m.TotalMatched) / float64(m.TotalProcessed) * 100
		fmt.Printf("   Match Rate:       %.2f%%\n", matchRate)
	}

	fmt.Printf("\n💶 FEE TOTALS\n")
	fmt.Printf("   Total Fees:       €%s\n", m.totalFee.StringFixed(2))
	if m.TotalMatched > 0 {
		avg := m.totalFee.Div(decimal.NewFromInt(m.TotalMatched))
		fmt.Printf("   Avg Fee:          €%s\n", avg.StringFixed(4))
	}

	if len(m.hitByRule) > 0 {
		fmt.Printf("\n📋 BILLED RULES\n")
		ruleIDs := make([]int64, 0, len(m.hitByRule))
		for id := range m.hitByRule {
			ruleIDs = append(ruleIDs, id)
		}
		sort.Slice(ruleIDs, func(i, j int) bool { return m.hitByRule[ruleIDs[i]] > m.hitByRule[ruleIDs[j]] })
		for i, id := range ruleIDs {
			if i >= 10 {
				fmt.Printf("   ... and %d more rules\n", len(ruleIDs)-10)
				break
			}
			fmt.Printf("   rule %6d:  %8d payments  €%s\n", id, m.hitByRule[id], m.feeByRule[id].StringFixed(2))
		}
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f payments/sec\n", tps)
	}

	fmt.Println()
}
