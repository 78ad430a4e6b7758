// Replay tool for checking the threshold table against historical dossiers.
//
// Usage:
//
//	go run ./cmd/replay -csv /path/to/history.csv -url http://localhost:8080
//
// This tool:
//  1. Reads past dossiers with their observed repayment outcome
//  2. Sends each one to POST /ratios
//  3. Treats classes C and D as a risk prediction
//  4. Prints the confusion matrix against observed defaults
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
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NGAPNAAHMED/e3w-cameroon-connect-sub001/internal/domain"
)

// HistoricalDossier is one row of the replay file.
type HistoricalDossier struct {
	Reference string
	Request   domain.AnalysisRequest
	Defaulted bool
}

// PreviewResponse is the part of the POST /ratios answer the replay reads.
type PreviewResponse struct {
	Ratios         domain.RatioSet       `json:"ratios"`
	Classification domain.Classification `json:"classification"`
}

// Metrics tracks replay results.
type Metrics struct {
	TruePositives  int64 // defaulted, classed C or D
	FalsePositives int64 // repaid, classed C or D
	TrueNegatives  int64 // repaid, classed A or B
	FalseNegatives int64 // defaulted, classed A or B

	ByClass [4]int64 // A, B, C, D

	TotalProcessed int64
	TotalDefaulted int64
	TotalRepaid    int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to the historical dossiers CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Dossier service base URL")
	tenantID := flag.String("tenant", "replay", "Tenant ID for requests")
	limit := flag.Int("limit", 0, "Maximum dossiers to replay (0 = all)")
	workers := flag.Int("workers", 4, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each dossier result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: replay -csv /path/to/history.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("DOSSIER REPLAY - threshold table against observed outcomes")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Service URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: service not reachable at %s: %v\n", *baseURL, err)
		os.Exit(1)
	}
	fmt.Println("service is healthy")

	dossiers, err := readHistoryCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(dossiers) == 0 {
		fmt.Println("no dossier to replay")
		os.Exit(1)
	}
	fmt.Printf("loaded %d dossiers\n", len(dossiers))

	startTime := time.Now()
	metrics := runReplay(dossiers, *baseURL, *tenantID, *workers, *verbose)
	printResults(metrics, time.Since(startTime))
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

// readHistoryCSV reads a file with a header row. Column names are matched
// case-insensitively; missing numeric columns read as 0.
func readHistoryCSV(path string, limit int) ([]HistoricalDossier, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	if _, ok := colIndex["defaulted"]; !ok {
		return nil, fmt.Errorf("missing column: defaulted")
	}

	var dossiers []HistoricalDossier
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		col := func(name string) string {
			if i, ok := colIndex[name]; ok && i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}
		num := func(name string) float64 {
			v, _ := strconv.ParseFloat(col(name), 64)
			return v
		}
		integer := func(name string) int {
			v, _ := strconv.Atoi(col(name))
			return v
		}

		req := domain.AnalysisRequest{
			Client: domain.ClientProfile{
				MonthlyIncome:  num("monthly_income"),
				MonthlyCharges: num("monthly_charges"),
				EmploymentType: domain.EmploymentType(col("employment_type")),
				TenureMonths:   integer("tenure_months"),
			},
			Credit: domain.CreditRequest{
				Principal:      num("principal"),
				TermMonths:     integer("term_months"),
				DeferralMonths: integer("deferral_months"),
				AnnualRate:     num("annual_rate"),
			},
			History: domain.CreditHistory{
				BankOutstanding:         num("bank_outstanding"),
				MicrofinanceOutstanding: num("microfinance_outstanding"),
				CurrentArrears:          num("current_arrears"),
				MaxHistoricalDelayDays:  integer("max_delay_days"),
				RegularizationRate:      num("regularization_rate"),
				ActiveCreditsCount:      integer("active_credits"),
			},
		}
		if v := num("guarantee_value"); v > 0 {
			kind := domain.GuaranteeKind(col("guarantee_kind"))
			if kind == "" {
				kind = domain.GuaranteeOther
			}
			req.Guarantees = []domain.Guarantee{{Kind: kind, EstimatedValue: v}}
		}

		defaulted := col("defaulted")
		dossiers = append(dossiers, HistoricalDossier{
			Reference: col("reference"),
			Request:   req,
			Defaulted: defaulted == "1" || strings.EqualFold(defaulted, "true"),
		})

		if limit > 0 && len(dossiers) >= limit {
			break
		}
	}

	return dossiers, nil
}

func runReplay(dossiers []HistoricalDossier, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan HistoricalDossier, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for d := range work {
				start := time.Now()
				preview, err := previewDossier(client, baseURL, tenantID, d)
				atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", d.Reference, err)
					}
					continue
				}
				record(metrics, d, preview.Classification.RiskClass)

				if verbose {
					fmt.Printf("%-14s | DSR %6.2f%% | coverage %7.2f%% | class %s | defaulted %v\n",
						d.Reference,
						preview.Ratios.DebtServiceRatio,
						preview.Ratios.GuaranteeCoverage,
						preview.Classification.RiskClass,
						d.Defaulted,
					)
				}
			}
		}()
	}

	for _, d := range dossiers {
		work <- d
	}
	close(work)

	wg.Wait()

	return metrics
}

func record(m *Metrics, d HistoricalDossier, class domain.RiskClass) {
	if s := class.Severity(); s > 0 {
		atomic.AddInt64(&m.ByClass[s-1], 1)
	}

	if d.Defaulted {
		atomic.AddInt64(&m.TotalDefaulted, 1)
	} else {
		atomic.AddInt64(&m.TotalRepaid, 1)
	}

	predicted := class == domain.RiskClassC || class == domain.RiskClassD
	switch {
	case predicted && d.Defaulted:
		atomic.AddInt64(&m.TruePositives, 1)
	case predicted && !d.Defaulted:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !predicted && !d.Defaulted:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}
}

func previewDossier(client *http.Client, baseURL, tenantID string, d HistoricalDossier) (*PreviewResponse, error) {
	body, err := json.Marshal(d.Request)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/ratios", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result PreviewResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nREPLAY RESULTS")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Defaulted:        %d\n", m.TotalDefaulted)
	fmt.Printf("   Repaid:           %d\n", m.TotalRepaid)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCLASSES\n")
	for i, class := range []domain.RiskClass{domain.RiskClassA, domain.RiskClassB, domain.RiskClassC, domain.RiskClassD} {
		fmt.Printf("   %s: %d\n", class, m.ByClass[i])
	}

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                      Predicted")
	fmt.Println("                    C/D        A/B")
	fmt.Printf("   Defaulted   %8d   %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("   Repaid      %8d   %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\nMETRICS\n")
	fmt.Printf("   Precision:  %.4f  (of C/D dossiers, how many defaulted)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of defaults, how many were classed C/D)\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f dossiers/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}

	fmt.Println()
}
