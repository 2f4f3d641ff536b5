package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/xhad/reimburse/internal/app"
	"github.com/xhad/reimburse/internal/models"
	"github.com/xhad/reimburse/pkg/ingest"
	"github.com/xhad/reimburse/pkg/rag"
)

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("invoices"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func runIngest(ctx context.Context, services *app.App, f Flags) error {
	if f.PolicyPath == "" || f.BundlePath == "" {
		return fmt.Errorf("both -policy and -invoices are required to analyze a batch")
	}

	policy, err := os.Open(f.PolicyPath)
	if err != nil {
		return fmt.Errorf("failed to open policy: %w", err)
	}
	defer policy.Close()

	bundle, err := os.Open(f.BundlePath)
	if err != nil {
		return fmt.Errorf("failed to open invoice bundle: %w", err)
	}
	defer bundle.Close()

	color.Blue("\nAnalyzing invoices for %s\n", f.Employee)
	bar := getProgressBar(-1, "Analyzing invoices...")

	result, err := services.Ingest.Process(ctx, ingest.Request{
		EmployeeName: f.Employee,
		Policy:       ingest.Upload{Filename: filepath.Base(f.PolicyPath), Reader: policy},
		Invoices:     ingest.Upload{Filename: filepath.Base(f.BundlePath), Reader: bundle},
		OnProgress: func(filename string, _ models.Verdict) {
			bar.Describe(color.BlueString("Analyzed %s", filename))
			_ = bar.Add(1)
		},
	})
	_ = bar.Finish()
	fmt.Print("\n")
	if err != nil {
		return err
	}

	printResult(result)
	return nil
}

func printResult(result *models.BatchResult) {
	color.Green("\n✓ Analyzed %d invoices for %s\n", result.NumInvoices, result.EmployeeName)

	names := make([]string, 0, len(result.AnalysisResults))
	for name := range result.AnalysisResults {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := result.AnalysisResults[name]
		statusColor(v.Status).Printf("  %-24s %-22s", name, v.Status)
		fmt.Printf(" %s\n", v.Reason)
	}
}

func statusColor(s models.Status) *color.Color {
	switch s {
	case models.StatusFullyReimbursed:
		return color.New(color.FgGreen)
	case models.StatusPartiallyReimbursed:
		return color.New(color.FgYellow)
	case models.StatusDeclined:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgMagenta)
	}
}

func runChat(ctx context.Context, services *app.App, streaming bool) error {
	// Interactive chat loop with colored output
	color.Cyan("\nAsk about analyzed invoices (type 'exit' to quit)")
	color.Cyan("Filters: prefix a question with employee=NAME, status=STATUS or date=YYYY-MM-DD, separated by ';'")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if strings.ToLower(line) == "exit" {
			break
		}
		if line == "" {
			continue
		}
		q := parseQuery(line)

		if streaming {
			fmt.Print("\n")
			assistantPrompt("Assistant: ")
			err := services.Chatbot.AnswerStream(ctx, q, func(chunk string) error {
				assistantPrompt("%s", chunk)
				return nil
			})
			fmt.Print("\n")
			if err != nil {
				color.Red("Error: %v\n", err)
			}
		} else {
			spinner := getSpinner("Searching invoices...")
			answer, err := services.Chatbot.Answer(ctx, q)
			_ = spinner.Finish()
			fmt.Print("\r")

			if err != nil {
				color.Red("Error: %v\n", err)
				continue
			}
			assistantPrompt("Assistant: %s\n", answer)
		}

		if ctx.Err() != nil {
			break
		}
	}

	return scanner.Err()
}

// parseQuery splits "employee=Jane; status=Declined; why?" into filters and
// the question itself.
func parseQuery(line string) rag.Query {
	var q rag.Query
	var rest []string

	for _, part := range strings.Split(line, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			rest = append(rest, part)
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "employee", "employee_name":
			q.EmployeeName = strings.TrimSpace(value)
		case "status":
			q.Status = strings.TrimSpace(value)
		case "date":
			q.Date = strings.TrimSpace(value)
		default:
			rest = append(rest, part)
		}
	}

	q.Query = strings.TrimSpace(strings.Join(rest, ";"))
	return q
}
