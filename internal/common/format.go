package common

import (
	"fmt"
	"strings"

	"revshare-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

const DefaultWidth = 90

func separator(char string, width int) string {
	return strings.Repeat(char, width)
}

// PrintHeader prints a title between two rules
func PrintHeader(title string, width int) {
	fmt.Println("\n" + separator("=", width))
	fmt.Println(title)
	fmt.Println(separator("=", width))
}

// PrintFooter prints a closing summary line between two rules
func PrintFooter(message string, width int) {
	fmt.Println("\n" + separator("=", width))
	fmt.Println(message)
	fmt.Println(separator("=", width) + "\n")
}

// PrintBoxSeparator prints a box-drawing separator line (for sub-sections)
func PrintBoxSeparator(width int) {
	fmt.Println("├" + separator("─", width))
}

// BoxPrefix returns the box-drawing prefix for list items
func BoxPrefix(isLast bool) string {
	if isLast {
		return "└  "
	}
	return "│  "
}

// FormatAmount renders money at a fixed number of places so columns line up.
func FormatAmount(amount decimal.Decimal, places int32) string {
	return amount.StringFixed(places)
}

// ShortId abbreviates a uuid for tables.
func ShortId(id string) string {
	if id == "" {
		return "none"
	}
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}

// PrintRunStatus prints the outcome of a reconciliation run or dry run.
func PrintRunStatus(status *models.RunStatus, places int32) {
	title := "RECONCILIATION RUN"
	if status.DryRun {
		title = "RECONCILIATION DRY RUN (nothing written)"
	}
	PrintHeader(title, DefaultWidth)

	s := status.Stats
	rows := [][2]string{
		{"Source", status.Source},
		{"State", string(status.State)},
		{"Records", fmt.Sprint(s.Records)},
		{"Inserted", fmt.Sprint(s.Inserted)},
		{"Duplicates", fmt.Sprint(s.Duplicates)},
		{"Transitions", fmt.Sprint(s.Transitions)},
		{"Conflicts", fmt.Sprint(s.Conflicts)},
		{"Invalid", fmt.Sprint(s.Invalid)},
		{"Unmapped statuses", fmt.Sprint(s.UnmappedStatuses)},
		{"Success amount", FormatAmount(s.SuccessAmount, places)},
		{"Pages committed", fmt.Sprint(s.PagesCommitted)},
		{"Pages skipped", fmt.Sprint(s.PagesSkipped)},
	}
	if status.Cursor != nil {
		rows = append(rows,
			[2]string{"Next offset", fmt.Sprint(status.Cursor.NextOffset)},
			[2]string{"Completed", fmt.Sprint(status.Cursor.Completed)})
		if len(status.Cursor.SkippedOffsets) > 0 {
			rows = append(rows, [2]string{"Skipped offsets", fmt.Sprint(status.Cursor.SkippedOffsets)})
		}
	}
	if status.LastError != "" {
		rows = append(rows, [2]string{"Error", status.LastError})
	}

	for i, row := range rows {
		fmt.Printf("%s%-18s %s\n", BoxPrefix(i == len(rows)-1), row[0]+":", row[1])
	}
}
