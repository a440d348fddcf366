package chat

import (
	"context"
	"strconv"
	"strings"

	"github.com/citydata-labs/urbanclerk/pkg/model"
	"github.com/citydata-labs/urbanclerk/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// contextSeparator visually divides payroll records so the model can tell
// where one record ends and the next begins.
const contextSeparator = "\n\n---\n\n"

// money renders currency amounts with thousands separators and two
// decimals, e.g. 84307.5 -> "84,307.50".
var money = message.NewPrinter(language.English)

// BuildContext renders retrieved payroll matches into a single text block.
// A match whose metadata cannot be rendered is skipped with a warning so
// one bad record does not discard the rest. An empty result means the turn
// has no usable context; callers treat the empty string as that signal.
func BuildContext(ctx context.Context, matches []*model.Match) string {
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		block, err := renderMatch(m)
		if err != nil {
			logging.From(ctx).Warn("skipped a match due to formatting error",
				"match_id", m.ID, "error", err)
			continue
		}
		blocks = append(blocks, block)
	}

	return strings.Join(blocks, contextSeparator)
}

func renderMatch(m *model.Match) (string, error) {
	md := m.Metadata

	baseSalary, err := md.Number("Base Salary")
	if err != nil {
		return "", goerr.Wrap(err, "bad base salary")
	}
	grossPaid, err := md.Number("Regular Gross Paid")
	if err != nil {
		return "", goerr.Wrap(err, "bad regular gross paid")
	}
	otherPay, err := md.Number("Total Other Pay")
	if err != nil {
		return "", goerr.Wrap(err, "bad total other pay")
	}
	otHours, err := md.Number("OT Hours")
	if err != nil {
		return "", goerr.Wrap(err, "bad OT hours")
	}
	otPaid, err := md.Number("Total OT Paid")
	if err != nil {
		return "", goerr.Wrap(err, "bad total OT paid")
	}
	fiscalYear, err := md.Number("Fiscal Year")
	if err != nil {
		return "", goerr.Wrap(err, "bad fiscal year")
	}

	var sb strings.Builder
	sb.WriteString("Title Description: " + md.String("Title Description") + "\n")
	sb.WriteString("First Name: " + md.String("First Name") + "\n")
	sb.WriteString("Last Name: " + md.String("Last Name") + "\n")
	sb.WriteString("Agency Name: " + md.String("Agency Name") + "\n")
	sb.WriteString("Work Location Borough: " + md.String("Work Location Borough") + "\n")
	sb.WriteString("Base Salary: $" + currency(baseSalary) + " " + md.String("Pay Basis") + "\n")
	sb.WriteString("Regular Gross Paid: $" + currency(grossPaid) + "\n")
	sb.WriteString("Total Other Pay: $" + currency(otherPay) + "\n")
	sb.WriteString("OT Hours: " + strconv.FormatFloat(otHours, 'f', -1, 64) + ", Total OT Pay: $" + currency(otPaid) + "\n")
	// Years are integers, no decimals and no digit grouping
	sb.WriteString("Fiscal Year: " + strconv.Itoa(int(fiscalYear)))

	return sb.String(), nil
}

func currency(v float64) string {
	return money.Sprintf("%.2f", v)
}
