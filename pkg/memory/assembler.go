package memory

import (
	"fmt"
	"regexp"
	"strings"
)

// AssemblerOptions bounds the size of an assembled context block, in bytes
// of formatted output.
type AssemblerOptions struct {
	BaseLength int
	MaxLength  int
}

// Assembler turns a validated retrieval set into a single prompt-ready
// block. Records are packed whole; a record that would overflow the budget
// is skipped, never truncated mid-content.
type Assembler struct {
	opts AssemblerOptions
}

func NewAssembler(opts AssemblerOptions) *Assembler {
	if opts.BaseLength <= 0 {
		opts.BaseLength = 400
	}
	if opts.MaxLength < opts.BaseLength {
		opts.MaxLength = 1200
	}
	return &Assembler{opts: opts}
}

// Assemble formats records into a bullet list under a size budget scaled by
// query complexity. A positive maxHint caps the budget below the configured
// ceiling. An empty result is the normal answer when nothing fits or nothing
// was retrieved, never an error.
func (a *Assembler) Assemble(records []ScoredRecord, query string, maxHint int) string {
	if len(records) == 0 {
		return ""
	}
	budget := a.budgetFor(query)
	if maxHint > 0 && maxHint < budget {
		budget = maxHint
	}

	var b strings.Builder
	const header = "Relevant memories:\n"
	if len(header) > budget {
		return ""
	}
	b.WriteString(header)

	wrote := 0
	for _, rec := range records {
		line := formatRecordLine(&rec)
		if b.Len()+len(line) > budget {
			continue
		}
		b.WriteString(line)
		wrote++
	}
	if wrote == 0 {
		return ""
	}
	return strings.TrimRight(b.String(), "\n")
}

// budgetFor interpolates between base and max length by query complexity.
func (a *Assembler) budgetFor(query string) int {
	span := float64(a.opts.MaxLength - a.opts.BaseLength)
	return a.opts.BaseLength + int(queryComplexity(query)*span)
}

func formatRecordLine(rec *ScoredRecord) string {
	if len(rec.Tags) > 0 {
		return fmt.Sprintf("- [%s] %s (%s)\n", rec.Type, rec.Content, strings.Join(rec.Tags, ", "))
	}
	return fmt.Sprintf("- [%s] %s\n", rec.Type, rec.Content)
}

var (
	clauseSepRegex = regexp.MustCompile(`[,;:]|\b(?:and|or|but|because|while|when|then)\b`)
	technicalRegex = regexp.MustCompile(`[A-Za-z]+(?:[_./-][A-Za-z0-9]+)+|\b[a-z]+[A-Z][A-Za-z]*\b|\b\d+(?:\.\d+)+\b`)
)

// queryComplexity estimates how much context a query deserves, in [0,1].
// Signals are word count, clause structure, question marks, and technical
// vocabulary (identifiers, paths, versions).
func queryComplexity(query string) float64 {
	query = strings.TrimSpace(query)
	if query == "" {
		return 0
	}
	words := len(strings.Fields(query))

	score := 0.0
	switch {
	case words >= 24:
		score += 0.5
	case words >= 12:
		score += 0.35
	case words >= 6:
		score += 0.2
	default:
		score += 0.1
	}

	clauses := len(clauseSepRegex.FindAllString(strings.ToLower(query), -1))
	if clauses > 3 {
		clauses = 3
	}
	score += float64(clauses) * 0.1

	if strings.Contains(query, "?") {
		score += 0.1
	}

	technical := len(technicalRegex.FindAllString(query, -1))
	if technical > 2 {
		technical = 2
	}
	score += float64(technical) * 0.05

	if score > 1 {
		score = 1
	}
	return score
}
