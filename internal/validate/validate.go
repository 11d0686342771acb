// Package validate compares a translated tree against its source tree and
// reports structural damage: missing files, line count drift, rewritten
// keys, lost placeholders, and suspicious escape or identity output. The
// checks are heuristics tuned for PHP localization files; they flag likely
// problems, they do not prove correctness.
package validate

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fcs7/translate-php-tool/internal/domain"
	"github.com/fcs7/translate-php-tool/internal/phpmsg"
)

// maxIssues caps the report detail; counters keep counting past it.
const maxIssues = 20

// untranslatedMinLen is the shortest string the identity heuristic fires
// on. Short strings ("OK", "ID") legitimately survive translation.
const untranslatedMinLen = 10

// Run validates dstDir against srcDir. Only .php files in srcDir are
// considered; extra files in dstDir are ignored.
func Run(srcDir, dstDir string) (*domain.ValidationReport, error) {
	report := &domain.ValidationReport{Issues: []domain.ValidationIssue{}}

	var files []string
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(strings.ToLower(d.Name()), ".php") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk source tree: %w", err)
	}
	sort.Strings(files)

	for _, srcPath := range files {
		rel, err := filepath.Rel(srcDir, srcPath)
		if err != nil {
			return nil, err
		}
		validateFile(srcPath, filepath.Join(dstDir, rel), rel, report)
	}
	return report, nil
}

func validateFile(srcPath, dstPath, rel string, report *domain.ValidationReport) {
	srcLines, err := readLines(srcPath)
	if err != nil {
		return
	}
	dstLines, err := readLines(dstPath)
	if err != nil {
		report.Stats.MissingFiles++
		addIssue(report, domain.ValidationIssue{
			Type:    domain.IssueMissingFile,
			File:    rel,
			Message: "translated file missing",
		})
		return
	}

	if len(srcLines) != len(dstLines) {
		report.Stats.LineMismatch++
		addIssue(report, domain.ValidationIssue{
			Type:    domain.IssueLineCount,
			File:    rel,
			Message: fmt.Sprintf("line count %d vs %d", len(srcLines), len(dstLines)),
		})
	}

	n := len(srcLines)
	if len(dstLines) < n {
		n = len(dstLines)
	}
	for i := 0; i < n; i++ {
		srcMatch := phpmsg.Classify(srcLines[i])
		if srcMatch == nil {
			continue
		}
		validateLine(srcMatch, dstLines[i], rel, i+1, report)
	}
}

func validateLine(src *phpmsg.Match, dstLine, rel string, lineNo int, report *domain.ValidationReport) {
	dst := phpmsg.Classify(dstLine)
	if dst == nil || dst.Prefix != src.Prefix {
		addIssue(report, domain.ValidationIssue{
			Type:    domain.IssueKeyChanged,
			File:    rel,
			Line:    lineNo,
			Message: "key or assignment structure changed",
			Source:  src.Prefix,
		})
		return
	}

	srcText := phpmsg.Prepare(src.RawLiteral, src.Quote)
	dstText := phpmsg.Prepare(dst.RawLiteral, dst.Quote)
	ok := true

	missing, extra := placeholderDiff(srcText, dstText)
	if len(missing) > 0 || len(extra) > 0 {
		ok = false
		report.Stats.MissingPlaceholders++
		addIssue(report, domain.ValidationIssue{
			Type:    domain.IssuePlaceholder,
			File:    rel,
			Line:    lineNo,
			Message: "placeholders do not match",
			Source:  srcText,
			Target:  dstText,
			Missing: missing,
			Extra:   extra,
		})
	}

	if looksUntranslated(srcText, dstText) {
		ok = false
		report.Stats.Untranslated++
		addIssue(report, domain.ValidationIssue{
			Type:    domain.IssueUntranslated,
			File:    rel,
			Line:    lineNo,
			Message: "text identical to source",
			Source:  srcText,
			Target:  dstText,
		})
	}

	if lostEscapes(src.RawLiteral, dst.RawLiteral, dstText) {
		ok = false
		report.Stats.EscapeIssues++
		addIssue(report, domain.ValidationIssue{
			Type:    domain.IssueEscape,
			File:    rel,
			Line:    lineNo,
			Message: "source escapes absent from translation",
			Source:  src.RawLiteral,
			Target:  dst.RawLiteral,
		})
	}

	if ok {
		report.Stats.Success++
	}
}

// placeholderDiff returns placeholders of src absent from dst and vice
// versa, each deduplicated and in first-occurrence order.
func placeholderDiff(src, dst string) (missing, extra []string) {
	srcSet := placeholderSet(src)
	dstSet := placeholderSet(dst)

	for _, ph := range srcSet.ordered {
		if !dstSet.has[ph] {
			missing = append(missing, ph)
		}
	}
	for _, ph := range dstSet.ordered {
		if !srcSet.has[ph] {
			extra = append(extra, ph)
		}
	}
	return missing, extra
}

type phSet struct {
	has     map[string]bool
	ordered []string
}

func placeholderSet(text string) phSet {
	s := phSet{has: map[string]bool{}}
	for _, ph := range phpmsg.Placeholders(text) {
		if !s.has[ph] {
			s.has[ph] = true
			s.ordered = append(s.ordered, ph)
		}
	}
	return s
}

// looksUntranslated flags identical src and dst for strings long enough
// that sameness is suspicious. Placeholder-bearing strings are exempt; a
// string like "{count}" survives translation verbatim legitimately.
func looksUntranslated(src, dst string) bool {
	return src == dst &&
		len(src) > untranslatedMinLen &&
		!strings.Contains(src, "{")
}

// lostEscapes flags translations that dropped every escape the source had,
// skipping trivially short output.
func lostEscapes(srcRaw, dstRaw, dstText string) bool {
	return strings.Count(srcRaw, `\`) > 0 &&
		strings.Count(dstRaw, `\`) == 0 &&
		len(dstText) > 5
}

func addIssue(report *domain.ValidationReport, issue domain.ValidationIssue) {
	if len(report.Issues) < maxIssues {
		report.Issues = append(report.Issues, issue)
	}
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(data), "\n")
	// A trailing newline yields a phantom empty final element.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines, nil
}
