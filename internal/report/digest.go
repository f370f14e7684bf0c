package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"escalens/internal/config"
	"escalens/internal/domain"
	"escalens/internal/logger"
	"escalens/internal/pipeline"
)

// BuildDigest renders a run as the Markdown digest: title, run metadata,
// both trend tables, insights.
func BuildDigest(name string, res *pipeline.Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Escalation Report: %s\n\n", name)
	fmt.Fprintf(&b, "Generated: %s\n", res.Run.Started.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Window: last %d days (cutoff %s)\n", res.Run.DaysBack, res.Run.Cutoff.Format("2006-01-02"))
	fmt.Fprintf(&b, "Confidence threshold: %d\n", res.Run.Threshold)
	fmt.Fprintf(&b, "Records: %d total, %d qualified\n", res.Total, res.Qualified)
	if res.Fill.NeedingFill > 0 {
		fmt.Fprintf(&b, "Filled: %d issue, %d root (mode %s, %d model calls, %d fallbacks)\n",
			res.Fill.IssueFilled, res.Fill.RootFilled, res.Run.FillMode, res.Fill.ModelCalls, res.Fill.Fallbacks)
	}
	b.WriteString("\n")

	writeGroupTable(&b, "Top Issue Types", "Issue Type", res.IssueGroups)
	writeGroupTable(&b, "Top Root Causes", "Root Cause", res.RootGroups)

	b.WriteString("## Insights\n\n")
	b.WriteString(strings.TrimSpace(res.Narrative))
	b.WriteString("\n")
	return b.String()
}

func writeGroupTable(b *strings.Builder, heading, axis string, groups []domain.GroupSummary) {
	fmt.Fprintf(b, "## %s\n\n", heading)
	if len(groups) == 0 {
		b.WriteString("_No qualified records in the window._\n\n")
		return
	}
	fmt.Fprintf(b, "| %s | Count | Avg Confidence |\n", axis)
	b.WriteString("| --- | ---: | ---: |\n")
	for _, g := range groups {
		fmt.Fprintf(b, "| %s | %d | %s |\n", g.Label, g.Count, domain.RawString(g.AvgConfidence))
	}
	b.WriteString("\n")
}

// WriteDigestFile writes content under outputDir as <name>_<YYYYMMDD>.md and
// returns the path.
func WriteDigestFile(content, outputDir string, reportDate time.Time, name string) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", err
	}
	filename := fmt.Sprintf("%s_%s.md", sanitizeFilename(name), reportDate.Format("20060102"))
	path := filepath.Join(outputDir, filename)
	return path, os.WriteFile(path, []byte(content), 0644)
}

func sanitizeFilename(s string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_")
	return replacer.Replace(s)
}

// FileWriter publishes each run's digest as a Markdown file.
type FileWriter struct {
	outputDir string
	name      string
	log       *logger.Logger
}

func NewFileWriter(cfg config.Config) *FileWriter {
	return &FileWriter{
		outputDir: cfg.ReportOutputDir,
		name:      cfg.ReportName,
		log:       logger.New(),
	}
}

func (f *FileWriter) Publish(_ context.Context, res *pipeline.Result) error {
	path, err := WriteDigestFile(BuildDigest(f.name, res), f.outputDir, res.Run.Started, f.name)
	if err != nil {
		return fmt.Errorf("writing digest file: %w", err)
	}
	f.log.WithField("path", path).Info("digest written")
	return nil
}
