package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"escalens/internal/config"
	"escalens/internal/domain"
	"escalens/internal/logger"
	"escalens/internal/pipeline"
)

// Canonical source-sheet headers. Matching is case-insensitive on trimmed
// header text; unrecognized columns ride along in Record.Extra keyed by
// their original header.
const (
	colCreated     = "Created"
	colSummary     = "Summary"
	colDescription = "Description"
	colIssueType   = "Issue Type"
	colIssueConf   = "Issue Confidence"
	colRootCause   = "Root Cause"
	colRootConf    = "Root Confidence"
)

// SourceHeaders is the starter header row scaffolded by `escalens init`.
var SourceHeaders = []string{
	colCreated, colSummary, colDescription,
	colIssueType, colIssueConf, colRootCause, colRootConf,
}

var classificationHeaders = []string{colIssueType, colIssueConf, colRootCause, colRootConf}

// Workbook is the xlsx-backed record store. Mutating methods save the file
// before returning, so a dry run that never writes leaves it untouched.
type Workbook struct {
	path          string
	sourceSheet   string
	trendsSheet   string
	insightsSheet string
	debugSheet    string

	f       *excelize.File
	headers []string       // source header row, original text
	index   map[string]int // normalized header -> 0-based column
	log     *logger.Logger
}

// OpenWorkbook opens the configured workbook. A missing file or missing
// source sheet is a setup error and fails the run up front.
func OpenWorkbook(cfg config.Config) (*Workbook, error) {
	f, err := excelize.OpenFile(cfg.WorkbookPath)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", cfg.WorkbookPath, err)
	}
	idx, err := f.GetSheetIndex(cfg.SourceSheet)
	if err != nil {
		return nil, fmt.Errorf("locate source sheet: %w", err)
	}
	if idx == -1 {
		return nil, fmt.Errorf("workbook %s has no sheet %q", cfg.WorkbookPath, cfg.SourceSheet)
	}
	return &Workbook{
		path:          cfg.WorkbookPath,
		sourceSheet:   cfg.SourceSheet,
		trendsSheet:   cfg.TrendsSheet,
		insightsSheet: cfg.InsightsSheet,
		debugSheet:    cfg.DebugSheet,
		f:             f,
		log:           logger.New(),
	}, nil
}

func (w *Workbook) Close() error {
	return w.f.Close()
}

// ReadAll maps every data row of the source sheet into a Record, preserving
// sheet order. Cells are read raw, so date cells surface as their serial
// numbers and typed parsing stays with the domain parsers.
func (w *Workbook) ReadAll(context.Context) ([]domain.Record, error) {
	rows, err := w.f.GetRows(w.sourceSheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", w.sourceSheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q has no header row", w.sourceSheet)
	}
	w.setHeaders(rows[0])

	records := make([]domain.Record, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		records = append(records, w.toRecord(i+1, rows[i]))
	}
	return records, nil
}

func (w *Workbook) setHeaders(header []string) {
	w.headers = make([]string, len(header))
	w.index = make(map[string]int, len(header))
	for i, h := range header {
		w.headers[i] = strings.TrimSpace(h)
		w.index[normalizeHeader(h)] = i
	}
}

func (w *Workbook) ensureHeaders() error {
	if w.index != nil {
		return nil
	}
	rows, err := w.f.GetRows(w.sourceSheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return fmt.Errorf("read sheet %q: %w", w.sourceSheet, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("sheet %q has no header row", w.sourceSheet)
	}
	w.setHeaders(rows[0])
	return nil
}

func (w *Workbook) toRecord(rowNum int, row []string) domain.Record {
	cell := func(header string) string {
		i, ok := w.index[normalizeHeader(header)]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	rec := domain.Record{
		Row:             rowNum,
		Created:         rawCell(cell(colCreated)),
		Summary:         cell(colSummary),
		Description:     cell(colDescription),
		IssueType:       cell(colIssueType),
		IssueConfidence: rawCell(cell(colIssueConf)),
		RootCause:       cell(colRootCause),
		RootConfidence:  rawCell(cell(colRootConf)),
	}

	for i, h := range w.headers {
		if h == "" || knownHeader(h) || i >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[i])
		if v == "" {
			continue
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]string)
		}
		rec.Extra[h] = v
	}
	return rec
}

// EnsureClassificationColumns appends any missing classification headers to
// the source sheet and installs droplist validation for the two label
// columns over the data range.
func (w *Workbook) EnsureClassificationColumns(_ context.Context, issueTypes, rootCauses []string) error {
	if err := w.ensureHeaders(); err != nil {
		return err
	}

	added := 0
	for _, name := range classificationHeaders {
		if _, ok := w.index[normalizeHeader(name)]; ok {
			continue
		}
		col := len(w.headers) + 1
		cell, err := excelize.CoordinatesToCellName(col, 1)
		if err != nil {
			return err
		}
		if err := w.f.SetCellValue(w.sourceSheet, cell, name); err != nil {
			return fmt.Errorf("add column %q: %w", name, err)
		}
		w.headers = append(w.headers, name)
		w.index[normalizeHeader(name)] = col - 1
		added++
	}
	if added > 0 {
		w.log.WithField("columns", added).Info("classification columns added to source sheet")
	}

	if err := w.dropList(colIssueType, issueTypes); err != nil {
		return fmt.Errorf("issue type droplist: %w", err)
	}
	if err := w.dropList(colRootCause, rootCauses); err != nil {
		return fmt.Errorf("root cause droplist: %w", err)
	}
	return w.f.Save()
}

func (w *Workbook) dropList(header string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	i, ok := w.index[normalizeHeader(header)]
	if !ok {
		return fmt.Errorf("column %q missing", header)
	}
	col, err := excelize.ColumnNumberToName(i + 1)
	if err != nil {
		return err
	}
	dv := excelize.NewDataValidation(true)
	dv.Sqref = fmt.Sprintf("%s2:%s10000", col, col)
	if err := dv.SetDropList(values); err != nil {
		return err
	}
	return w.f.AddDataValidation(w.sourceSheet, dv)
}

// WriteAll commits the classification cells of every record back to its
// source row. Other columns are left exactly as read.
func (w *Workbook) WriteAll(_ context.Context, records []domain.Record) error {
	if err := w.ensureHeaders(); err != nil {
		return err
	}
	for _, rec := range records {
		cells := []struct {
			header string
			value  any
		}{
			{colIssueType, rec.IssueType},
			{colIssueConf, rec.IssueConfidence},
			{colRootCause, rec.RootCause},
			{colRootConf, rec.RootConfidence},
		}
		for _, c := range cells {
			if c.value == nil {
				continue
			}
			if err := w.setCell(rec.Row, c.header, c.value); err != nil {
				return fmt.Errorf("row %d: %w", rec.Row, err)
			}
		}
	}
	return w.f.Save()
}

func (w *Workbook) setCell(rowNum int, header string, value any) error {
	i, ok := w.index[normalizeHeader(header)]
	if !ok {
		return fmt.Errorf("column %q missing", header)
	}
	cell, err := excelize.CoordinatesToCellName(i+1, rowNum)
	if err != nil {
		return err
	}
	return w.f.SetCellValue(w.sourceSheet, cell, value)
}

// WriteSummary rebuilds the trends tab: one run header row, then the two
// group tables.
func (w *Workbook) WriteSummary(_ context.Context, run pipeline.RunInfo, issueGroups, rootGroups []domain.GroupSummary) error {
	if err := w.resetSheet(w.trendsSheet); err != nil {
		return err
	}
	r := 1
	if err := w.writeRow(w.trendsSheet, r, []any{
		"Generated", run.Started.Format("2006-01-02 15:04"),
		"Window (days)", run.DaysBack,
		"Threshold", run.Threshold,
	}); err != nil {
		return err
	}
	r += 2

	var err error
	r, err = w.writeGroupTable(r, "Issue Type", issueGroups)
	if err != nil {
		return err
	}
	r++
	if _, err = w.writeGroupTable(r, "Root Cause", rootGroups); err != nil {
		return err
	}
	return w.f.Save()
}

func (w *Workbook) writeGroupTable(row int, axis string, groups []domain.GroupSummary) (int, error) {
	if err := w.writeRow(w.trendsSheet, row, []any{axis, "Count", "Avg Confidence"}); err != nil {
		return row, err
	}
	row++
	for _, g := range groups {
		if err := w.writeRow(w.trendsSheet, row, []any{g.Label, g.Count, g.AvgConfidence}); err != nil {
			return row, err
		}
		row++
	}
	return row, nil
}

// WriteInsights rebuilds the insights tab, one narrative line per row.
func (w *Workbook) WriteInsights(_ context.Context, _ pipeline.RunInfo, narrative string) error {
	if err := w.resetSheet(w.insightsSheet); err != nil {
		return err
	}
	for i, line := range strings.Split(narrative, "\n") {
		if err := w.writeRow(w.insightsSheet, i+1, []any{line}); err != nil {
			return err
		}
	}
	return w.f.Save()
}

var debugHeaders = []any{
	"Row", "Created (Raw)", "Created (Parsed)", "Window", "Summary",
	"Issue Type", "Issue Conf", "Root Cause", "Root Conf", "Reason", "Included",
}

// WriteDebug rebuilds the debug tab: header plus one row per input record,
// input order.
func (w *Workbook) WriteDebug(_ context.Context, _ pipeline.RunInfo, entries []domain.DebugEntry) error {
	if err := w.resetSheet(w.debugSheet); err != nil {
		return err
	}
	if err := w.writeRow(w.debugSheet, 1, debugHeaders); err != nil {
		return err
	}
	for i, e := range entries {
		row := []any{
			e.Row, e.RawCreated, formatParsed(e), e.Window, e.Summary,
			e.IssueType, confCell(e.IssueConfidence, e.IssueConfOK),
			e.RootCause, confCell(e.RootConfidence, e.RootConfOK),
			e.Reason, e.Included,
		}
		if err := w.writeRow(w.debugSheet, i+2, row); err != nil {
			return err
		}
	}
	return w.f.Save()
}

func formatParsed(e domain.DebugEntry) string {
	if !e.CreatedOK {
		return "Invalid"
	}
	return e.Created.Format("2006-01-02 15:04:05")
}

func confCell(v float64, ok bool) any {
	if !ok {
		return "Invalid"
	}
	return v
}

func (w *Workbook) writeRow(sheet string, row int, values []any) error {
	return w.f.SetSheetRow(sheet, fmt.Sprintf("A%d", row), &values)
}

// resetSheet drops and recreates an output tab so stale rows from a longer
// previous run never survive.
func (w *Workbook) resetSheet(name string) error {
	idx, err := w.f.GetSheetIndex(name)
	if err != nil {
		return err
	}
	if idx != -1 {
		if err := w.f.DeleteSheet(name); err != nil {
			return fmt.Errorf("clear sheet %q: %w", name, err)
		}
	}
	if _, err := w.f.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %q: %w", name, err)
	}
	return nil
}

// CreateWorkbook scaffolds a fresh workbook whose only sheet carries the
// source headers. Used by `escalens init`.
func CreateWorkbook(path, sourceSheet string) error {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sourceSheet); err != nil {
		return err
	}
	header := make([]any, len(SourceHeaders))
	for i, h := range SourceHeaders {
		header[i] = h
	}
	if err := f.SetSheetRow(sourceSheet, "A1", &header); err != nil {
		return err
	}
	return f.SaveAs(path)
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

func knownHeader(h string) bool {
	switch normalizeHeader(h) {
	case normalizeHeader(colCreated), normalizeHeader(colSummary), normalizeHeader(colDescription),
		normalizeHeader(colIssueType), normalizeHeader(colIssueConf),
		normalizeHeader(colRootCause), normalizeHeader(colRootConf):
		return true
	}
	return false
}

// rawCell types a raw cell: fully numeric text becomes float64 (spreadsheet
// date serials, numeric confidences), empty becomes nil, anything else stays
// a string for the domain parsers.
func rawCell(s string) any {
	if s == "" {
		return nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	}
	return s
}
