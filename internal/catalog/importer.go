package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ImportConfig defines where each unit attribute lives in the source sheet
type ImportConfig struct {
	FilePath           string // Path to the Excel or CSV file
	SheetName          string // Name of the sheet to import (Excel only)
	IDColumn           string // Column with the week number
	TitleColumn        string // Column with the unit title
	KindColumn         string // Column with "weekly" or "final_exam"
	ModulesColumn      string // Column with the module count
	WritingColumn      string // Column with the writing prompt count
	PassingScoreColumn string // Column with the quiz threshold in percent
	StartRow           int    // The row to start importing from (1-based index)
}

// DefaultImportConfig returns the default import configuration
func DefaultImportConfig() ImportConfig {
	return ImportConfig{
		SheetName:          "Sheet1",
		IDColumn:           "A",
		TitleColumn:        "B",
		KindColumn:         "C",
		ModulesColumn:      "D",
		WritingColumn:      "E",
		PassingScoreColumn: "F",
		StartRow:           2, // skip header
	}
}

// Import reads units from an Excel or CSV file and builds a catalog
func Import(config ImportConfig) (*Catalog, error) {
	rows, err := readRows(config)
	if err != nil {
		return nil, err
	}

	units := make([]Unit, 0, len(rows))
	for i, row := range rows {
		rowNum := i + 1
		if rowNum < config.StartRow || isBlank(row) {
			continue
		}
		u, err := parseUnitRow(row, config)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rowNum, err)
		}
		units = append(units, u)
	}

	return New(units)
}

func readRows(config ImportConfig) ([][]string, error) {
	if strings.ToLower(filepath.Ext(config.FilePath)) == ".csv" {
		return readCSV(config.FilePath)
	}

	f, err := excelize.OpenFile(config.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheet := config.SheetName
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // Allow variable number of fields
	reader.TrimLeadingSpace = true

	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading CSV: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseUnitRow(row []string, config ImportConfig) (Unit, error) {
	idStr := cell(row, config.IDColumn)
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return Unit{}, fmt.Errorf("invalid unit id %q", idStr)
	}

	kind := UnitKind(strings.ToLower(cell(row, config.KindColumn)))
	if kind == "" {
		kind = UnitWeekly
	}

	passing, err := parseFloatOrDefault(cell(row, config.PassingScoreColumn), DefaultPassingScore)
	if err != nil {
		return Unit{}, err
	}

	modules, err := parseCount(cell(row, config.ModulesColumn), "module count")
	if err != nil {
		return Unit{}, err
	}
	writing, err := parseCount(cell(row, config.WritingColumn), "writing prompt count")
	if err != nil {
		return Unit{}, err
	}

	return Unit{
		ID:             id,
		Title:          cell(row, config.TitleColumn),
		Kind:           kind,
		Modules:        modules,
		WritingPrompts: writing,
		PassingScore:   passing,
	}, nil
}

// cell returns the trimmed value at an Excel column letter, or "" when the row is short
func cell(row []string, column string) string {
	if column == "" {
		return ""
	}
	if idx := columnToIndex(column); idx >= 0 && idx < len(row) {
		return strings.TrimSpace(row[idx])
	}
	return ""
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Helper function to convert Excel column letter to index
func columnToIndex(column string) int {
	column = strings.ToUpper(column)
	index := 0
	for i := 0; i < len(column); i++ {
		index = index*26 + int(column[i]-'A'+1)
	}
	return index - 1
}

// parseCount reads a non-negative count; an empty cell is zero
func parseCount(s, what string) (int, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return v, nil
}

func parseFloatOrDefault(s string, defaultVal float64) (float64, error) {
	s = strings.TrimSuffix(s, "%")
	if s == "" {
		return defaultVal, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid passing score %q", s)
	}
	if v > 0 && v <= 1 {
		// fractions such as 0.7 are read as percentages
		v *= 100
	}
	if v < 0 || v > 100 {
		return 0, fmt.Errorf("passing score %q out of range", s)
	}
	return v, nil
}
