package normalize

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// filterDatabaseName is the defined name Excel creates for autofilters. It
// hides rows from readers that honour it.
const filterDatabaseName = "_xlnm._FilterDatabase"

func extractXLSX(_ context.Context, n *Normalizer, name string, data []byte, _ int) (*Document, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", name, ErrCorrupt, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			n.logger.Debug("closing workbook", zap.String("document", name), zap.Error(err))
		}
	}()

	for _, dn := range f.GetDefinedName() {
		if dn.Name != filterDatabaseName {
			continue
		}
		if err := f.DeleteDefinedName(&excelize.DefinedName{Name: dn.Name, Scope: dn.Scope}); err != nil {
			n.logger.Debug("dropping filter database name", zap.String("document", name), zap.Error(err))
		}
	}

	var b strings.Builder
	var errs []string
	for _, sheet := range f.GetSheetList() {
		rows, err := visibleRows(f, sheet)
		if err != nil {
			errs = append(errs, fmt.Sprintf("sheet %s: %v", sheet, err))
			continue
		}

		b.WriteString("Sheet: ")
		b.WriteString(sheet)
		b.WriteString("\n\n")
		for _, row := range rows {
			cells := make([]string, 0, len(row))
			for _, c := range row {
				if c = strings.Join(strings.Fields(c), " "); c != "" {
					cells = append(cells, c)
				}
			}
			if len(cells) == 0 {
				continue
			}
			b.WriteString(strings.Join(cells, " | "))
			b.WriteString("\n\n")
		}
	}
	return &Document{Name: name, Text: strings.TrimRight(b.String(), "\n"), Errors: errs}, nil
}

// visibleRows unhides every hidden row of sheet, then reads all rows.
func visibleRows(f *excelize.File, sheet string) ([][]string, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, err
	}
	unhidden := false
	for i := range rows {
		if visible, err := f.GetRowVisible(sheet, i+1); err == nil && !visible {
			if err := f.SetRowVisible(sheet, i+1, true); err == nil {
				unhidden = true
			}
		}
	}
	if !unhidden {
		return rows, nil
	}
	return f.GetRows(sheet)
}
