package expense

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// csvHeader is the fixed export header. Spreadsheet applications expect the
// byte-order mark to pick up UTF-8 for the Japanese column names.
var csvHeader = []string{
	"日付", "店舗名", "カテゴリー", "金額", "税抜金額", "消費税",
	"支払方法", "プロジェクト", "備考", "インボイス番号",
}

// WriteCSV writes the records as UTF-8 CSV with a byte-order mark, one
// quoted row per record. Tombstones are the caller's concern; everything
// passed in is written.
func WriteCSV(w io.Writer, records []Record) error {
	bom := transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())
	cw := csv.NewWriter(bom)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	for i := range records {
		rec := &records[i]
		row := []string{
			rec.Date,
			rec.StoreName,
			rec.Category,
			strconv.Itoa(rec.Amount),
			strconv.Itoa(rec.TaxExcluded),
			strconv.Itoa(rec.Tax),
			rec.PaymentMethod,
			rec.Project,
			rec.Memo,
			rec.InvoiceNumber,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}
