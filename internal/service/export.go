package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"
)

var refundLedgerHeaders = []string{
	"ID", "Order", "Payment ID", "Refund ID", "Idempotency Key",
	"Status", "Attempts", "Last Error", "Created", "Updated",
}

// ExportRefundLedger writes the whole refund ledger to a timestamped XLSX
// file under the export directory and returns its path.
func (s *Service) ExportRefundLedger(ctx context.Context) (string, error) {
	refunds, err := s.db.ListRefunds(ctx, "")
	if err != nil {
		return "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Refunds"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return "", fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	for col, header := range refundLedgerHeaders {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return "", fmt.Errorf("write header: %w", err)
		}
	}

	for i, r := range refunds {
		lastError := ""
		if r.LastError != nil {
			lastError = *r.LastError
		}
		values := []interface{}{
			r.ID, r.OrderID, r.PaymentID, r.RefundID, r.IdempotencyKey,
			string(r.Status), r.Attempts, lastError,
			r.CreatedAt.Format(time.RFC3339), r.UpdatedAt.Format(time.RFC3339),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return "", fmt.Errorf("write row %d: %w", i+2, err)
			}
		}
	}

	if err := os.MkdirAll(s.exportPath, 0755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}
	path := filepath.Join(s.exportPath, fmt.Sprintf("refunds-%s.xlsx", time.Now().Format("20060102-150405")))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save export: %w", err)
	}

	s.logger.Info().Str("path", path).Int("rows", len(refunds)).Msg("Refund ledger exported")
	return path, nil
}
