package service

import (
	"context"

	"regisync/backend/internal/report"
	"regisync/backend/internal/store"
)

// DailyReport aggregates the sales of date's report window in the current
// input mode.
func (s *Service) DailyReport(ctx context.Context, date string) (report.DailyReport, error) {
	window, err := s.ReportWindow(ctx, date)
	if err != nil {
		return report.DailyReport{}, err
	}
	mode, err := s.InputMode(ctx)
	if err != nil {
		return report.DailyReport{}, err
	}

	sales, err := s.repo.ListSales(ctx, store.SaleFilter{
		ShopCode:  s.shopCode,
		InputMode: mode,
		From:      window.From,
		To:        window.To,
	})
	if err != nil {
		return report.DailyReport{}, err
	}
	ids := make([]string, 0, len(sales))
	for _, sale := range sales {
		ids = append(ids, sale.ID)
	}
	details, err := s.repo.ListDetailsBySaleIDs(ctx, ids)
	if err != nil {
		return report.DailyReport{}, err
	}

	r := report.Aggregate(report.Input{ShopCode: s.shopCode, Window: window, Sales: sales, Details: details})
	if len(r.Anomalies) > 0 {
		s.logger.Warn("daily report has anomalies", "date", date, "count", len(r.Anomalies), "first", r.Anomalies[0].Kind)
	}
	return r, nil
}
