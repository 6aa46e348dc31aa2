package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"breakout/internal/domain"
)

// Trade table columns.
var tradeHeader = []string{"Buy Date", "Buy Price", "Sell Date", "Sell Price", "Return %", "Exit"}

// Extra columns of the stop-loss/take-profit export.
var bandHeader = []string{"Stop Loss %", "Take Profit %"}

// Bands are the stop-loss and take-profit percentages (5 for 5%) repeated on
// every row of a stop-loss/take-profit export.
type Bands struct {
	StopLossPct   float64
	TakeProfitPct float64
}

// WriteTradesCSV writes one row per trade. When bands is non-nil the two band
// columns are appended.
func WriteTradesCSV(w io.Writer, trades []domain.Trade, bands *Bands) error {
	cw := csv.NewWriter(w)
	header := tradeHeader
	if bands != nil {
		header = append(append([]string(nil), tradeHeader...), bandHeader...)
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing trade header: %w", err)
	}
	for _, t := range trades {
		rec := []string{
			formatDate(&t.BuyDate),
			formatFloat(&t.BuyPrice),
			formatDate(t.SellDate),
			formatFloat(t.SellPrice),
			formatFloat(t.ReturnPct),
			t.Exit.String(),
		}
		if bands != nil {
			rec = append(rec, formatFloat(&bands.StopLossPct), formatFloat(&bands.TakeProfitPct))
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing trade row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadTradesCSV parses a table written by WriteTradesCSV. Bands is nil when
// the table has no band columns.
func ReadTradesCSV(r io.Reader) ([]domain.Trade, *Bands, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("reading trade csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("reading trade csv: missing header")
	}

	header := records[0]
	withBands := len(header) == len(tradeHeader)+len(bandHeader)
	if !withBands && len(header) != len(tradeHeader) {
		return nil, nil, fmt.Errorf("reading trade csv: unexpected header %v", header)
	}
	for i, name := range tradeHeader {
		if header[i] != name {
			return nil, nil, fmt.Errorf("reading trade csv: column %d is %q, want %q", i, header[i], name)
		}
	}

	var bands *Bands
	trades := make([]domain.Trade, 0, len(records)-1)
	for n, rec := range records[1:] {
		line := n + 2
		buyDate, err := parseDate(rec[0])
		if err != nil || buyDate == nil {
			return nil, nil, fmt.Errorf("line %d: buy date %q: %v", line, rec[0], err)
		}
		buyPrice, err := parseFloat(rec[1])
		if err != nil || buyPrice == nil {
			return nil, nil, fmt.Errorf("line %d: buy price %q: %v", line, rec[1], err)
		}
		t := domain.Trade{BuyDate: *buyDate, BuyPrice: *buyPrice}
		if t.SellDate, err = parseDate(rec[2]); err != nil {
			return nil, nil, fmt.Errorf("line %d: sell date: %w", line, err)
		}
		if t.SellPrice, err = parseFloat(rec[3]); err != nil {
			return nil, nil, fmt.Errorf("line %d: sell price: %w", line, err)
		}
		if t.ReturnPct, err = parseFloat(rec[4]); err != nil {
			return nil, nil, fmt.Errorf("line %d: return: %w", line, err)
		}
		if t.Exit, err = domain.ParseExitReason(rec[5]); err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}
		if withBands && bands == nil {
			sl, err1 := parseFloat(rec[6])
			tp, err2 := parseFloat(rec[7])
			if err1 != nil || err2 != nil || sl == nil || tp == nil {
				return nil, nil, fmt.Errorf("line %d: bad band columns %q, %q", line, rec[6], rec[7])
			}
			bands = &Bands{StopLossPct: *sl, TakeProfitPct: *tp}
		}
		trades = append(trades, t)
	}
	return trades, bands, nil
}

// WriteHorizonsCSV writes one row per breakout day with three columns per
// horizon, in the given horizon order.
func WriteHorizonsCSV(w io.Writer, rows []domain.HorizonRow, horizons []int) error {
	cw := csv.NewWriter(w)
	header := []string{"Breakout Date", "Buy Price"}
	for _, h := range horizons {
		header = append(header,
			fmt.Sprintf("Sell Date %dd", h),
			fmt.Sprintf("Sell Price %dd", h),
			fmt.Sprintf("Return_%dd", h),
		)
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing horizon header: %w", err)
	}
	for _, row := range rows {
		rec := []string{formatDate(&row.BuyDate), formatFloat(&row.BuyPrice)}
		for _, h := range horizons {
			o := outcomeFor(row, h)
			rec = append(rec, formatDate(o.SellDate), formatFloat(o.SellPrice), formatFloat(o.ReturnPct))
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing horizon row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadHorizonsCSV parses a table written by WriteHorizonsCSV and returns the
// horizons recovered from the header.
func ReadHorizonsCSV(r io.Reader) ([]domain.HorizonRow, domain.Horizons, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("reading horizon csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("reading horizon csv: missing header")
	}
	header := records[0]
	if len(header) < 5 || (len(header)-2)%3 != 0 || header[0] != "Breakout Date" || header[1] != "Buy Price" {
		return nil, nil, fmt.Errorf("reading horizon csv: unexpected header %v", header)
	}

	var horizons domain.Horizons
	for c := 2; c < len(header); c += 3 {
		h, err := horizonFromColumn(header[c+2])
		if err != nil {
			return nil, nil, fmt.Errorf("reading horizon csv: %w", err)
		}
		horizons = append(horizons, h)
	}

	rows := make([]domain.HorizonRow, 0, len(records)-1)
	for n, rec := range records[1:] {
		line := n + 2
		buyDate, err := parseDate(rec[0])
		if err != nil || buyDate == nil {
			return nil, nil, fmt.Errorf("line %d: breakout date %q: %v", line, rec[0], err)
		}
		buyPrice, err := parseFloat(rec[1])
		if err != nil || buyPrice == nil {
			return nil, nil, fmt.Errorf("line %d: buy price %q: %v", line, rec[1], err)
		}
		row := domain.HorizonRow{BuyDate: *buyDate, BuyPrice: *buyPrice, Outcomes: make([]domain.HorizonOutcome, len(horizons))}
		for k, h := range horizons {
			c := 2 + 3*k
			o := domain.HorizonOutcome{Horizon: h}
			if o.SellDate, err = parseDate(rec[c]); err != nil {
				return nil, nil, fmt.Errorf("line %d: sell date %dd: %w", line, h, err)
			}
			if o.SellPrice, err = parseFloat(rec[c+1]); err != nil {
				return nil, nil, fmt.Errorf("line %d: sell price %dd: %w", line, h, err)
			}
			if o.ReturnPct, err = parseFloat(rec[c+2]); err != nil {
				return nil, nil, fmt.Errorf("line %d: return %dd: %w", line, h, err)
			}
			row.Outcomes[k] = o
		}
		rows = append(rows, row)
	}
	return rows, horizons, nil
}

func outcomeFor(row domain.HorizonRow, h int) domain.HorizonOutcome {
	for _, o := range row.Outcomes {
		if o.Horizon == h {
			return o
		}
	}
	return domain.HorizonOutcome{Horizon: h}
}

func horizonFromColumn(name string) (int, error) {
	s, ok := strings.CutPrefix(name, "Return_")
	if ok {
		s, ok = strings.CutSuffix(s, "d")
	}
	if !ok {
		return 0, fmt.Errorf("unexpected return column %q", name)
	}
	h, err := strconv.Atoi(s)
	if err != nil || h <= 0 {
		return 0, fmt.Errorf("unexpected return column %q", name)
	}
	return h, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(domain.DateLayout)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
