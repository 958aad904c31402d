package schedule

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"github.com/yegors/arrival-watch/internal/config"
	"github.com/yegors/arrival-watch/pkg/logger"
)

// ErrUnsupportedFormat is returned for schedule files that are neither xlsx nor csv
var ErrUnsupportedFormat = errors.New("unsupported schedule format")

// Source provides the current schedule
type Source interface {
	Load(ctx context.Context) ([]Entry, error)
}

// Loader reads the schedule spreadsheet
type Loader struct {
	cfg        config.ScheduleConfig
	normalizer *Normalizer
	logger     *logger.Logger
}

// NewLoader creates a schedule loader for the configured file
func NewLoader(cfg config.ScheduleConfig, logger *logger.Logger) *Loader {
	return &Loader{
		cfg:        cfg,
		normalizer: NewNormalizer(cfg.RegistrationPrefixes),
		logger:     logger.Named("schedule"),
	}
}

// Normalizer returns the registration normalizer used by this loader
func (l *Loader) Normalizer() *Normalizer {
	return l.normalizer
}

// Load reads every row of the schedule file and returns the well-formed entries
func (l *Loader) Load(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := l.readRows()
	if err != nil {
		return nil, fmt.Errorf("failed to read schedule %s: %w", l.cfg.Path, err)
	}

	entries := make([]Entry, 0, len(rows))
	dropped := 0
	for i, row := range rows {
		if i < l.cfg.HeaderRows {
			continue
		}

		reg := l.normalizer.Registration(cell(row, l.cfg.RegistrationColumn))
		if !ValidRegistration(reg) {
			if reg != "" {
				l.logger.Debug("Dropping schedule row with malformed registration",
					logger.Int("row", i+1),
					logger.String("registration", reg),
				)
			}
			dropped++
			continue
		}

		entries = append(entries, Entry{
			Registration: reg,
			FlightNumber: NormalizeFlightNumber(cell(row, l.cfg.FlightNumberColumn)),
			Owner:        joinOwner(cell(row, l.cfg.OwnerColumn)),
		})
	}

	l.logger.Debug("Schedule loaded",
		logger.String("path", l.cfg.Path),
		logger.Int("entries", len(entries)),
		logger.Int("dropped", dropped),
	)

	return entries, nil
}

func (l *Loader) readRows() ([][]string, error) {
	switch strings.ToLower(filepath.Ext(l.cfg.Path)) {
	case ".xlsx", ".xlsm":
		return l.readXLSX()
	case ".csv":
		return l.readCSV()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(l.cfg.Path))
	}
}

func (l *Loader) readXLSX() ([][]string, error) {
	f, err := excelize.OpenFile(l.cfg.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheet := l.cfg.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.New("workbook has no sheets")
		}
		sheet = sheets[0]
	}

	return f.GetRows(sheet)
}

func (l *Loader) readCSV() ([][]string, error) {
	f, err := os.Open(l.cfg.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, record)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return rows, nil
}

// cell returns the 1-based column of row, or "" when absent
func cell(row []string, column int) string {
	if column <= 0 || column > len(row) {
		return ""
	}
	return strings.TrimSpace(row[column-1])
}
