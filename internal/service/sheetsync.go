package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"activation-relay/internal/config"
	"activation-relay/internal/model"
)

// SheetExporter appends stored activation records to a Google Sheet so that
// license administrators can follow activations outside this service.
type SheetExporter struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	log           logrus.FieldLogger
}

// NewSheetExporter returns nil when export is disabled.
func NewSheetExporter(ctx context.Context, cfg config.SheetsConfig, log logrus.FieldLogger, opts ...option.ClientOption) (*SheetExporter, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if len(opts) == 0 {
		b, err := os.ReadFile(cfg.CredentialPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheets credentials: %w", err)
		}

		creds, err := google.CredentialsFromJSON(ctx, b, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("failed to load sheets credentials: %w", err)
		}
		opts = append(opts, option.WithCredentials(creds))
	}

	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}

	return &SheetExporter{
		service:       srv,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     cfg.SheetName,
		log:           log.WithField("component", "sheet_exporter"),
	}, nil
}

// CheckSheet verifies that the configured worksheet exists.
func (s *SheetExporter) CheckSheet(ctx context.Context) error {
	if s == nil {
		return nil
	}

	spreadsheet, err := s.service.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to get spreadsheet: %w", err)
	}
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == s.sheetName {
			return nil
		}
	}
	return fmt.Errorf("worksheet %q does not exist", s.sheetName)
}

// Export appends one row per record: hostname, installation ID, extended
// product ID, confirmation ID and acquisition time.
func (s *SheetExporter) Export(ctx context.Context, hostname string, records ...model.ActivationRecord) error {
	if s == nil || len(records) == 0 {
		return nil
	}

	values := make([][]interface{}, 0, len(records))
	for _, rec := range records {
		values = append(values, []interface{}{
			hostname,
			rec.InstallationID,
			rec.ExtendedProductID,
			rec.ConfirmationID,
			rec.LicenseAcquisitionDate.UTC().Format(time.RFC3339),
		})
	}

	_, err := s.service.Spreadsheets.Values.Append(
		s.spreadsheetID,
		s.sheetName+"!A2:E",
		&sheets.ValueRange{Values: values},
	).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to append to sheet: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"hostname": hostname,
		"rows":     len(values),
	}).Debug("exported activation records to sheet")
	return nil
}

// ExportMachines appends the records of each machine, one request per machine.
func (s *SheetExporter) ExportMachines(ctx context.Context, machines []model.Machine) error {
	if s == nil {
		return nil
	}
	for _, m := range machines {
		if err := s.Export(ctx, m.Hostname, m.ActivationRecords...); err != nil {
			return err
		}
	}
	return nil
}
