package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"activation-relay/internal/model"
)

// ReportPageSize is the number of machines per reporting page.
const ReportPageSize = 20

var ErrExportDisabled = errors.New("sheet export is not configured")

type MachineStore interface {
	ListMachines(ctx context.Context, search string, page, pageSize int) ([]model.Machine, int64, error)
	DeleteMachine(ctx context.Context, hostname string) (bool, error)
	Statistics(ctx context.Context, days int) (*model.ActivationStatistics, error)
}

type MachinePage struct {
	Machines   []model.Machine `json:"machines"`
	Total      int64           `json:"total"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	TotalPages int             `json:"total_pages"`
}

// ReportService backs the reporting routes.
type ReportService struct {
	store    MachineStore
	audit    *AuditLog
	exporter *SheetExporter
	log      logrus.FieldLogger
}

// NewReportService wires reporting. audit and exporter may be nil.
func NewReportService(store MachineStore, audit *AuditLog, exporter *SheetExporter, log logrus.FieldLogger) *ReportService {
	return &ReportService{
		store:    store,
		audit:    audit,
		exporter: exporter,
		log:      log.WithField("component", "report_service"),
	}
}

func (r *ReportService) ListMachines(ctx context.Context, search string, page int) (*MachinePage, error) {
	if page < 1 {
		page = 1
	}
	machines, total, err := r.store.ListMachines(ctx, search, page, ReportPageSize)
	if err != nil {
		return nil, err
	}
	if machines == nil {
		machines = []model.Machine{}
	}
	return &MachinePage{
		Machines:   machines,
		Total:      total,
		Page:       page,
		PageSize:   ReportPageSize,
		TotalPages: int((total + ReportPageSize - 1) / ReportPageSize),
	}, nil
}

// DeleteMachine removes a machine with its records and writes an audit entry.
// It reports whether the machine existed.
func (r *ReportService) DeleteMachine(ctx context.Context, actor, ip, hostname string) (bool, error) {
	deleted, err := r.store.DeleteMachine(ctx, hostname)
	if err != nil {
		return false, err
	}
	if !deleted {
		return false, nil
	}

	r.log.WithFields(logrus.Fields{"hostname": hostname, "actor": actor}).Info("machine deleted")
	if r.audit != nil {
		if err := r.audit.LogOperation(ctx, actor, "delete_machine", "machine", hostname, ip, map[string]string{"hostname": hostname}); err != nil {
			r.log.WithError(err).Warn("failed to record machine deletion")
		}
	}
	return true, nil
}

func (r *ReportService) Statistics(ctx context.Context, days int) (*model.ActivationStatistics, error) {
	return r.store.Statistics(ctx, days)
}

// ExportAll pushes every stored record to the sheet, page by page. It returns
// the number of machines exported.
func (r *ReportService) ExportAll(ctx context.Context) (int, error) {
	if r.exporter == nil {
		return 0, ErrExportDisabled
	}

	exported := 0
	for page := 1; ; page++ {
		machines, total, err := r.store.ListMachines(ctx, "", page, ReportPageSize)
		if err != nil {
			return exported, err
		}
		if err := r.exporter.ExportMachines(ctx, machines); err != nil {
			return exported, err
		}
		exported += len(machines)
		if len(machines) == 0 || int64(exported) >= total {
			return exported, nil
		}
	}
}
