package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"activation-relay/internal/bas"
	"activation-relay/internal/database"
	"activation-relay/internal/metrics"
	"activation-relay/internal/model"
	"activation-relay/internal/validation"
)

// Activator performs one Batch Activation Service request.
type Activator interface {
	Call(ctx context.Context, requestType bas.RequestType, installationID, extendedProductID string) (string, error)
}

// ActivationCache is the persistence the orchestrator needs.
type ActivationCache interface {
	FindConfirmation(ctx context.Context, installationID, extendedProductID string) (string, bool, error)
	FindOrCreateMachine(ctx context.Context, hostname string) (uint, error)
	InsertRecord(ctx context.Context, record *model.ActivationRecord) error
}

// RecordExporter receives newly stored records.
type RecordExporter interface {
	Export(ctx context.Context, hostname string, records ...model.ActivationRecord) error
}

const exportTimeout = 30 * time.Second

type ActivationService struct {
	cache     ActivationCache
	activator Activator
	exporter  RecordExporter
	log       logrus.FieldLogger

	inflight singleflight.Group
	exports  sync.WaitGroup
	now      func() time.Time
}

// NewActivationService wires the orchestrator. exporter may be nil.
func NewActivationService(cache ActivationCache, activator Activator, exporter RecordExporter, log logrus.FieldLogger) *ActivationService {
	return &ActivationService{
		cache:     cache,
		activator: activator,
		exporter:  exporter,
		log:       log.WithField("component", "activation_service"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type flightResult struct {
	confirmationID string
	cached         bool
	storedFor      string
}

// GetConfirmation returns the confirmation ID for the installation and
// product pair, from the cache when any machine already holds one and from
// the Batch Activation Service otherwise. Concurrent identical requests share
// one upstream call.
func (s *ActivationService) GetConfirmation(ctx context.Context, hostname, installationID, extendedProductID string) (string, error) {
	if err := validation.Identifiers(hostname, installationID, extendedProductID); err != nil {
		return "", err
	}

	log := s.log.WithFields(logrus.Fields{
		"hostname":            hostname,
		"extended_product_id": extendedProductID,
	})

	if cid, ok := s.lookup(ctx, log, installationID, extendedProductID, true); ok {
		return cid, nil
	}

	key := installationID + "|" + extendedProductID
	ch := s.inflight.DoChan(key, func() (interface{}, error) {
		// the shared call must not die with whichever caller started it
		flightCtx := context.WithoutCancel(ctx)

		// re-check without counting: this request was already counted as a miss
		if cid, ok := s.lookup(flightCtx, log, installationID, extendedProductID, false); ok {
			return flightResult{confirmationID: cid, cached: true}, nil
		}

		cid, err := s.activator.Call(flightCtx, bas.Activate, installationID, extendedProductID)
		if err != nil {
			return nil, err
		}
		s.persist(flightCtx, log, hostname, installationID, extendedProductID, cid)
		return flightResult{confirmationID: cid, storedFor: hostname}, nil
	})

	select {
	case <-ctx.Done():
		return "", &bas.TransportError{Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		fr := res.Val.(flightResult)
		if res.Shared && !fr.cached && fr.storedFor != hostname {
			s.persist(ctx, log, hostname, installationID, extendedProductID, fr.confirmationID)
		}
		return fr.confirmationID, nil
	}
}

// GetRemainingCount asks the service how many activations the key has left.
// Nothing is cached.
func (s *ActivationService) GetRemainingCount(ctx context.Context, extendedProductID string) (string, error) {
	if err := validation.ExtendedProductID(extendedProductID); err != nil {
		return "", err
	}
	return s.activator.Call(ctx, bas.QueryRemaining, "", extendedProductID)
}

// Wait blocks until pending exports finish.
func (s *ActivationService) Wait() {
	s.exports.Wait()
}

func (s *ActivationService) lookup(ctx context.Context, log logrus.FieldLogger, installationID, extendedProductID string, count bool) (string, bool) {
	cid, found, err := s.cache.FindConfirmation(ctx, installationID, extendedProductID)

	result := "miss"
	switch {
	case err != nil:
		result = "error"
		log.WithError(err).Warn("activation cache lookup failed, treating as miss")
	case found:
		result = "hit"
		log.Debug("confirmation served from cache")
	}
	if count {
		metrics.CacheLookups.WithLabelValues(result).Inc()
	}
	return cid, err == nil && found
}

// persist stores the record and never fails the request; the caller already
// holds a valid confirmation.
func (s *ActivationService) persist(ctx context.Context, log logrus.FieldLogger, hostname, installationID, extendedProductID, confirmationID string) {
	machineID, err := s.cache.FindOrCreateMachine(ctx, hostname)
	if err != nil {
		metrics.RecordsStored.WithLabelValues("failed").Inc()
		log.WithError(err).Error("failed to store machine")
		return
	}

	record := model.ActivationRecord{
		MachineID:              machineID,
		InstallationID:         installationID,
		ExtendedProductID:      extendedProductID,
		ConfirmationID:         confirmationID,
		LicenseAcquisitionDate: s.now(),
	}
	if err := s.cache.InsertRecord(ctx, &record); err != nil {
		metrics.RecordsStored.WithLabelValues("failed").Inc()
		if database.IsDuplicate(err) {
			log.WithError(err).Info("activation record already stored")
		} else {
			log.WithError(err).Error("failed to store activation record")
		}
		return
	}
	metrics.RecordsStored.WithLabelValues("stored").Inc()

	if s.exporter == nil {
		return
	}
	s.exports.Add(1)
	go func() {
		defer s.exports.Done()
		ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
		defer cancel()
		if err := s.exporter.Export(ctx, hostname, record); err != nil {
			log.WithError(err).Warn("failed to export activation record")
		}
	}()
}
