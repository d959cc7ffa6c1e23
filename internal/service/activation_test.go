package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"activation-relay/internal/bas"
	"activation-relay/internal/database"
	"activation-relay/internal/metrics"
	"activation-relay/internal/model"
	"activation-relay/internal/validation"
)

const (
	testHost = "ws-01.corp.example"
	testPID  = "12345-12345-123-123456-12-1234-3.0000-1234567"
)

var testIID = strings.Repeat("1", 63)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type activatorCall struct {
	requestType       bas.RequestType
	installationID    string
	extendedProductID string
}

type fakeActivator struct {
	mu     sync.Mutex
	calls  []activatorCall
	result string
	err    error
	// when set, Call blocks until it is closed
	gate chan struct{}
}

func (f *fakeActivator) Call(ctx context.Context, requestType bas.RequestType, installationID, extendedProductID string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, activatorCall{requestType, installationID, extendedProductID})
	f.mu.Unlock()

	if f.gate != nil {
		<-f.gate
	}
	return f.result, f.err
}

func (f *fakeActivator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type stubCache struct {
	mu        sync.Mutex
	findErr   error
	insertErr error
	finds     int
	creates   int
	inserts   int
}

func (c *stubCache) FindConfirmation(ctx context.Context, installationID, extendedProductID string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finds++
	return "", false, c.findErr
}

func (c *stubCache) FindOrCreateMachine(ctx context.Context, hostname string) (uint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creates++
	return 1, nil
}

func (c *stubCache) InsertRecord(ctx context.Context, record *model.ActivationRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inserts++
	return c.insertErr
}

type recordingExporter struct {
	exported chan model.ActivationRecord
}

func (e *recordingExporter) Export(ctx context.Context, hostname string, records ...model.ActivationRecord) error {
	for _, r := range records {
		e.exported <- r
	}
	return nil
}

func newServiceWithStore(t *testing.T, activator Activator) (*ActivationService, *database.ActivationStore) {
	t.Helper()
	store := database.NewActivationStore(database.InitTestDB(t))
	return NewActivationService(store, activator, nil, quietLogger()), store
}

func TestGetConfirmationValidatesBeforeAnySideEffect(t *testing.T) {
	tests := []struct {
		name      string
		hostname  string
		iid       string
		pid       string
		wantField string
	}{
		{name: "bad_hostname", hostname: "-bad-", iid: testIID, pid: testPID, wantField: validation.FieldHostname},
		{name: "bad_iid", hostname: testHost, iid: "123", pid: testPID, wantField: validation.FieldInstallationID},
		{name: "bad_pid", hostname: testHost, iid: testIID, pid: "12345", wantField: validation.FieldExtendedProductID},
		{name: "all_bad_reports_hostname", hostname: "", iid: "", pid: "", wantField: validation.FieldHostname},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := &stubCache{}
			activator := &fakeActivator{result: "CID"}
			svc := NewActivationService(cache, activator, nil, quietLogger())

			_, err := svc.GetConfirmation(context.Background(), tt.hostname, tt.iid, tt.pid)

			var ve *validation.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.wantField, ve.Field)
			assert.Zero(t, cache.finds)
			assert.Zero(t, cache.inserts)
			assert.Zero(t, activator.callCount())
		})
	}
}

func TestGetRemainingCountValidatesBeforeCalling(t *testing.T) {
	activator := &fakeActivator{result: "5"}
	svc := NewActivationService(&stubCache{}, activator, nil, quietLogger())

	_, err := svc.GetRemainingCount(context.Background(), "not-a-pid")

	var ve *validation.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, validation.FieldExtendedProductID, ve.Field)
	assert.Zero(t, activator.callCount())
}

func TestGetRemainingCount(t *testing.T) {
	activator := &fakeActivator{result: "1234"}
	cache := &stubCache{}
	svc := NewActivationService(cache, activator, nil, quietLogger())

	remaining, err := svc.GetRemainingCount(context.Background(), testPID)
	require.NoError(t, err)
	assert.Equal(t, "1234", remaining)

	require.Len(t, activator.calls, 1)
	assert.Equal(t, activatorCall{bas.QueryRemaining, "", testPID}, activator.calls[0])
	assert.Zero(t, cache.finds, "remaining count never touches the cache")
}

func TestGetRemainingCountPropagatesErrors(t *testing.T) {
	want := &bas.BusinessError{Code: "0x68", Message: "Invalid product key."}
	svc := NewActivationService(&stubCache{}, &fakeActivator{err: want}, nil, quietLogger())

	_, err := svc.GetRemainingCount(context.Background(), testPID)
	assert.Same(t, want, err)
}

func TestGetConfirmationStoresAndThenServesFromCache(t *testing.T) {
	activator := &fakeActivator{result: "CID-0001"}
	svc, store := newServiceWithStore(t, activator)
	ctx := context.Background()

	cid, err := svc.GetConfirmation(ctx, testHost, testIID, testPID)
	require.NoError(t, err)
	assert.Equal(t, "CID-0001", cid)
	require.Equal(t, 1, activator.callCount())
	assert.Equal(t, activatorCall{bas.Activate, testIID, testPID}, activator.calls[0])

	cid, err = svc.GetConfirmation(ctx, testHost, testIID, testPID)
	require.NoError(t, err)
	assert.Equal(t, "CID-0001", cid)
	assert.Equal(t, 1, activator.callCount(), "second call must be a cache hit")

	machines, total, err := store.ListMachines(ctx, "", 1, 20)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, machines[0].ActivationRecords, 1)
	rec := machines[0].ActivationRecords[0]
	assert.Equal(t, testHost, machines[0].Hostname)
	assert.Equal(t, "CID-0001", rec.ConfirmationID)
	assert.WithinDuration(t, time.Now().UTC(), rec.LicenseAcquisitionDate, time.Minute)
}

func TestGetConfirmationCacheIsLicensePairScoped(t *testing.T) {
	activator := &fakeActivator{result: "CID-0001"}
	svc, _ := newServiceWithStore(t, activator)
	ctx := context.Background()

	_, err := svc.GetConfirmation(ctx, "host-a", testIID, testPID)
	require.NoError(t, err)

	cid, err := svc.GetConfirmation(ctx, "host-b", testIID, testPID)
	require.NoError(t, err)
	assert.Equal(t, "CID-0001", cid)
	assert.Equal(t, 1, activator.callCount())
}

func TestGetConfirmationPropagatesUpstreamErrorsWithoutStoring(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "business", err: &bas.BusinessError{Code: "0x7F", Message: "The Multiple Activation Key has exceeded its limit."}},
		{name: "protocol", err: &bas.ProtocolError{Stage: "inner", Reason: "unrecognized response"}},
		{name: "transport", err: &bas.TransportError{StatusCode: 503, Err: errors.New("unexpected status 503")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := &stubCache{}
			svc := NewActivationService(cache, &fakeActivator{err: tt.err}, nil, quietLogger())

			_, err := svc.GetConfirmation(context.Background(), testHost, testIID, testPID)
			assert.Same(t, tt.err, err)
			assert.Zero(t, cache.creates)
			assert.Zero(t, cache.inserts)
		})
	}
}

func TestGetConfirmationTreatsLookupFailureAsMiss(t *testing.T) {
	cache := &stubCache{findErr: errors.New("disk I/O error")}
	activator := &fakeActivator{result: "CID-0001"}
	svc := NewActivationService(cache, activator, nil, quietLogger())

	cid, err := svc.GetConfirmation(context.Background(), testHost, testIID, testPID)
	require.NoError(t, err)
	assert.Equal(t, "CID-0001", cid)
	assert.Equal(t, 1, activator.callCount())
	assert.Equal(t, 1, cache.inserts)
}

func TestGetConfirmationSwallowsInsertFailure(t *testing.T) {
	cache := &stubCache{insertErr: errors.New("UNIQUE constraint failed")}
	svc := NewActivationService(cache, &fakeActivator{result: "CID-0001"}, nil, quietLogger())

	cid, err := svc.GetConfirmation(context.Background(), testHost, testIID, testPID)
	require.NoError(t, err)
	assert.Equal(t, "CID-0001", cid)
}

func TestGetConfirmationCoalescesConcurrentRequests(t *testing.T) {
	activator := &fakeActivator{result: "CID-SHARED", gate: make(chan struct{})}
	svc, store := newServiceWithStore(t, activator)
	ctx := context.Background()

	const callers = 5
	results := make([]string, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.GetConfirmation(ctx, testHost, testIID, testPID)
		}(i)
	}

	require.Eventually(t, func() bool { return activator.callCount() == 1 }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(activator.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "CID-SHARED", results[i])
	}
	assert.Equal(t, 1, activator.callCount())

	machines, _, err := store.ListMachines(ctx, "", 1, 20)
	require.NoError(t, err)
	require.Len(t, machines, 1)
	assert.Len(t, machines[0].ActivationRecords, 1)
}

func TestGetConfirmationCoalescedCallersKeepTheirOwnHostname(t *testing.T) {
	activator := &fakeActivator{result: "CID-SHARED", gate: make(chan struct{})}
	svc, store := newServiceWithStore(t, activator)
	ctx := context.Background()

	hosts := []string{"host-a", "host-b"}
	results := make([]string, len(hosts))
	errs := make([]error, len(hosts))

	var wg sync.WaitGroup
	call := func(i int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.GetConfirmation(ctx, hosts[i], testIID, testPID)
		}()
	}

	call(0)
	require.Eventually(t, func() bool { return activator.callCount() == 1 }, 5*time.Second, 5*time.Millisecond)
	call(1)
	time.Sleep(50 * time.Millisecond)
	close(activator.gate)
	wg.Wait()

	for i := range hosts {
		require.NoError(t, errs[i])
		assert.Equal(t, "CID-SHARED", results[i])
	}
	assert.Equal(t, 1, activator.callCount())

	machines, total, err := store.ListMachines(ctx, "", 1, 20)
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	for i, m := range machines {
		assert.Equal(t, hosts[i], m.Hostname)
		require.Len(t, m.ActivationRecords, 1, m.Hostname)
		assert.Equal(t, "CID-SHARED", m.ActivationRecords[0].ConfirmationID)
	}
}

func TestGetConfirmationCountsOneLookupPerRequest(t *testing.T) {
	misses := metrics.CacheLookups.WithLabelValues("miss")
	hits := metrics.CacheLookups.WithLabelValues("hit")
	missesBefore := testutil.ToFloat64(misses)
	hitsBefore := testutil.ToFloat64(hits)

	svc := NewActivationService(&stubCache{}, &fakeActivator{result: "CID-0001"}, nil, quietLogger())
	_, err := svc.GetConfirmation(context.Background(), testHost, testIID, testPID)
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(misses)-missesBefore)
	assert.Equal(t, float64(0), testutil.ToFloat64(hits)-hitsBefore)
}

func TestGetConfirmationCallerCancellationLeavesSharedCallRunning(t *testing.T) {
	activator := &fakeActivator{result: "CID-LATE", gate: make(chan struct{})}
	svc, store := newServiceWithStore(t, activator)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.GetConfirmation(ctx, testHost, testIID, testPID)
		done <- err
	}()

	require.Eventually(t, func() bool { return activator.callCount() == 1 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	err := <-done
	assert.True(t, bas.IsTransport(err), "got %v", err)
	assert.ErrorIs(t, err, context.Canceled)

	close(activator.gate)
	require.Eventually(t, func() bool {
		_, found, err := store.FindConfirmation(context.Background(), testIID, testPID)
		return err == nil && found
	}, 5*time.Second, 10*time.Millisecond)
}

func TestGetConfirmationExportsNewRecords(t *testing.T) {
	exporter := &recordingExporter{exported: make(chan model.ActivationRecord, 1)}
	store := database.NewActivationStore(database.InitTestDB(t))
	svc := NewActivationService(store, &fakeActivator{result: "CID-0001"}, exporter, quietLogger())

	_, err := svc.GetConfirmation(context.Background(), testHost, testIID, testPID)
	require.NoError(t, err)
	svc.Wait()

	select {
	case rec := <-exporter.exported:
		assert.Equal(t, "CID-0001", rec.ConfirmationID)
		assert.Equal(t, testIID, rec.InstallationID)
	default:
		t.Fatal("record was not exported")
	}
}
