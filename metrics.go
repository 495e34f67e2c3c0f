package credcore

import (
	"time"

	internalmetrics "github.com/credcore/credcore/internal/metrics"
)

// MetricID identifies an engine counter.
type MetricID uint16

const (
	MetricRegisterSuccess MetricID = iota
	MetricRegisterDuplicate
	MetricBootstrapAdmin
	MetricLoginSuccess
	MetricLoginFailure
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricRefreshRaceLost
	MetricLogout
	MetricEmailVerificationSent
	MetricEmailVerificationSuccess
	MetricEmailVerificationFailure
	MetricPasswordResetRequest
	MetricPasswordResetSuccess
	MetricPasswordResetFailure
	MetricSecondFactorCodeSent
	MetricSecondFactorSuccess
	MetricSecondFactorFailure
	MetricSecondFactorAttemptsExceeded
	MetricSecondFactorExpired
	MetricTrustedDeviceCreated
	MetricTrustedDeviceAccepted
	MetricGateAllowed
	MetricGateDenied
	MetricDeliveryFailure
	MetricPasswordRehashed
	MetricValidateLatency
	metricIDCount
)

// MetricDef names a metric for exporters.
type MetricDef struct {
	ID        MetricID
	Name      string
	Help      string
	Histogram bool
}

var metricDefs = [metricIDCount]MetricDef{
	{MetricRegisterSuccess, "register_success_total", "Successful registrations.", false},
	{MetricRegisterDuplicate, "register_duplicate_total", "Registrations rejected for a taken email.", false},
	{MetricBootstrapAdmin, "bootstrap_admin_total", "Registrations that created the first admin.", false},
	{MetricLoginSuccess, "login_success_total", "Successful logins.", false},
	{MetricLoginFailure, "login_failure_total", "Failed logins.", false},
	{MetricRefreshSuccess, "refresh_success_total", "Successful refresh rotations.", false},
	{MetricRefreshFailure, "refresh_failure_total", "Rejected refresh attempts.", false},
	{MetricRefreshReuseDetected, "refresh_reuse_detected_total", "Refresh tokens presented after rotation.", false},
	{MetricRefreshRaceLost, "refresh_race_lost_total", "Refreshes that lost a concurrent rotation.", false},
	{MetricLogout, "logout_total", "Logouts.", false},
	{MetricEmailVerificationSent, "email_verification_sent_total", "Verification emails sent.", false},
	{MetricEmailVerificationSuccess, "email_verification_success_total", "Emails verified.", false},
	{MetricEmailVerificationFailure, "email_verification_failure_total", "Rejected verification tokens.", false},
	{MetricPasswordResetRequest, "password_reset_request_total", "Password reset requests for known accounts.", false},
	{MetricPasswordResetSuccess, "password_reset_success_total", "Completed password resets.", false},
	{MetricPasswordResetFailure, "password_reset_failure_total", "Rejected password resets.", false},
	{MetricSecondFactorCodeSent, "second_factor_code_sent_total", "One-time codes issued.", false},
	{MetricSecondFactorSuccess, "second_factor_success_total", "One-time codes accepted.", false},
	{MetricSecondFactorFailure, "second_factor_failure_total", "Wrong one-time codes.", false},
	{MetricSecondFactorAttemptsExceeded, "second_factor_attempts_exceeded_total", "Codes discarded after too many attempts.", false},
	{MetricSecondFactorExpired, "second_factor_expired_total", "Codes presented after expiry.", false},
	{MetricTrustedDeviceCreated, "trusted_device_created_total", "Trusted devices registered.", false},
	{MetricTrustedDeviceAccepted, "trusted_device_accepted_total", "Requests admitted by a trusted device.", false},
	{MetricGateAllowed, "gate_allowed_total", "Requests admitted by the second-factor gate.", false},
	{MetricGateDenied, "gate_denied_total", "Requests refused with 2FA required.", false},
	{MetricDeliveryFailure, "delivery_failure_total", "Notifier failures.", false},
	{MetricPasswordRehashed, "password_rehashed_total", "Password hashes upgraded on login.", false},
	{MetricValidateLatency, "validate_latency_seconds", "Access token validation latency.", true},
}

// MetricDefs lists every metric in id order.
func MetricDefs() []MetricDef {
	return metricDefs[:]
}

// Metrics holds the engine counters. A nil or disabled Metrics records
// nothing.
type Metrics struct {
	enabled bool
	latency bool
	set     *internalmetrics.Set
}

// MetricsSnapshot is a point-in-time copy of every counter. Histograms
// hold non-cumulative bucket counts aligned with HistogramBounds.
type MetricsSnapshot struct {
	Counters      map[MetricID]uint64
	Histograms    map[MetricID][]uint64
	HistogramSums map[MetricID]time.Duration
}

// HistogramBounds are the latency bucket upper bounds; the last bucket is
// unbounded.
func HistogramBounds() []time.Duration {
	return append([]time.Duration(nil), internalmetrics.BucketBounds...)
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatencyHistograms,
		set:     internalmetrics.NewSet(int(metricIDCount)),
	}
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled {
		return
	}
	m.set.Inc(int(id))
}

func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.latency || !metricDefs[id%metricIDCount].Histogram {
		return
	}
	m.set.Observe(int(id), d)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil {
		return 0
	}
	return m.set.Value(int(id))
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:      map[MetricID]uint64{},
		Histograms:    map[MetricID][]uint64{},
		HistogramSums: map[MetricID]time.Duration{},
	}
	if m == nil || !m.enabled {
		return s
	}
	for _, def := range metricDefs {
		if def.Histogram {
			if m.latency {
				s.Histograms[def.ID], s.HistogramSums[def.ID] = m.set.Buckets(int(def.ID))
			}
			continue
		}
		s.Counters[def.ID] = m.set.Value(int(def.ID))
	}
	return s
}
