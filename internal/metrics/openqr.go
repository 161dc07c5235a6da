package metrics

import (
	"errors"

	"openqr/internal/domain"
	"openqr/internal/history"
)

// Scanner holds the metrics the scan pipeline records.
type Scanner struct {
	Registry *Registry

	ScansReceived  *Counter
	ScansProcessed *Counter
	StorageErrors  *Counter
	ListenerActive *Gauge
	HistoryWrite   *Histogram
}

// Rejection reasons used as the "reason" label.
const (
	ReasonBlocked        = "blocked"
	ReasonNotAllowlisted = "not_allowlisted"
	ReasonInvalidURL     = "invalid_url"
	ReasonNoDomain       = "no_domain"
)

// NewScanner registers the scan pipeline metrics in r.
func NewScanner(r *Registry) *Scanner {
	s := &Scanner{
		Registry:       r,
		ScansReceived:  r.Counter("scans_received_total", "Scans assembled from scanner keystrokes.", nil),
		ScansProcessed: r.Counter("scans_processed_total", "Scans that passed the domain gate and were recorded.", nil),
		StorageErrors:  r.Counter("history_errors_total", "History reads or writes that failed.", nil),
		ListenerActive: r.Gauge("listener_active", "Whether keyboard capture is forwarding keystrokes.", nil),
		HistoryWrite:   r.Histogram("history_write_seconds", "Time spent appending a scan to history.", nil, nil),
	}
	for _, reason := range []string{ReasonBlocked, ReasonNotAllowlisted, ReasonInvalidURL, ReasonNoDomain} {
		s.rejected(reason)
	}
	return s
}

func (s *Scanner) rejected(reason string) *Counter {
	return s.Registry.Counter("scans_rejected_total", "Scans rejected by the domain gate.", Labels{"reason": reason})
}

// Rejected counts a domain gate rejection. Errors from other stages are
// ignored.
func (s *Scanner) Rejected(err error) {
	var reason string
	switch {
	case errors.Is(err, domain.ErrBlocked):
		reason = ReasonBlocked
	case errors.Is(err, domain.ErrNotAllowlisted):
		reason = ReasonNotAllowlisted
	case errors.Is(err, domain.ErrInvalidURL):
		reason = ReasonInvalidURL
	case errors.Is(err, domain.ErrNoDomain):
		reason = ReasonNoDomain
	case errors.Is(err, history.ErrStorage):
		s.StorageErrors.Inc()
		return
	default:
		return
	}
	s.rejected(reason).Inc()
}

// RejectedCount returns the rejection count for reason.
func (s *Scanner) RejectedCount(reason string) uint64 {
	return s.rejected(reason).Value()
}
