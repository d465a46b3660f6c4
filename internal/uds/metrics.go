package uds

import (
	"fmt"
	"io"
)

// count records one backend call.
func (s *Store) count(op, table string, err error) {
	s.metrics.GetOrCreateCounter(fmt.Sprintf(`uds_store_ops_total{op=%q,table=%q}`, op, table)).Inc()
	if err != nil {
		s.metrics.GetOrCreateCounter(fmt.Sprintf(`uds_store_errors_total{op=%q,table=%q}`, op, table)).Inc()
	}
}

// WriteMetrics writes the store counters in Prometheus text format.
func (s *Store) WriteMetrics(w io.Writer) {
	s.metrics.WritePrometheus(w)
}
