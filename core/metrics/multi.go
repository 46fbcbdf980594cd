package metrics

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordOutcome forwards the record to all sinks, returning the first error encountered.
func (m *MultiSink) RecordOutcome(rec OutcomeRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordOutcome(rec); err != nil {
			return err
		}
	}
	return nil
}

// RecordResponse forwards response records when supported by the sink.
func (m *MultiSink) RecordResponse(rec ResponseRecord) error {
	for _, s := range m.Sinks {
		if rr, ok := s.(ResponseRecorder); ok {
			if err := rr.RecordResponse(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordRegistrySize forwards the registry size when supported by the sink.
func (m *MultiSink) RecordRegistrySize(size int) error {
	for _, s := range m.Sinks {
		if rr, ok := s.(RegistrySizeRecorder); ok {
			if err := rr.RecordRegistrySize(size); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordSend forwards send records when supported by the sink.
func (m *MultiSink) RecordSend(rec SendRecord) error {
	for _, s := range m.Sinks {
		if sr, ok := s.(SendRecorder); ok {
			if err := sr.RecordSend(rec); err != nil {
				return err
			}
		}
	}
	return nil
}
