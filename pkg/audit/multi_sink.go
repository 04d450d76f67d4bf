package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MultiSink fans events out to several sinks. In async mode writes run in
// background goroutines detached from the request's cancellation, and
// their errors are collected for GetErrors.
type MultiSink struct {
	sinks   []Sink
	async   bool
	wg      sync.WaitGroup
	errChan chan error
}

// NewMultiSink creates an asynchronous multi-sink
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{
		sinks:   sinks,
		async:   true,
		errChan: make(chan error, 64),
	}
}

// SetAsync sets whether writes are asynchronous
func (m *MultiSink) SetAsync(async bool) {
	m.async = async
}

func (m *MultiSink) Write(ctx context.Context, event *SecurityEvent) error {
	if len(m.sinks) == 0 {
		return nil
	}
	if !m.async {
		return m.writeSync(ctx, event)
	}

	detached := context.WithoutCancel(ctx)
	for _, sink := range m.sinks {
		m.wg.Add(1)
		go func(s Sink) {
			defer m.wg.Done()
			if err := s.Write(detached, event); err != nil {
				select {
				case m.errChan <- err:
				default:
					// Channel full, drop error
				}
			}
		}(sink)
	}
	return nil
}

// writeSync continues past failing sinks and reports every error
func (m *MultiSink) writeSync(ctx context.Context, event *SecurityEvent) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Write(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until pending async writes finish
func (m *MultiSink) Wait() {
	m.wg.Wait()
}

// GetErrors drains errors from async writes
func (m *MultiSink) GetErrors() []error {
	var errs []error
	for {
		select {
		case err := <-m.errChan:
			errs = append(errs, err)
		default:
			return errs
		}
	}
}

// Close waits for pending writes and closes every sink
func (m *MultiSink) Close() error {
	m.wg.Wait()

	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close sink: %w", err)
		}
	}
	return firstErr
}
