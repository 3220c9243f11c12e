package network

import (
	"context"
	"net"
	"time"

	"coffee-guru/utils"
)

// ReachabilitySink receives connectivity observations.
type ReachabilitySink interface {
	SetReachable(reachable bool)
}

// Monitor periodically dials the API host and reports whether it answered.
type Monitor struct {
	addr     string
	interval time.Duration
	timeout  time.Duration
	sink     ReachabilitySink
	logger   *utils.Logger
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewMonitor(addr string, interval time.Duration, sink ReachabilitySink, logger *utils.Logger) *Monitor {
	d := &net.Dialer{}
	timeout := interval
	if timeout <= 0 || timeout > 3*time.Second {
		timeout = 3 * time.Second
	}
	return &Monitor{
		addr:     addr,
		interval: interval,
		timeout:  timeout,
		sink:     sink,
		logger:   logger,
		dial:     d.DialContext,
	}
}

// Probe makes one TCP dial to the configured address.
func (m *Monitor) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	conn, err := m.dial(ctx, "tcp", m.addr)
	if err != nil {
		m.logger.Debug("[reachability] %s unreachable: %v", m.addr, err)
		return false
	}
	_ = conn.Close()
	return true
}

// Run probes immediately and then every interval until ctx ends.
func (m *Monitor) Run(ctx context.Context) {
	m.report(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.report(ctx)
		}
	}
}

func (m *Monitor) report(ctx context.Context) {
	ok := m.Probe(ctx)
	if ctx.Err() != nil {
		return
	}
	m.sink.SetReachable(ok)
}
