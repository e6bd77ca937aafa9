package engine

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tdlsctl/internal/model"
)

type monitorCall struct {
	addr    model.MAC
	enabled bool
}

// fakeDriver scripts driver behavior and records every facade call. Tests
// run single-goroutine, so no locking.
type fakeDriver struct {
	rssi       map[model.MAC]int
	txBytes    map[model.MAC]uint32
	rxBytes    map[model.MAC]uint32
	statsErr   map[model.MAC]error
	monitorErr map[model.MAC]error

	connectErr error

	connects     []model.MAC
	disconnects  []model.MAC
	probes       []model.MAC
	monitorCalls []monitorCall

	// Wired by tests that need synchronous reentrant notifications.
	onConnect    func(model.MAC)
	onDisconnect func(model.MAC)
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		rssi:       make(map[model.MAC]int),
		txBytes:    make(map[model.MAC]uint32),
		rxBytes:    make(map[model.MAC]uint32),
		statsErr:   make(map[model.MAC]error),
		monitorErr: make(map[model.MAC]error),
	}
}

func (d *fakeDriver) Connect(addr model.MAC) error {
	d.connects = append(d.connects, addr)
	if d.connectErr != nil {
		return d.connectErr
	}
	if d.onConnect != nil {
		d.onConnect(addr)
	}
	return nil
}

func (d *fakeDriver) Disconnect(addr model.MAC) {
	d.disconnects = append(d.disconnects, addr)
	if d.onDisconnect != nil {
		d.onDisconnect(addr)
	}
}

func (d *fakeDriver) Probe(addr model.MAC) {
	d.probes = append(d.probes, addr)
}

func (d *fakeDriver) QueryRSSI(addr model.MAC) int {
	if v, ok := d.rssi[addr]; ok {
		return v
	}
	return RSSIUnknown
}

func (d *fakeDriver) SetTrafficMonitor(addr model.MAC, enabled bool) error {
	d.monitorCalls = append(d.monitorCalls, monitorCall{addr, enabled})
	if enabled {
		return d.monitorErr[addr]
	}
	return nil
}

func (d *fakeDriver) QueryByteCounters(addr model.MAC) (uint32, uint32, error) {
	if err := d.statsErr[addr]; err != nil {
		return 0, 0, err
	}
	return d.txBytes[addr], d.rxBytes[addr], nil
}

func (d *fakeDriver) disableCalls(addr model.MAC) int {
	n := 0
	for _, c := range d.monitorCalls {
		if c.addr == addr && !c.enabled {
			n++
		}
	}
	return n
}

func testConfig() Config {
	return Config{
		RSSIConnectThreshold:     -60,
		DataConnectThresholdBps:  50000,
		FastConnectPeriod:        time.Hour,
		SlowConnectPeriod:        2 * time.Hour,
		DataTeardownThresholdBps: 25000,
		DataTeardownPeriod:       time.Hour,
		RSSITeardownThreshold:    -75,
		RSSITeardownPeriod:       time.Hour,
		RSSITeardownCount:        3,
		MaxConnectedPeers:        1,
	}
}

// newTestEngine builds an engine over a fake driver with hour-long cycle
// periods, so timers never fire on their own, and a manually advanced clock.
func newTestEngine(t *testing.T) (*Engine, *fakeDriver, *time.Time) {
	t.Helper()
	drv := newFakeDriver()
	e, err := New(testConfig(), drv, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Close)

	now := time.Unix(1700000000, 0)
	e.now = func() time.Time { return now }
	return e, drv, &now
}

func mac(last byte) model.MAC {
	return model.MAC{0x02, 0x00, 0x00, 0x00, 0x00, last}
}

// setPeer mutates a tracked record in place.
func setPeer(t *testing.T, e *Engine, addr model.MAC, fn func(*peer)) {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.reg.find(addr)
	if p == nil {
		t.Fatalf("peer %s not tracked", addr)
	}
	fn(p)
}

func getPeer(t *testing.T, e *Engine, addr model.MAC) peer {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.reg.find(addr)
	if p == nil {
		t.Fatalf("peer %s not tracked", addr)
	}
	return *p
}
