package engine

// Cycle timer names. At most one timer per cycle is ever armed; re-arming
// replaces the pending firing.
const (
	cycleFastConnect  = "fast-connect"
	cycleSlowConnect  = "slow-connect"
	cycleDataTeardown = "data-teardown"
	cycleRSSITeardown = "rssi-teardown"
)

func (e *Engine) armFastConnect() {
	e.timers.Arm(cycleFastConnect, e.cfg.FastConnectPeriod, e.fastConnectSweep)
}

func (e *Engine) armSlowConnect() {
	e.timers.Arm(cycleSlowConnect, e.cfg.SlowConnectPeriod, e.slowConnectSweep)
}

func (e *Engine) armDataTeardown() {
	e.timers.Arm(cycleDataTeardown, e.cfg.DataTeardownPeriod, e.dataTeardownSweep)
}

func (e *Engine) armRSSITeardown() {
	e.timers.Arm(cycleRSSITeardown, e.cfg.RSSITeardownPeriod, e.rssiTeardownSweep)
}

// fastConnectSweep probes every unconnected peer still within its fast
// attempt budget, provided its traffic justifies a link. The cycle re-arms
// only while some peer remains on the fast path.
func (e *Engine) fastConnectSweep() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	inFastConnect := false
	for _, addr := range e.reg.addresses() {
		p := e.reg.find(addr)
		if p == nil || p.connected {
			continue
		}
		if p.fastAttempts > maxFastConnAttempts {
			continue
		}

		e.log.Debug().Stringer("peer", addr).Int("attempt", p.fastAttempts).
			Msg("fast connect")
		p.fastAttempts++
		inFastConnect = true

		// Avoid discovery if peer traffic is not fast enough.
		e.sampleRate(p)
		if p.dataRateBps < e.cfg.DataConnectThresholdBps {
			continue
		}

		e.log.Trace().Stringer("peer", addr).Msg("discovering peer")
		e.driver.Probe(addr)
	}

	if !inFastConnect {
		return
	}
	e.armFastConnect()
}

// slowConnectSweep probes every unconnected peer the fast cycle has given up
// on. It re-arms unconditionally while any peer is tracked.
func (e *Engine) slowConnectSweep() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	for _, addr := range e.reg.addresses() {
		p := e.reg.find(addr)
		if p == nil || p.connected {
			continue
		}
		// The fast connect cycle still owns this peer.
		if p.fastAttempts <= maxFastConnAttempts {
			continue
		}

		e.sampleRate(p)
		if p.dataRateBps < e.cfg.DataConnectThresholdBps {
			continue
		}

		e.log.Debug().Stringer("peer", addr).
			Msg("slow connect, sending discovery")
		e.driver.Probe(addr)
	}

	if e.reg.count() == 0 {
		return
	}
	e.armSlowConnect()
}

// dataTeardownSweep disconnects every connected peer whose traffic dropped
// below the teardown threshold. Re-arms while any peer remains connected.
//
// The facade disconnect may synchronously remove records (an incoming peer
// disconnecting frees itself), so the sweep walks an address snapshot and
// re-resolves each address.
func (e *Engine) dataTeardownSweep() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	for _, addr := range e.reg.addresses() {
		p := e.reg.find(addr)
		if p == nil || !p.connected {
			continue
		}

		e.sampleRate(p)
		if p.dataRateBps >= e.cfg.DataTeardownThresholdBps {
			continue
		}

		e.log.Debug().Stringer("peer", addr).Uint64("rate_bps", p.dataRateBps).
			Msg("removing peer because of low data rate")

		// This might remove an incoming peer.
		e.mu.Unlock()
		e.driver.Disconnect(addr)
		e.mu.Lock()
	}

	if e.reg.connPeers == 0 {
		return
	}
	e.armDataTeardown()
}

// rssiTeardownSweep polls the RSSI of every connected peer and disconnects
// the ones below threshold for more than the configured consecutive count.
// Re-arms while any peer remains connected.
func (e *Engine) rssiTeardownSweep() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	for _, addr := range e.reg.addresses() {
		p := e.reg.find(addr)
		if p == nil || !p.connected {
			continue
		}

		e.pollRSSI(p)
		if p.rssi >= e.cfg.RSSITeardownThreshold {
			p.lowRSSIStreak = 0
			continue
		}

		p.lowRSSIStreak++
		e.log.Debug().Stringer("peer", addr).Int("rssi", p.rssi).
			Int("streak", p.lowRSSIStreak).Msg("bad RSSI for connected peer")
		if p.lowRSSIStreak <= e.cfg.RSSITeardownCount {
			continue
		}

		e.log.Debug().Stringer("peer", addr).Int("rssi", p.rssi).
			Msg("removing peer because of low RSSI")

		// This might remove an incoming peer.
		e.mu.Unlock()
		e.driver.Disconnect(addr)
		e.mu.Lock()

		if p = e.reg.find(addr); p != nil {
			p.lowRSSIStreak = 0
		}
	}

	if e.reg.connPeers == 0 {
		return
	}
	e.armRSSITeardown()
}
