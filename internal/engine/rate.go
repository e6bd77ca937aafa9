package engine

import (
	"time"

	"tdlsctl/internal/model"
)

// minSampleWindow is the minimal time between data rate samples. Shorter
// windows are too noisy to divide by and are skipped.
const minSampleWindow = 100 * time.Millisecond

// sampleRate refreshes p.dataRateBps from the driver's byte counters.
// Called with e.mu held.
//
// If less than minSampleWindow has elapsed since the last baseline, the
// previous rate stands and the baseline is untouched. If the counter query
// fails the rate is forced to 0 (no traffic) and the baseline is untouched.
// Counter deltas use uint32 wraparound, matching the driver's counters.
func (e *Engine) sampleRate(p *peer) {
	now := e.now()
	elapsed := now.Sub(p.lastSampleTime)
	if elapsed < minSampleWindow {
		e.log.Trace().Stringer("peer", p.addr).Dur("elapsed", elapsed).
			Msg("sample window too short, keeping previous rate")
		return
	}

	tx, rx, err := e.driver.QueryByteCounters(p.addr)
	if err != nil {
		e.log.Error().Stringer("peer", p.addr).Err(err).
			Msg("could not get data stats")
		p.dataRateBps = 0
		return
	}

	deltaBits := uint64(rx-p.lastRxBytes)*8 + uint64(tx-p.lastTxBytes)*8
	deltaMs := uint64(elapsed / time.Millisecond)

	p.lastRxBytes = rx
	p.lastTxBytes = tx
	p.lastSampleTime = now
	p.dataRateBps = deltaBits / deltaMs * 1000

	e.log.Trace().Stringer("peer", p.addr).
		Uint64("rate_bps", p.dataRateBps).Uint64("window_ms", deltaMs).
		Uint32("tx_bytes", tx).Uint32("rx_bytes", rx).
		Msg("data rate sampled")

	e.record(model.Sample{
		Timestamp: now,
		Peer:      p.addr,
		Kind:      model.SampleRate,
		RateBps:   p.dataRateBps,
		RSSI:      p.rssi,
		Connected: p.connected,
	})
}

// pollRSSI refreshes p.rssi for a connected peer. Called with e.mu held.
func (e *Engine) pollRSSI(p *peer) {
	p.rssi = e.driver.QueryRSSI(p.addr)
	e.log.Trace().Stringer("peer", p.addr).Int("rssi", p.rssi).
		Msg("connected peer RSSI")

	e.record(model.Sample{
		Timestamp: e.now(),
		Peer:      p.addr,
		Kind:      model.SampleRSSI,
		RateBps:   p.dataRateBps,
		RSSI:      p.rssi,
		Connected: p.connected,
	})
}

func (e *Engine) record(s model.Sample) {
	if e.recorder != nil {
		e.recorder(s)
	}
}
