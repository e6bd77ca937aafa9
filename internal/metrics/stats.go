package metrics

import (
	"math"
	"sort"
	"time"

	"tdlsctl/internal/model"
)

// Summary is a basic statistics snapshot over engine samples.
type Summary struct {
	Count       int
	From        time.Time
	To          time.Time
	RateSamples int
	AvgRateBps  float64
	MinRateBps  float64
	MaxRateBps  float64
	P95RateBps  float64
	RSSISamples int
	AvgRSSI     float64
	MinRSSI     int
	MaxRSSI     int
}

// Summarize computes summary metrics for samples in a time window.
func Summarize(items []model.Sample, since time.Time) Summary {
	filtered := make([]model.Sample, 0, len(items))
	for _, s := range items {
		if s.Timestamp.After(since) || s.Timestamp.Equal(since) {
			filtered = append(filtered, s)
		}
	}

	if len(filtered) == 0 {
		return Summary{Count: 0}
	}

	out := Summary{
		Count:      len(filtered),
		From:       filtered[0].Timestamp,
		To:         filtered[0].Timestamp,
		MinRateBps: math.MaxFloat64,
		MinRSSI:    math.MaxInt,
		MaxRSSI:    math.MinInt,
	}

	rates := make([]float64, 0, len(filtered))
	var sumRate, sumRSSI float64
	for _, s := range filtered {
		if s.Timestamp.Before(out.From) {
			out.From = s.Timestamp
		}
		if s.Timestamp.After(out.To) {
			out.To = s.Timestamp
		}
		switch s.Kind {
		case model.SampleRate:
			v := float64(s.RateBps)
			rates = append(rates, v)
			sumRate += v
			if v < out.MinRateBps {
				out.MinRateBps = v
			}
			if v > out.MaxRateBps {
				out.MaxRateBps = v
			}
		case model.SampleRSSI:
			out.RSSISamples++
			sumRSSI += float64(s.RSSI)
			if s.RSSI < out.MinRSSI {
				out.MinRSSI = s.RSSI
			}
			if s.RSSI > out.MaxRSSI {
				out.MaxRSSI = s.RSSI
			}
		}
	}

	out.RateSamples = len(rates)
	if len(rates) > 0 {
		sort.Float64s(rates)
		out.AvgRateBps = sumRate / float64(len(rates))
		out.P95RateBps = percentile(rates, 0.95)
	} else {
		out.MinRateBps = 0
	}
	if out.RSSISamples > 0 {
		out.AvgRSSI = sumRSSI / float64(out.RSSISamples)
	} else {
		out.MinRSSI = 0
		out.MaxRSSI = 0
	}

	return out
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return values[0]
	}
	if p >= 1 {
		return values[len(values)-1]
	}
	idx := int(math.Ceil(p*float64(len(values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}
