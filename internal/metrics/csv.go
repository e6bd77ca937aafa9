package metrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"tdlsctl/internal/model"
)

var csvHeader = []string{"timestamp", "peer", "kind", "rate_bps", "rssi", "connected"}

// AppendCSV appends samples to a CSV file, writing the header when the file
// is new.
func AppendCSV(path string, items []model.Sample) error {
	if len(items) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	_, statErr := os.Stat(path)
	writeHeader := os.IsNotExist(statErr)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if writeHeader {
		if err := w.Write(csvHeader); err != nil {
			return err
		}
	}
	for _, s := range items {
		rec := []string{
			s.Timestamp.UTC().Format(time.RFC3339Nano),
			s.Peer.String(),
			s.Kind,
			strconv.FormatUint(s.RateBps, 10),
			strconv.Itoa(s.RSSI),
			strconv.FormatBool(s.Connected),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// ReadCSV loads samples from a CSV file.
func ReadCSV(path string) ([]model.Sample, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return readCSV(file)
}

func readCSV(r io.Reader) ([]model.Sample, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	start := 0
	if len(records[0]) > 0 && records[0][0] == "timestamp" {
		start = 1
	}

	items := make([]model.Sample, 0, len(records)-start)
	for i := start; i < len(records); i++ {
		rec := records[i]
		if len(rec) < 6 {
			return nil, fmt.Errorf("invalid record at line %d", i+1)
		}
		ts, err := time.Parse(time.RFC3339Nano, rec[0])
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp at line %d: %w", i+1, err)
		}
		peer, err := model.ParseMAC(rec[1])
		if err != nil {
			return nil, fmt.Errorf("invalid peer at line %d: %w", i+1, err)
		}
		rate, _ := strconv.ParseUint(rec[3], 10, 64)
		rssi, _ := strconv.Atoi(rec[4])
		connected, _ := strconv.ParseBool(rec[5])
		items = append(items, model.Sample{
			Timestamp: ts,
			Peer:      peer,
			Kind:      rec[2],
			RateBps:   rate,
			RSSI:      rssi,
			Connected: connected,
		})
	}

	return items, nil
}
