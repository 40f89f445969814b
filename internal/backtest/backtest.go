package backtest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"crt-trading-engine/internal/candles"
)

// LoadCandles reads a candle file. JSON files hold either an array of candle
// objects or raw exchange kline arrays; CSV files need a header row. interval
// fills in close times missing from the file.
func LoadCandles(path string, interval time.Duration) ([]candles.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open candle file: %w", err)
	}
	defer f.Close()

	var cs []candles.Candle
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		cs, err = ParseCSV(f, interval)
	default:
		cs, err = ParseJSON(f, interval)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cs, nil
}

// ParseJSON decodes candle objects or kline arrays
func ParseJSON(r io.Reader, interval time.Duration) ([]candles.Candle, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)

	var objects []candles.Candle
	if err := json.Unmarshal(data, &objects); err == nil {
		return normalize(objects, interval)
	}

	// [openTime, "open", "high", "low", "close", "volume", closeTime, ...]
	var rows [][]interface{}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("unrecognized candle JSON: %w", err)
	}
	out := make([]candles.Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("kline %d: expected at least 6 fields, got %d", i, len(row))
		}
		vals := make([]float64, len(row))
		for j := range row {
			if j > 6 {
				break
			}
			v, err := number(row[j])
			if err != nil {
				return nil, fmt.Errorf("kline %d field %d: %w", i, j, err)
			}
			vals[j] = v
		}
		c := candles.Candle{
			OpenTime: int64(vals[0]),
			Open:     vals[1],
			High:     vals[2],
			Low:      vals[3],
			Close:    vals[4],
			Volume:   vals[5],
			Closed:   true,
		}
		if len(row) > 6 {
			c.CloseTime = int64(vals[6])
		}
		out = append(out, c)
	}
	return normalize(out, interval)
}

func number(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("unexpected value %v", v)
}

var csvColumns = map[string]string{
	"opentime": "openTime", "open_time": "openTime", "timestamp": "openTime", "time": "openTime",
	"closetime": "closeTime", "close_time": "closeTime",
	"open": "open", "high": "high", "low": "low", "close": "close", "volume": "volume",
}

// ParseCSV decodes rows with a header naming at least openTime, open, high,
// low and close. Times are unix milliseconds or RFC3339.
func ParseCSV(r io.Reader, interval time.Duration) ([]candles.Candle, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	idx := make(map[string]int)
	for i, h := range header {
		if name, ok := csvColumns[strings.ToLower(strings.TrimSpace(h))]; ok {
			idx[name] = i
		}
	}
	for _, required := range []string{"openTime", "open", "high", "low", "close"} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("CSV header missing %q column", required)
		}
	}

	var out []candles.Candle
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		field := func(name string) (float64, error) {
			i, ok := idx[name]
			if !ok || i >= len(rec) || rec[i] == "" {
				return 0, nil
			}
			return strconv.ParseFloat(rec[i], 64)
		}
		c := candles.Candle{Closed: true}
		if c.OpenTime, err = csvTime(rec[idx["openTime"]]); err != nil {
			return nil, fmt.Errorf("line %d openTime: %w", line, err)
		}
		if i, ok := idx["closeTime"]; ok && i < len(rec) && rec[i] != "" {
			if c.CloseTime, err = csvTime(rec[i]); err != nil {
				return nil, fmt.Errorf("line %d closeTime: %w", line, err)
			}
		}
		for _, p := range []struct {
			name string
			dst  *float64
		}{{"open", &c.Open}, {"high", &c.High}, {"low", &c.Low}, {"close", &c.Close}, {"volume", &c.Volume}} {
			if *p.dst, err = field(p.name); err != nil {
				return nil, fmt.Errorf("line %d %s: %w", line, p.name, err)
			}
		}
		out = append(out, c)
	}
	return normalize(out, interval)
}

func csvTime(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

// normalize fills close times, orders by close time and drops duplicates.
// Recorded bars are always treated as closed.
func normalize(cs []candles.Candle, interval time.Duration) ([]candles.Candle, error) {
	for i := range cs {
		if cs[i].CloseTime == 0 {
			if interval <= 0 {
				return nil, fmt.Errorf("candle %d has no close time and no interval was given", i)
			}
			cs[i].CloseTime = cs[i].OpenTime + interval.Milliseconds() - 1
		}
		cs[i].Closed = true
	}
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].CloseTime < cs[j].CloseTime })
	out := cs[:0]
	for _, c := range cs {
		if n := len(out); n > 0 && out[n-1].CloseTime == c.CloseTime {
			out[n-1] = c
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
