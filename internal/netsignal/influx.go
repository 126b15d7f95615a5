package netsignal

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxapi "github.com/influxdata/influxdb-client-go/v2/api"
)

// Traffic ladder thresholds over the lookback window. An entity trips a
// tier when either its byte or packet volume exceeds the tier's floor.
const (
	lookbackWindow = 5 * time.Minute

	bytesCritical   = 8 << 20 // 8 MiB
	packetsCritical = 15000
	riskCritical    = 0.95

	bytesHigh   = 4 << 20 // 4 MiB
	packetsHigh = 8000
	riskHigh    = 0.85

	bytesElevated   = 1536 << 10 // 1.5 MiB
	packetsElevated = 3000
	riskElevated    = 0.60

	riskBaseline = 0.05
)

// queryAPI is the subset of the InfluxDB query client we use.
type queryAPI interface {
	Query(ctx context.Context, query string) (*influxapi.QueryTableResult, error)
}

// InfluxSource reads per-entity traffic aggregates from an InfluxDB bucket
// and maps them onto the risk ladder.
type InfluxSource struct {
	client influxdb2.Client
	query  queryAPI
	bucket string
}

// NewInfluxSource connects to InfluxDB and prepares the query API.
// Close must be called when the source is no longer needed.
func NewInfluxSource(url, token, org, bucket string) *InfluxSource {
	client := influxdb2.NewClient(url, token)
	return &InfluxSource{
		client: client,
		query:  client.QueryAPI(org),
		bucket: bucket,
	}
}

func (s *InfluxSource) Name() string { return "influx" }

// Close releases the underlying InfluxDB client.
func (s *InfluxSource) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// Fetch sums bytes_in and packets_in per entity over the lookback window
// and scores each entity on the ladder.
func (s *InfluxSource) Fetch(ctx context.Context) ([]Signal, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		  |> range(start: -%s)
		  |> filter(fn: (r) => r._measurement == "netflow")
		  |> filter(fn: (r) => r._field == "bytes_in" or r._field == "packets_in")
		  |> group(columns: ["entity", "_field"])
		  |> sum()
		  |> pivot(rowKey: ["entity"], columnKey: ["_field"], valueColumn: "_value")
	`, s.bucket, lookbackWindow)

	result, err := s.query.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("influx query failed: %w", err)
	}

	var signals []Signal
	for result.Next() {
		record := result.Record()
		entity, ok := record.ValueByKey("entity").(string)
		if !ok || entity == "" {
			continue
		}
		bytesIn := asInt64(record.ValueByKey("bytes_in"))
		packetsIn := asInt64(record.ValueByKey("packets_in"))
		signals = append(signals, Signal{
			Entity:     entity,
			Risk:       ScoreTraffic(bytesIn, packetsIn),
			BytesIn:    bytesIn,
			PacketsIn:  packetsIn,
			WindowSecs: int(lookbackWindow / time.Second),
		})
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("error reading influx results: %w", result.Err())
	}
	return signals, nil
}

// ScoreTraffic maps traffic volume onto the risk ladder. Tiers are checked
// highest first; bytes and packets are alternative triggers.
func ScoreTraffic(bytesIn, packetsIn int64) float64 {
	switch {
	case bytesIn > bytesCritical || packetsIn > packetsCritical:
		return riskCritical
	case bytesIn > bytesHigh || packetsIn > packetsHigh:
		return riskHigh
	case bytesIn > bytesElevated || packetsIn > packetsElevated:
		return riskElevated
	default:
		return riskBaseline
	}
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}
