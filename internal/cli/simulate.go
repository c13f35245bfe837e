package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/angelmondragon/akua-anchor/internal/ingest"
	"github.com/angelmondragon/akua-anchor/pkg/pubsub"
)

// TopicPublisher sends one message and waits for the broker ack.
type TopicPublisher interface {
	Send(ctx context.Context, data []byte, attrs map[string]string) error
}

type gcpTopic struct {
	pub *gcppubsub.Publisher
}

func (t gcpTopic) Send(ctx context.Context, data []byte, attrs map[string]string) error {
	_, err := t.pub.Publish(ctx, &gcppubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
	return err
}

var simDevices = []string{"AKUA-SIM-001", "AKUA-SIM-002", "AKUA-SIM-003", "AKUA-SIM-004"}

type simulateOptions struct {
	count     int
	rate      float64
	duplicate float64
	report    bool
	seed      int64
}

// LatencyStats summarises publish latencies in milliseconds.
type LatencyStats struct {
	Min float64 `json:"min"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

// SimulationReport is printed as JSON with --report.
type SimulationReport struct {
	Count      int          `json:"count"`
	Rate       float64      `json:"rate"`
	Duplicate  float64      `json:"duplicate"`
	Sent       int          `json:"sent"`
	Failed     int          `json:"failed"`
	Duplicates int          `json:"duplicates"`
	DurationMs int64        `json:"durationMs"`
	Latency    LatencyStats `json:"latencyMs"`
	Timestamp  string       `json:"timestamp"`
}

func newSimulateCommand(app *App) *cobra.Command {
	var opts simulateOptions
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Publish synthetic telemetry to the input topic and report latency",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.count <= 0 || opts.rate <= 0 {
				return errors.New("--count and --rate must be positive")
			}
			if opts.duplicate < 0 || opts.duplicate > 1 {
				return errors.New("--duplicate must be within [0,1]")
			}
			ctx := cmd.Context()
			topic, closeTopic, err := app.inputTopic(ctx)
			if err != nil {
				return err
			}
			defer closeTopic()

			w := cmd.OutOrStdout()
			printf(w, "Messages: %d\nRate: %.2f msgs/sec\nDuplicate probability: %.1f%%\nTopic: %s\n\n",
				opts.count, opts.rate, opts.duplicate*100, app.Config.PubSub.InTopic)

			report, err := simulate(ctx, topic, opts, w, time.Now)
			if err != nil {
				return err
			}
			printReport(w, report, opts.report)
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.count, "count", 10, "number of messages to send")
	cmd.Flags().Float64Var(&opts.rate, "rate", 1, "messages per second")
	cmd.Flags().Float64Var(&opts.duplicate, "duplicate", 0, "probability of resending the previous payload")
	cmd.Flags().BoolVar(&opts.report, "report", false, "print a JSON report")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "random seed (0 uses the clock)")
	return cmd
}

func (a *App) inputTopic(ctx context.Context) (TopicPublisher, func(), error) {
	if a.Topic != nil {
		return a.Topic, func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, a.Config.GCP, a.Config.PubSub, pubsub.Requirements{
		Topics: []string{a.Config.PubSub.InTopic},
	}, a.Logger)
	if err != nil {
		return nil, nil, err
	}
	pub := client.Publisher(a.Config.PubSub.InTopic)
	if pub == nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("input topic %q not configured", a.Config.PubSub.InTopic)
	}
	return gcpTopic{pub: pub}, func() {
		pub.Stop()
		_ = client.Close()
	}, nil
}

func simulate(ctx context.Context, topic TopicPublisher, opts simulateOptions, progress io.Writer, now func() time.Time) (SimulationReport, error) {
	seed := opts.seed
	if seed == 0 {
		seed = now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	limiter := rate.NewLimiter(rate.Limit(opts.rate), 1)

	report := SimulationReport{Count: opts.count, Rate: opts.rate, Duplicate: opts.duplicate}
	latencies := make([]time.Duration, 0, opts.count)
	var last []byte
	started := now()

	for i := 0; i < opts.count; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return report, err
		}

		body := last
		if last != nil && rng.Float64() < opts.duplicate {
			report.Duplicates++
		} else {
			var err error
			if body, err = json.Marshal(simPayload(i, rng, now())); err != nil {
				return report, err
			}
			last = body
		}

		attrs := map[string]string{ingest.AttrCorrelationID: uuid.NewString()}
		sentAt := now()
		if err := topic.Send(ctx, body, attrs); err != nil {
			report.Failed++
			printf(progress, "publish %d failed: %v\n", i, err)
		} else {
			report.Sent++
			latencies = append(latencies, now().Sub(sentAt))
		}
		if (i+1)%10 == 0 {
			printf(progress, "Progress: %d/%d\n", i+1, opts.count)
		}
	}

	report.DurationMs = now().Sub(started).Milliseconds()
	report.Latency = ComputeLatencyStats(latencies)
	report.Timestamp = now().UTC().Format(time.RFC3339)
	return report, nil
}

func simPayload(i int, rng *rand.Rand, ts time.Time) map[string]any {
	return map[string]any{
		"deviceId": simDevices[i%len(simDevices)],
		"tempC":    15 + rng.Float64()*20,
		"humidity": 40 + rng.Float64()*40,
		"pressure": 980 + rng.Float64()*60,
		"ts":       ts.UTC().Format(ingest.TimestampLayout),
		"seqNum":   i,
	}
}

// ComputeLatencyStats returns nearest-rank percentiles; zero for no samples.
func ComputeLatencyStats(values []time.Duration) LatencyStats {
	if len(values) == 0 {
		return LatencyStats{}
	}
	ms := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		ms[i] = float64(v) / float64(time.Millisecond)
		sum += ms[i]
	}
	sort.Float64s(ms)
	at := func(q float64) float64 {
		idx := int(float64(len(ms)) * q)
		if idx >= len(ms) {
			idx = len(ms) - 1
		}
		return ms[idx]
	}
	return LatencyStats{
		Min: ms[0],
		Avg: sum / float64(len(ms)),
		P50: at(0.50),
		P95: at(0.95),
		P99: at(0.99),
		Max: ms[len(ms)-1],
	}
}

func printReport(w io.Writer, r SimulationReport, asJSON bool) {
	printf(w, "\n=== Results ===\n")
	printf(w, "Duration: %.2fs\nSent: %d\nFailed: %d\nDuplicates: %d\n",
		float64(r.DurationMs)/1000, r.Sent, r.Failed, r.Duplicates)
	if r.DurationMs > 0 {
		printf(w, "Actual rate: %.2f msgs/sec\n", float64(r.Sent)/(float64(r.DurationMs)/1000))
	}
	printf(w, "\n=== Publish latency (ms) ===\nMin: %.2f\nAvg: %.2f\np50: %.2f\np95: %.2f\np99: %.2f\nMax: %.2f\n",
		r.Latency.Min, r.Latency.Avg, r.Latency.P50, r.Latency.P95, r.Latency.P99, r.Latency.Max)
	if !asJSON {
		return
	}
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return
	}
	printf(w, "\n=== JSON report ===\n%s\n", raw)
}
