package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/vladislavdragonenkov/drops/internal/domain"
	"github.com/vladislavdragonenkov/drops/internal/messaging/kafka"
	grpcsvc "github.com/vladislavdragonenkov/drops/internal/service/grpc"
)

const (
	codeOK       = "OK"
	scenarioName = "scenario"
)

type loadMode string

const (
	modeReserve         loadMode = "reserve"
	modeReservePurchase loadMode = "reserve-purchase"
	modeReserveCancel   loadMode = "reserve-cancel"
)

type config struct {
	addr         string
	dropID       string
	users        int
	concurrency  int
	connections  int
	ttlSeconds   int
	timeout      time.Duration
	mode         loadMode
	userTag      string
	outputPath   string
	watchBrokers []string
	watchGrace   time.Duration
}

// reservationClient: часть grpcsvc.Client, которой пользуется нагрузка.
type reservationClient interface {
	Reserve(ctx context.Context, req *grpcsvc.ReserveRequest, opts ...grpc.CallOption) (*grpcsvc.ReserveResponse, error)
	Purchase(ctx context.Context, req *grpcsvc.PurchaseRequest, opts ...grpc.CallOption) (*grpcsvc.PurchaseResponse, error)
	Cancel(ctx context.Context, req *grpcsvc.CancelRequest, opts ...grpc.CallOption) (*grpcsvc.CancelResponse, error)
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type eventsReport struct {
	Counts    map[string]int64 `json:"counts"`
	LastStock *int             `json:"last_stock,omitempty"`
}

type report struct {
	StartedAt       time.Time               `json:"started_at"`
	DurationSeconds float64                 `json:"duration_seconds"`
	DropID          string                  `json:"drop_id"`
	Mode            loadMode                `json:"mode"`
	Users           int                     `json:"users"`
	Outcomes        map[string]int64        `json:"outcomes"`
	Methods         map[string]methodReport `json:"methods"`
	Events          *eventsReport           `json:"events,omitempty"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

func (c *collector) record(method string, latency time.Duration, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if code == codeOK {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(cfg config, startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		DropID:          cfg.dropID,
		Mode:            cfg.mode,
		Users:           cfg.users,
		Outcomes:        map[string]int64{},
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		if name == scenarioName {
			result.Outcomes = codesCopy
			continue
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig(fs *flag.FlagSet, args []string) (config, error) {
	var cfg config
	var modeValue string
	var brokersValue string

	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	fs.StringVar(&cfg.dropID, "drop", "", "drop id to contend on (required)")
	fs.IntVar(&cfg.users, "users", 50, "number of distinct users reserving concurrently")
	fs.IntVar(&cfg.concurrency, "concurrency", 0, "number of concurrent workers (0 = one per user)")
	fs.IntVar(&cfg.connections, "connections", 4, "number of gRPC client connections")
	fs.IntVar(&cfg.ttlSeconds, "ttl-seconds", 0, "reservation TTL in seconds (0 = server default)")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	fs.StringVar(&modeValue, "mode", string(modeReserve), "load mode: reserve | reserve-purchase | reserve-cancel")
	fs.StringVar(&cfg.userTag, "user-tag", "load", "user id prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	fs.StringVar(&brokersValue, "watch", "", "optional comma-separated Kafka brokers to tally drop events")
	fs.DurationVar(&cfg.watchGrace, "watch-grace", 3*time.Second, "how long to keep consuming events after the load finished")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	for _, b := range strings.Split(brokersValue, ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.watchBrokers = append(cfg.watchBrokers, b)
		}
	}

	cfg.dropID = strings.TrimSpace(cfg.dropID)
	if cfg.dropID == "" {
		return cfg, errors.New("drop is required")
	}
	if cfg.users <= 0 {
		return cfg, errors.New("users must be > 0")
	}
	if cfg.concurrency < 0 {
		return cfg, errors.New("concurrency must be >= 0")
	}
	if cfg.concurrency == 0 || cfg.concurrency > cfg.users {
		cfg.concurrency = cfg.users
	}
	if cfg.connections <= 0 {
		return cfg, errors.New("connections must be > 0")
	}
	if cfg.ttlSeconds < 0 {
		return cfg, errors.New("ttl-seconds must be >= 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.watchGrace < 0 {
		return cfg, errors.New("watch-grace must be >= 0")
	}
	if strings.TrimSpace(cfg.userTag) == "" {
		return cfg, errors.New("user-tag is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeReserve:
		return modeReserve, nil
	case modeReservePurchase:
		return modeReservePurchase, nil
	case modeReserveCancel:
		return modeReserveCancel, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	conns := make([]*grpc.ClientConn, 0, cfg.connections)
	clients := make([]reservationClient, 0, cfg.connections)
	for i := 0; i < cfg.connections; i++ {
		conn, dialErr := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if dialErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to create grpc client connection: %v\n", dialErr)
			os.Exit(1)
		}
		conns = append(conns, conn)
		clients = append(clients, grpcsvc.NewClient(conn))
	}
	defer func() {
		for _, conn := range conns {
			_ = conn.Close()
		}
	}()

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())

	var tally *eventTally
	var stopWatch func()
	if len(cfg.watchBrokers) > 0 {
		tally = newEventTally(cfg.dropID, startedAt)
		stopWatch, err = startWatch(cfg.watchBrokers, "drops-loadtest-"+runID, tally)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to start event watch: %v\n", err)
			os.Exit(1)
		}
	}

	col := runLoad(clients, cfg, runID)
	duration := time.Since(startedAt)

	if stopWatch != nil {
		time.Sleep(cfg.watchGrace)
		stopWatch()
	}

	result := col.buildReport(cfg, startedAt, duration)
	if tally != nil {
		events := tally.report()
		result.Events = &events
	}

	printReport(os.Stdout, result)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if hasUnexpectedOutcomes(result) {
		os.Exit(1)
	}
}

// runLoad запускает cfg.users сценариев; воркеры стартуют одновременно,
// чтобы резервы конкурировали за одну строку дропа.
func runLoad(clients []reservationClient, cfg config, runID string) *collector {
	col := newCollector()
	jobs := make(chan int, cfg.users)
	for i := 0; i < cfg.users; i++ {
		jobs <- i
	}
	close(jobs)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func(cli reservationClient) {
			defer wg.Done()
			<-start
			for index := range jobs {
				_ = runScenario(cli, cfg, index, runID, col)
			}
		}(clients[workerID%len(clients)])
	}

	close(start)
	wg.Wait()
	return col
}

func runScenario(client reservationClient, cfg config, index int, runID string, col *collector) error {
	scenarioStart := time.Now()
	scenarioCode := codeOK
	defer func() {
		col.record(scenarioName, time.Since(scenarioStart), scenarioCode)
	}()

	userID := fmt.Sprintf("%s-%s-%d", cfg.userTag, runID, index)

	reserved, err := callReserve(client, cfg, userID, col)
	if err != nil {
		scenarioCode = outcomeCode(err)
		return err
	}

	switch cfg.mode {
	case modeReservePurchase:
		if err := callPurchase(client, cfg, userID, col); err != nil {
			scenarioCode = outcomeCode(err)
			return err
		}
	case modeReserveCancel:
		if err := callCancel(client, cfg, userID, reserved.Reservation.ID, col); err != nil {
			scenarioCode = outcomeCode(err)
			return err
		}
	}

	return nil
}

func callReserve(client reservationClient, cfg config, userID string, col *collector) (*grpcsvc.ReserveResponse, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	resp, err := client.Reserve(grpcsvc.WithCaller(ctx, userID, ""), &grpcsvc.ReserveRequest{
		DropID:     cfg.dropID,
		TTLSeconds: cfg.ttlSeconds,
	})
	col.record("Reserve", time.Since(start), outcomeCode(err))
	return resp, err
}

func callPurchase(client reservationClient, cfg config, userID string, col *collector) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	_, err := client.Purchase(grpcsvc.WithCaller(ctx, userID, userID), &grpcsvc.PurchaseRequest{DropID: cfg.dropID})
	col.record("Purchase", time.Since(start), outcomeCode(err))
	return err
}

func callCancel(client reservationClient, cfg config, userID, reservationID string, col *collector) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	_, err := client.Cancel(grpcsvc.WithCaller(ctx, userID, ""), &grpcsvc.CancelRequest{ReservationID: reservationID})
	col.record("Cancel", time.Since(start), outcomeCode(err))
	return err
}

// outcomeCode: код домена из ошибки или OK.
func outcomeCode(err error) string {
	if err == nil {
		return codeOK
	}
	return string(grpcsvc.CodeFromError(err))
}

// hasUnexpectedOutcomes: OUT_OF_STOCK и прочие отказы домена: штатный исход
// распродажи, а INTERNAL означает сбой сервиса или транспорта.
func hasUnexpectedOutcomes(result report) bool {
	return result.Outcomes[string(domain.CodeInternal)] > 0
}

// eventTally считает события по одному дропу, пришедшие после старта нагрузки.
type eventTally struct {
	dropID    string
	since     time.Time
	mu        sync.Mutex
	counts    map[string]int64
	lastStock *int
}

func newEventTally(dropID string, since time.Time) *eventTally {
	return &eventTally{dropID: dropID, since: since.UTC(), counts: make(map[string]int64)}
}

func (t *eventTally) handle(_ context.Context, envelope kafka.Envelope) error {
	if envelope.DropID != t.dropID || envelope.OccurredAt.Before(t.since) {
		return nil
	}
	stock, ok, err := envelope.StockLevel()
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[string(envelope.EventType)]++
	if ok {
		level := stock.AvailableStock
		t.lastStock = &level
	}
	return nil
}

func (t *eventTally) report() eventsReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	counts := make(map[string]int64, len(t.counts))
	for k, v := range t.counts {
		counts[k] = v
	}
	return eventsReport{Counts: counts, LastStock: t.lastStock}
}

// startWatch читает drops.events с начала в отдельной группе и
// отсекает старые события по OccurredAt.
func startWatch(brokers []string, groupID string, tally *eventTally) (func(), error) {
	consumer, err := kafka.NewConsumer(brokers, groupID, nil, true, tally.handle)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := consumer.Start(ctx); err != nil {
		cancel()
		return nil, err
	}

	return func() {
		cancel()
		if err := consumer.Stop(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to stop event watch: %v\n", err)
		}
	}, nil
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "drop=%s mode=%s users=%d duration=%.2fs\n",
		result.DropID, result.Mode, result.Users, result.DurationSeconds)

	_, _ = fmt.Fprintf(w, "outcomes: %s\n", formatCounts(result.Outcomes))

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w, "%s: calls=%d success=%d failed=%d p50=%.2fms p95=%.2fms codes=%s\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.LatencyMs.P50,
			stats.LatencyMs.P95,
			formatCounts(stats.Codes),
		)
	}

	if result.Events != nil {
		_, _ = fmt.Fprintf(w, "events: %s", formatCounts(result.Events.Counts))
		if result.Events.LastStock != nil {
			_, _ = fmt.Fprintf(w, " last_stock=%d", *result.Events.LastStock)
		}
		_, _ = fmt.Fprintln(w)
	}
}

func formatCounts(counts map[string]int64) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}
