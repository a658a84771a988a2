// README: Benchmark cases: Postgres/Redis reachability, schema, public API, the accept race and catalog throughput.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"hometaste/internal/infra"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: pingDB},
		{Name: "Env: Redis connect", Run: pingRedis},
		{Name: "Migration: apply (optional)", Run: applyMigrations},
		{Name: "Migration: tables exist", Run: tablesExist},
		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/health", "", nil, http.StatusOK)
		}},
		{Name: "API: meal catalog is public", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/api/meals?limit=5", "", nil, http.StatusOK)
		}},
		{Name: "API: orders need a token", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPost, "/api/orders", "", map[string]any{}, http.StatusUnauthorized)
		}},
		{Name: "Flow: concurrent accept assigns one partner", Run: concurrentAccept},
		{Name: "Perf: meal catalog throughput", Run: func(ctx context.Context, r *Runner) Result {
			return perfLoad(ctx, r, "/api/meals?limit=12")
		}},
	}
}

func pingDB(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusFail, Note: "db not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass}
}

func pingRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: statusFail, Note: "redis not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass}
}

func applyMigrations(_ context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return Result{Status: statusSkip, Note: "apply-migration=false"}
	}
	if err := infra.Migrate(r.cfg.DSN); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass}
}

func tablesExist(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusFail, Note: "db not configured"}
	}
	tables, err := extractTables(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
			t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: statusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: statusPass, Note: fmt.Sprintf("%d tables", len(tables))}
}

// call sends one request and decodes a JSON body into out when out is non-nil.
func (r *Runner) call(ctx context.Context, method, path, token string, body, out any) (int, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	latency := time.Since(start)
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, latency, err
		}
		return resp.StatusCode, latency, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, latency, nil
}

func (r *Runner) expect(ctx context.Context, method, path, token string, body any, want int) Result {
	code, latency, err := r.call(ctx, method, path, token, body, nil)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if code != want {
		return Result{Status: statusFail, Latency: latency, Note: fmt.Sprintf("status=%d want=%d", code, want)}
	}
	return Result{Status: statusPass, Latency: latency}
}

// concurrentAccept places an order, walks it to ready_for_pickup and lets every partner
// accept it at once. Exactly one accept may succeed.
func concurrentAccept(ctx context.Context, r *Runner) Result {
	cfg := r.cfg
	if cfg.CustomerToken == "" || cfg.KitchenToken == "" || len(cfg.PartnerTokens) < 2 || cfg.MealID == "" || cfg.SlotDate == "" {
		return Result{Status: statusSkip, Note: "needs customer, kitchen and two or more partner tokens plus -meal and -slot-date"}
	}
	var placed struct {
		Order struct {
			ID string `json:"id"`
		} `json:"order"`
	}
	code, _, err := r.call(ctx, http.MethodPost, "/api/orders", cfg.CustomerToken, map[string]any{
		"items":           []map[string]any{{"meal": cfg.MealID, "quantity": 1}},
		"deliveryAddress": map[string]any{"street": "Baneshwor", "city": "Kathmandu"},
		"scheduledTime":   map[string]any{"date": cfg.SlotDate, "startTime": cfg.SlotStart},
		"paymentMethod":   "cash",
	}, &placed)
	if err != nil || code != http.StatusCreated {
		return Result{Status: statusFail, Note: fmt.Sprintf("place: status=%d err=%v", code, err)}
	}
	id := placed.Order.ID
	for _, s := range []string{"confirmed", "preparing", "ready_for_pickup"} {
		code, _, err := r.call(ctx, http.MethodPut, "/api/orders/"+id+"/status", cfg.KitchenToken, map[string]any{"status": s}, nil)
		if err != nil || code != http.StatusOK {
			return Result{Status: statusFail, Note: fmt.Sprintf("%s: status=%d err=%v", s, code, err)}
		}
	}

	var ok, conflict atomic.Int32
	start := make(chan struct{})
	var wg sync.WaitGroup
	began := time.Now()
	for _, tok := range cfg.PartnerTokens {
		wg.Add(1)
		go func(tok string) {
			defer wg.Done()
			<-start
			code, _, err := r.call(ctx, http.MethodPost, "/api/delivery/accept/"+id, tok, nil, nil)
			switch {
			case err != nil:
			case code == http.StatusOK:
				ok.Add(1)
			case code == http.StatusBadRequest:
				conflict.Add(1)
			}
		}(tok)
	}
	close(start)
	wg.Wait()

	note := fmt.Sprintf("order=%s accepted=%d rejected=%d", id, ok.Load(), conflict.Load())
	if ok.Load() != 1 || int(conflict.Load()) != len(cfg.PartnerTokens)-1 {
		return Result{Status: statusFail, Note: note}
	}
	return Result{Status: statusPass, Latency: time.Since(began), Note: note}
}

func perfLoad(ctx context.Context, r *Runner, path string) Result {
	end := time.Now().Add(r.cfg.Duration)
	var (
		mu        sync.Mutex
		latencies []time.Duration
		errCount  atomic.Int64
		wg        sync.WaitGroup
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				code, latency, err := r.call(ctx, http.MethodGet, path, "", nil, nil)
				if err != nil || code != http.StatusOK {
					errCount.Add(1)
					continue
				}
				mu.Lock()
				latencies = append(latencies, latency)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(latencies) == 0 {
		return Result{Status: statusFail, Note: "no requests completed"}
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	p95 := latencies[len(latencies)*95/100]
	rps := float64(len(latencies)) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Latency: p95, Note: fmt.Sprintf("rps=%.1f p95=%s errors=%d", rps, p95, errCount.Load())}
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}
