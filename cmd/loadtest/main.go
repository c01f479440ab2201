package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Нагрузочный сценарий: много покупателей конкурируют за один товар с
// ограниченным остатком. Проверяем, что сумма выкупленных единиц никогда
// не превышает начальный остаток (no-oversell) и считаем латентность.
type config struct {
	baseURL     string
	secret      string
	buyers      int
	qtyPerBuyer int32
	stock       int32
	priceMinor  int64
	timeout     time.Duration
}

type purchaseOutcome struct {
	Outcome string `json:"outcome"`
	Receipt *struct {
		ID          string `json:"id"`
		AmountMinor int64  `json:"amount_minor"`
		Lines       []struct {
			Qty int32 `json:"qty"`
		} `json:"lines"`
	} `json:"receipt"`
}

func main() {
	cfg := config{}
	flag.StringVar(&cfg.baseURL, "addr", "http://localhost:8080", "base URL of the checkout service")
	flag.StringVar(&cfg.secret, "secret", "dev-secret", "JWT secret shared with the service")
	flag.IntVar(&cfg.buyers, "buyers", 50, "number of concurrent buyers")
	var qty, stock int
	flag.IntVar(&qty, "qty", 1, "units each buyer puts in the cart")
	flag.IntVar(&stock, "stock", 10, "initial stock of the contested product")
	flag.Int64Var(&cfg.priceMinor, "price", 1000, "unit price in minor units")
	flag.DurationVar(&cfg.timeout, "timeout", 10*time.Second, "per-request timeout")
	flag.Parse()
	cfg.qtyPerBuyer = int32(qty)
	cfg.stock = int32(stock)

	client := &http.Client{Timeout: cfg.timeout}

	adminToken, err := signToken(cfg.secret, "loadtest-admin", "admin")
	if err != nil {
		fail("sign admin token: %v", err)
	}

	productID, err := seedProduct(client, cfg, adminToken)
	if err != nil {
		fail("seed product: %v", err)
	}
	fmt.Printf("product %s seeded: stock=%d price=%d\n", productID, cfg.stock, cfg.priceMinor)

	var (
		wg           sync.WaitGroup
		purchasedQty atomic.Int64
		fullCount    atomic.Int64
		failedCount  atomic.Int64
		errorCount   atomic.Int64
		latenciesMu  sync.Mutex
		latenciesMs  []float64
	)

	start := time.Now()
	for i := 0; i < cfg.buyers; i++ {
		wg.Add(1)
		go func(buyer int) {
			defer wg.Done()

			token, err := signToken(cfg.secret, fmt.Sprintf("buyer-%d", buyer), "user")
			if err != nil {
				errorCount.Add(1)
				return
			}

			callStart := time.Now()
			outcome, err := buyOnce(client, cfg, token, productID)
			latency := float64(time.Since(callStart).Milliseconds())

			latenciesMu.Lock()
			latenciesMs = append(latenciesMs, latency)
			latenciesMu.Unlock()

			if err != nil {
				errorCount.Add(1)
				return
			}
			switch outcome.Outcome {
			case "fully_fulfilled", "partially_fulfilled":
				fullCount.Add(1)
				if outcome.Receipt != nil {
					for _, line := range outcome.Receipt.Lines {
						purchasedQty.Add(int64(line.Qty))
					}
				}
			default:
				failedCount.Add(1)
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	fmt.Printf("buyers=%d elapsed=%s rps=%.1f\n", cfg.buyers, elapsed, float64(cfg.buyers)/elapsed.Seconds())
	fmt.Printf("fulfilled=%d all_failed=%d errors=%d purchased_units=%d\n",
		fullCount.Load(), failedCount.Load(), errorCount.Load(), purchasedQty.Load())
	printLatency(latenciesMs)

	if purchasedQty.Load() > int64(cfg.stock) {
		fail("OVERSELL: purchased %d units with stock %d", purchasedQty.Load(), cfg.stock)
	}
	fmt.Println("no oversell detected")
}

// seedProduct создаёт спорный товар через админский API.
func seedProduct(client *http.Client, cfg config, adminToken string) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"code":        fmt.Sprintf("LOAD-%d", time.Now().UnixNano()),
		"title":       "Load test product",
		"price_minor": cfg.priceMinor,
		"stock":       cfg.stock,
	})

	resp, err := doJSON(client, http.MethodPost, cfg.baseURL+"/api/products/", adminToken, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, raw)
	}

	var product struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
		return "", err
	}
	return product.ID, nil
}

// buyOnce выполняет полный путь покупателя: корзина, позиция, оформление.
func buyOnce(client *http.Client, cfg config, token, productID string) (purchaseOutcome, error) {
	var out purchaseOutcome

	resp, err := doJSON(client, http.MethodGet, cfg.baseURL+"/api/carts/", token, nil)
	if err != nil {
		return out, err
	}
	var cart struct {
		ID string `json:"id"`
	}
	err = json.NewDecoder(resp.Body).Decode(&cart)
	resp.Body.Close()
	if err != nil {
		return out, err
	}

	body, _ := json.Marshal(map[string]int32{"qty": cfg.qtyPerBuyer})
	resp, err = doJSON(client, http.MethodPost, cfg.baseURL+"/api/carts/"+cart.ID+"/products/"+productID, token, body)
	if err != nil {
		return out, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return out, fmt.Errorf("add line: status %d", resp.StatusCode)
	}

	resp, err = doJSON(client, http.MethodPost, cfg.baseURL+"/api/carts/"+cart.ID+"/purchase", token, nil)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("purchase: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

func doJSON(client *http.Client, method, url, token string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return client.Do(req)
}

func signToken(secret, userID, role string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   userID,
		"email": userID + "@loadtest.local",
		"role":  role,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	})
	return token.SignedString([]byte(secret))
}

func printLatency(latencies []float64) {
	if len(latencies) == 0 {
		return
	}
	sort.Float64s(latencies)
	p := func(q float64) float64 {
		idx := int(q * float64(len(latencies)-1))
		return latencies[idx]
	}
	fmt.Printf("latency ms: min=%.0f p50=%.0f p95=%.0f p99=%.0f max=%.0f\n",
		latencies[0], p(0.50), p(0.95), p(0.99), latencies[len(latencies)-1])
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
