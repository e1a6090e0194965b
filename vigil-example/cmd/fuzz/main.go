// Command fuzz exercises a running plant server: it polls the status and
// feed endpoints, occasionally flips the monitoring session off and on, and
// acknowledges random recent alerts. Point it at a server started with
// vigil-example/cmd/server to shake out lifecycle and store edge cases.
package main

import (
	"encoding/json"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"
)

var (
	client  = &http.Client{Timeout: 5 * time.Second}
	baseURL = envOr("VIGIL_BASE_URL", "http://localhost:8080")
	dashURL = envOr("VIGIL_DASHBOARD_URL", "http://localhost:9090")
	opToken = os.Getenv("VIGIL_OPERATOR_TOKEN")
)

func main() {
	log.Printf("fuzzing %s (dashboard %s)", baseURL, dashURL)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	post(baseURL + "/api/monitor/start")

	for {
		switch n := rng.Intn(10); {
		case n < 5:
			get(baseURL + "/api/monitor/status")
		case n < 8:
			acknowledgeRandomAlert(rng)
		case n == 8:
			// Double-stop and double-start on purpose; both must be safe.
			post(baseURL + "/api/monitor/stop")
			post(baseURL + "/api/monitor/stop")
			post(baseURL + "/api/monitor/start")
		default:
			post(baseURL + "/api/monitor/start")
		}
		time.Sleep(time.Duration(200+rng.Intn(800)) * time.Millisecond)
	}
}

func acknowledgeRandomAlert(rng *rand.Rand) {
	resp, err := client.Get(dashURL + "/api/alerts")
	if err != nil {
		log.Printf("fetch alerts failed: %v", err)
		return
	}
	defer resp.Body.Close()

	var alerts []struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&alerts); err != nil || len(alerts) == 0 {
		return
	}
	id := alerts[rng.Intn(len(alerts))].ID
	post(dashURL + "/api/alerts/" + id + "/acknowledge")
}

func post(url string) {
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		log.Printf("POST %s: %v", url, err)
		return
	}
	if opToken != "" {
		req.Header.Set("X-Operator-Token", opToken)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Printf("POST %s: %v", url, err)
		return
	}
	resp.Body.Close()
	log.Printf("POST %s -> %d", url, resp.StatusCode)
}

func get(url string) {
	resp, err := client.Get(url)
	if err != nil {
		log.Printf("GET %s: %v", url, err)
		return
	}
	resp.Body.Close()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
