package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	accounts    int
)

// Metrics
var (
	totalRequests uint64
	charged       uint64 // ok=true
	refused       uint64 // ok=false guidance
	fail4xx       uint64
	failOther     uint64
)

const hotspotIdentity = "+393000000000"

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&accounts, "accounts", 1000, "Seeded account count")
}

type analyzeResponse struct {
	OK      bool  `json:"ok"`
	Credits int64 `json:"credits"`
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	doc, err := samplePNG()
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error { return worker(ctx, doc) })
	}
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
	elapsed := time.Since(start)

	if workload == "hotspot" {
		if err := checkHotspot(); err != nil {
			log.Fatal(err)
		}
	}
	printResults(elapsed)
}

func worker(ctx context.Context, doc []byte) error {
	client := &http.Client{Timeout: 30 * time.Second}

	for ctx.Err() == nil {
		body, contentType, err := uploadBody(pickIdentity(), doc)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, "POST", targetURL+"/api/v1/analyze", body)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch {
		case resp.StatusCode == http.StatusOK:
			var out analyzeResponse
			if json.NewDecoder(resp.Body).Decode(&out) == nil && out.OK {
				atomic.AddUint64(&charged, 1)
			} else {
				atomic.AddUint64(&refused, 1)
			}
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			atomic.AddUint64(&fail4xx, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
	return nil
}

func pickIdentity() string {
	if workload == "hotspot" && rand.Float32() < 0.90 {
		// Hotspot: 90% of traffic goes to one account
		return hotspotIdentity
	}
	// Matches the seeder's identity pattern.
	return fmt.Sprintf("+39300%07d", rand.Intn(accounts))
}

func uploadBody(phone string, doc []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("phone", phone); err != nil {
		return nil, "", err
	}
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="bench.png"`)
	hdr.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(doc); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// samplePNG draws a few dark bars on white so OCR has something to chew on.
func samplePNG() ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, 400, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 400; x++ {
			c := uint8(255)
			if y%30 < 12 && x%40 < 30 {
				c = 20
			}
			img.SetGray(x, y, color.Gray{Y: c})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// checkHotspot fails when the contended account went negative.
func checkHotspot() error {
	resp, err := http.Get(targetURL + "/api/v1/credits?phone=" + url.QueryEscape(hotspotIdentity))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	if out.Credits < 0 {
		return fmt.Errorf("hotspot balance went negative: %d", out.Credits)
	}
	log.Printf("Hotspot account %s ends with %d credits", hotspotIdentity, out.Credits)
	return nil
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	ok := atomic.LoadUint64(&charged)
	soft := atomic.LoadUint64(&refused)
	f4xx := atomic.LoadUint64(&fail4xx)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	var refusalRate float64
	if total > 0 {
		refusalRate = float64(soft) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":         workload,
		"duration_sec":     d.Seconds(),
		"total_requests":   total,
		"throughput_tps":   tps,
		"charged":          ok,
		"refused":          soft,
		"refusal_rate_pct": refusalRate,
		"client_errors":    f4xx,
		"errors":           fErr,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("Could not save results: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
