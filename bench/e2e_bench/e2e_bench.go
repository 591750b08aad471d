package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"
)

// postResp is the subset of the tweet creation response the bench reads.
type postResp struct {
	ID string `json:"id"`
}

// page mirrors a timeline page.
type page struct {
	Tweets []struct {
		ID string `json:"id"`
	} `json:"tweets"`
}

type postRecord struct {
	ID     string
	Author string
	Posted time.Time
}

func main() {
	// CLI flags
	var serverAddr, certFile, keyFile string
	var users, follows, posts, concurrency, pollTimeout int

	flag.StringVar(&serverAddr, "server", "http://localhost:8080", "server base URL")
	flag.StringVar(&certFile, "cert", "", "client certificate (optional)")
	flag.StringVar(&keyFile, "key", "", "client key (optional)")
	flag.IntVar(&users, "users", 50, "number of users to create")
	flag.IntVar(&follows, "follows", 10, "average follows per user")
	flag.IntVar(&posts, "posts", 100, "number of tweets to publish")
	flag.IntVar(&concurrency, "c", 20, "concurrency for posting")
	flag.IntVar(&pollTimeout, "timeout", 10, "seconds to wait for timeline delivery")
	flag.Parse()

	ctx := context.Background()
	client := newClient(certFile, keyFile)

	// --- 1) Create users ---
	fmt.Printf("Creating %d users...\n", users)
	names := make([]string, 0, users)
	run := time.Now().UnixNano()
	for i := 0; i < users; i++ {
		name := fmt.Sprintf("bench-%d-%d", run, i)
		if err := send(ctx, client, http.MethodPost, serverAddr+"/users",
			map[string]string{"username": name, "password": "bench"}, http.StatusCreated, nil); err != nil {
			fmt.Printf("create user error: %v\n", err)
			os.Exit(1)
		}
		names = append(names, name)
	}

	// --- 2) Follow random users; followers[x] is who should see x's tweets ---
	fmt.Printf("Creating follows (~%d per user)...\n", follows)
	followers := make(map[string][]string)
	for _, u := range names {
		var targets []string
		for j := 0; j < follows; j++ {
			if f := names[rand.Intn(len(names))]; f != u {
				targets = append(targets, f)
			}
		}
		if len(targets) == 0 {
			continue
		}
		if err := send(ctx, client, http.MethodPost, serverAddr+"/users/"+u+"/friends",
			map[string][]string{"usernames": targets}, http.StatusNoContent, nil); err != nil {
			fmt.Printf("follow error: %v\n", err)
			os.Exit(1)
		}
		for _, f := range targets {
			followers[f] = append(followers[f], u)
		}
	}

	// --- 3) Publish tweets concurrently ---
	fmt.Printf("Publishing %d tweets with concurrency %d...\n", posts, concurrency)
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)
	postsCh := make(chan postRecord, posts)

	for i := 0; i < posts; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			author := names[rand.Intn(len(names))]
			var pr postResp
			posted := time.Now()
			if err := send(ctx, client, http.MethodPost, serverAddr+"/users/"+author+"/tweets",
				map[string]string{"body": fmt.Sprintf("bench %d", rand.Int())}, http.StatusCreated, &pr); err != nil {
				fmt.Printf("post error: %v\n", err)
				return
			}
			postsCh <- postRecord{ID: pr.ID, Author: author, Posted: posted}
		}()
	}
	wg.Wait()
	close(postsCh)

	// --- 4) Poll follower timelines until each tweet shows up ---
	fmt.Println("Checking timeline delivery...")
	var (
		latencies []float64
		failCount int
		mu        sync.Mutex
		checks    sync.WaitGroup
	)
	for pr := range postsCh {
		for _, f := range followers[pr.Author] {
			checks.Add(1)
			go func(pr postRecord, follower string) {
				defer checks.Done()
				deadline := time.Now().Add(time.Duration(pollTimeout) * time.Second)
				for time.Now().Before(deadline) {
					var p page
					err := send(ctx, client, http.MethodGet, serverAddr+"/users/"+follower+"/timeline?limit=200", nil, http.StatusOK, &p)
					if err == nil {
						for _, tw := range p.Tweets {
							if tw.ID == pr.ID {
								mu.Lock()
								latencies = append(latencies, time.Since(pr.Posted).Seconds()*1000)
								mu.Unlock()
								return
							}
						}
					}
					time.Sleep(200 * time.Millisecond)
				}
				mu.Lock()
				failCount++
				mu.Unlock()
			}(pr, f)
		}
	}
	checks.Wait()

	// --- 5) Latency statistics and CSV export ---
	if len(latencies) == 0 {
		fmt.Println("No successful deliveries recorded.")
		return
	}
	sort.Float64s(latencies)
	trimmed := trim(latencies, 1.0)
	fmt.Printf("Delivery stats (ms): count=%d mean=%.2f p50=%.2f p90=%.2f p99=%.2f fails=%d\n",
		len(latencies), mean(trimmed), percentile(trimmed, 50), percentile(trimmed, 90), percentile(trimmed, 99), failCount)

	f, err := os.Create("e2e_latencies.csv")
	if err != nil {
		fmt.Printf("csv error: %v\n", err)
		return
	}
	defer f.Close()
	w := csv.NewWriter(f)
	w.Write([]string{"latency_ms"})
	for _, v := range latencies {
		w.Write([]string{fmt.Sprintf("%.3f", v)})
	}
	w.Flush()
	fmt.Println("Saved e2e_latencies.csv")
}

func newClient(certFile, keyFile string) *http.Client {
	client := &http.Client{Timeout: 10 * time.Second}
	if certFile == "" || keyFile == "" {
		return client
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		panic(fmt.Sprintf("failed to load cert/key: %v", err))
	}
	client.Transport = &http.Transport{
		TLSClientConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
	}
	return client
}

// send issues a JSON request and decodes the response into out when non-nil.
func send(ctx context.Context, client *http.Client, method, url string, body any, want int, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		return fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// trim drops trimPercent of the sorted samples from each end.
func trim(sorted []float64, trimPercent float64) []float64 {
	n := int(float64(len(sorted)) * trimPercent / 100.0)
	if n*2 >= len(sorted) {
		return sorted
	}
	return sorted[n : len(sorted)-n]
}

func mean(data []float64) float64 {
	var sum float64
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

// percentile calculates the requested percentile of sorted data using linear interpolation.
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}
	k := (p / 100.0) * float64(len(data)-1)
	f := int(k)
	c := f + 1
	if c >= len(data) {
		return data[len(data)-1]
	}
	return data[f]*(float64(c)-k) + data[c]*(k-float64(f))
}
