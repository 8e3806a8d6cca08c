// Command smoke drives a running partgraph HTTP server through an
// ingest-then-query round trip and exits non-zero on the first failure.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "partgraph server address")
	wait := flag.Duration("wait", 2*time.Second, "time to wait for the server to start")
	flag.Parse()

	time.Sleep(*wait)
	c := client{base: *baseURL, http: &http.Client{Timeout: 10 * time.Second}}

	// A fresh session keeps repeated runs from colliding on document ids.
	session := uuid.NewString()
	oldID := "SMK" + session[:8]
	newID := oldID + "R"

	fmt.Println("1. Ingesting evidence...")
	c.expect("ingest evidence", http.MethodPost, "/ingest/evidence", map[string]interface{}{
		"source":     "smoke",
		"session":    session,
		"file":       "smoke.json",
		"queried_id": oldID,
		"payload": map[string]interface{}{
			"part_number": oldID,
			"replaced_by": newID,
			"specifications": map[string]string{
				"capacitance": "40+5 MFD",
			},
		},
	}, "relationships")

	fmt.Println("2. Looking up the part...")
	body := c.expect("lookup", http.MethodGet, "/lookup/part/"+oldID, nil, "direct_replacements")
	if got := gjson.GetBytes(body, "direct_replacements.0.part_id").String(); got != newID {
		fail("lookup", fmt.Sprintf("expected replacement %s, got %q", newID, got))
	}

	fmt.Println("3. Resolving the replacement chain...")
	body = c.expect("chain", http.MethodGet, "/lookup/graph/replacements/"+oldID+"?max_depth=2", nil, "total_replacements")
	if n := gjson.GetBytes(body, "total_replacements").Int(); n < 1 {
		fail("chain", fmt.Sprintf("expected at least one replacement, got %d", n))
	}

	fmt.Println("4. Searching by specification...")
	c.expect("spec search", http.MethodGet, "/lookup/spec?type=MFD&value=40%2B5", nil, "total_matches")

	fmt.Println("5. Unknown parts report NOT_FOUND...")
	body = c.do("unknown part", http.MethodGet, "/lookup/part/UNKNOWN_ID", nil, http.StatusNotFound)
	if code := gjson.GetBytes(body, "error").String(); code != "NOT_FOUND" {
		fail("unknown part", "expected NOT_FOUND, got "+code)
	}

	fmt.Println("PASSED")
}

type client struct {
	base string
	http *http.Client
}

// expect sends a request that must succeed and carry field in its response.
func (c client) expect(step, method, endpoint string, payload interface{}, field string) []byte {
	body := c.do(step, method, endpoint, payload, http.StatusOK)
	if !gjson.GetBytes(body, field).Exists() {
		fail(step, fmt.Sprintf("response has no %q: %s", field, body))
	}
	fmt.Printf("PASSED: %s\n", step)
	return body
}

func (c client) do(step, method, endpoint string, payload interface{}, want int) []byte {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			fail(step, err.Error())
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+endpoint, reader)
	if err != nil {
		fail(step, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		fail(step, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fail(step, err.Error())
	}
	if resp.StatusCode != want {
		fail(step, fmt.Sprintf("status %d: %s", resp.StatusCode, body))
	}
	return body
}

func fail(step, msg string) {
	fmt.Printf("FAILED: %s: %s\n", step, msg)
	os.Exit(1)
}
