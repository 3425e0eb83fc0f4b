package commands

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lemonade-sdk/lemonade-server/internal/lifecycle"
)

// serverClient talks to an already-running lemonade-server instance over
// its loopback HTTP API, discovered via the single-instance PID-port file
// (§4.7: "other commands ... must succeed alongside a running serve by
// detecting the listening socket and forwarding").
type serverClient struct {
	baseURL string
	http    *http.Client
}

// discoverRunningServer returns a client for the currently running instance,
// or ok=false if none is running (or the instance it finds is stale).
func discoverRunningServer(cache string) (*serverClient, bool) {
	_, port, err := lifecycle.Discover(cache)
	if err != nil {
		return nil, false
	}
	return &serverClient{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d/api/v1", port),
		http:    &http.Client{Timeout: 30 * time.Second},
	}, true
}

func (c *serverClient) get(path string) ([]byte, int, error) {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return body, resp.StatusCode, err
}

func (c *serverClient) postJSON(path string, body []byte) ([]byte, int, error) {
	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	return respBody, resp.StatusCode, err
}

func (c *serverClient) delete(path string) ([]byte, int, error) {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return body, resp.StatusCode, err
}

// postSSE issues a POST and invokes onEvent for each "event: ...\ndata:
// ...\n\n" frame received, matching /api/v1/pull's progress/complete/error
// framing.
func (c *serverClient) postSSE(path string, body io.Reader, onEvent func(event, data string)) error {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %s: %s", resp.Status, string(b))
	}

	scanner := bufio.NewScanner(resp.Body)
	var event string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			onEvent(event, strings.TrimPrefix(line, "data: "))
		}
	}
	return scanner.Err()
}
