/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package daemon

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/facebook/timecounter/timecounter"
)

// Client talks to the daemon http server
type Client struct {
	address string
	http    *http.Client
}

// NewClient returns a Client for the server at address, like localhost:21040 or http://host:port
func NewClient(address string) *Client {
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	return &Client{
		address: strings.TrimSuffix(address, "/"),
		http:    &http.Client{Timeout: 2 * time.Second},
	}
}

func (c *Client) do(method, path string, query url.Values, v any) error {
	u := c.address + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(b)))
	}
	return json.Unmarshal(b, v)
}

// Counters returns registered counters
func (c *Client) Counters() ([]timecounter.Info, error) {
	res := []timecounter.Info{}
	err := c.do(http.MethodGet, "/counters", nil, &res)
	return res, err
}

// Select pins the counter and returns the updated list of counters
func (c *Client) Select(name string) ([]timecounter.Info, error) {
	res := []timecounter.Info{}
	err := c.do(http.MethodPost, "/select", url.Values{"name": {name}}, &res)
	return res, err
}

// MarkBad marks the counter as bad and returns the updated list of counters
func (c *Client) MarkBad(name string) ([]timecounter.Info, error) {
	res := []timecounter.Info{}
	err := c.do(http.MethodPost, "/markbad", url.Values{"name": {name}}, &res)
	return res, err
}

// Status returns timecounter and discipline state
func (c *Client) Status() (*Status, error) {
	res := &Status{}
	if err := c.do(http.MethodGet, "/status", nil, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Stats returns all the stats counters
func (c *Client) Stats() (map[string]int64, error) {
	res := map[string]int64{}
	err := c.do(http.MethodGet, "/", nil, &res)
	return res, err
}
