package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

var daemonAddr string

// rpcClient is a thin helper over the daemon's RPC API.
type rpcClient struct {
	base string
	http *http.Client
}

func newRPCClient() *rpcClient {
	return &rpcClient{
		base: daemonAddr,
		http: &http.Client{Timeout: 10 * time.Minute},
	}
}

// post calls an RPC operation and decodes the JSON response into out.
// out may be nil when the caller only cares about success.
func (c *rpcClient) post(op string, req, out any) error {
	var body io.Reader
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	resp, err := c.http.Post(c.base+"/rpc/"+op, "application/json", body)
	if err != nil {
		return fmt.Errorf("is the daemon running? (%v)", err)
	}
	return c.decode(resp, out)
}

func (c *rpcClient) decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%s", apiErr.Error.Message)
		}
		return fmt.Errorf("daemon returned HTTP %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// humanSize formats a byte count for display.
func humanSize(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
