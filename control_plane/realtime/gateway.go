package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// GatewayClient publishes messages to the realtime gateway over its internal
// HTTP API. The gateway owns the websocket fan-out; this client only speaks
// the publish contract.
type GatewayClient struct {
	addr  string
	token string
}

func NewGatewayClient(addr, token string) *GatewayClient {
	return &GatewayClient{addr: addr, token: token}
}

func (c *GatewayClient) Publish(msg Message) error {
	endpoint, err := url.JoinPath(c.addr, "v1/messages")
	if err != nil {
		return fmt.Errorf("error formatting realtime gateway url: %w", err)
	}

	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(msg); err != nil {
		return fmt.Errorf("error encoding realtime message: %w", err)
	}

	req, err := http.NewRequest("POST", endpoint, body)
	if err != nil {
		return fmt.Errorf("error creating realtime publish request: %w", err)
	}
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("X-Realtime-Token", c.token)

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending realtime publish request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		data, readErr := io.ReadAll(res.Body)
		if readErr == nil {
			slog.Error("realtime gateway returned error", "code", res.StatusCode, "response", string(data))
		}
		return fmt.Errorf("realtime publish returned status %d", res.StatusCode)
	}

	return nil
}
