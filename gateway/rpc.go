package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/djp440/drift-market-bot-v2/internal/fixed"
	"github.com/djp440/drift-market-bot-v2/internal/venue"
)

// RPCClient 通过 RPC sidecar 触达场所；签名与链上提交由 sidecar
// 负责，本进程只提交 JSON 意图。HTTPClient 可注入 httptest。
type RPCClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

type wireOrder struct {
	MarketIndex uint16 `json:"marketIndex"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	ReduceOnly  bool   `json:"reduceOnly,omitempty"`
	PostOnly    string `json:"postOnly,omitempty"`
}

type placeRequest struct {
	Instructions []json.RawMessage `json:"instructions,omitempty"`
	Orders       []wireOrder       `json:"orders"`
}

type txResponse struct {
	TxID string `json:"txId"`
}

type wireResting struct {
	ID          string `json:"id"`
	MarketIndex uint16 `json:"marketIndex"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	Status      string `json:"status"`
	PlacedAtMs  int64  `json:"placedAtMs"`
}

type wirePosition struct {
	MarketIndex uint16 `json:"marketIndex"`
	Base        string `json:"base"`
}

// PlaceOrders 提交一批订单，可前置撤单指令，整批作为单笔交易落地。
func (c *RPCClient) PlaceOrders(ctx context.Context, intents []venue.OrderIntent, pre ...venue.Instruction) (string, error) {
	req := placeRequest{Orders: make([]wireOrder, 0, len(intents))}
	for _, ix := range pre {
		req.Instructions = append(req.Instructions, json.RawMessage(ix.Raw))
	}
	for _, in := range intents {
		req.Orders = append(req.Orders, wireOrder{
			MarketIndex: in.MarketIndex,
			Side:        string(in.Side),
			Price:       in.Price.String(),
			Size:        in.Size.String(),
			ReduceOnly:  in.ReduceOnly,
			PostOnly:    string(in.PostOnly),
		})
	}
	var resp txResponse
	if err := c.post(ctx, "/v1/orders", req, &resp); err != nil {
		return "", err
	}
	if resp.TxID == "" {
		return "", fmt.Errorf("gateway: empty txId")
	}
	return resp.TxID, nil
}

// CancelOrdersByIDs 撤销指定订单。
func (c *RPCClient) CancelOrdersByIDs(ctx context.Context, ids []string) (string, error) {
	body := struct {
		IDs []string `json:"ids"`
	}{IDs: ids}
	var resp txResponse
	if err := c.post(ctx, "/v1/cancel", body, &resp); err != nil {
		return "", err
	}
	return resp.TxID, nil
}

// CancelInstruction 本地构造撤单指令，供捆绑提交。
func (c *RPCClient) CancelInstruction(ids []string) (venue.Instruction, error) {
	raw, err := json.Marshal(struct {
		Op  string   `json:"op"`
		IDs []string `json:"ids"`
	}{Op: "cancel", IDs: ids})
	if err != nil {
		return venue.Instruction{}, err
	}
	return venue.Instruction{Raw: raw}, nil
}

// OpenOrders 查询当前挂单。
func (c *RPCClient) OpenOrders(ctx context.Context) ([]venue.RestingOrder, error) {
	var wire []wireResting
	if err := c.get(ctx, "/v1/orders", &wire); err != nil {
		return nil, err
	}
	out := make([]venue.RestingOrder, 0, len(wire))
	for _, w := range wire {
		price, err := fixed.FromString(w.Price)
		if err != nil {
			return nil, fmt.Errorf("gateway: order %s price: %w", w.ID, err)
		}
		size, err := fixed.FromString(w.Size)
		if err != nil {
			return nil, fmt.Errorf("gateway: order %s size: %w", w.ID, err)
		}
		out = append(out, venue.RestingOrder{
			ID:          w.ID,
			MarketIndex: w.MarketIndex,
			Side:        venue.Side(w.Side),
			Price:       price,
			Size:        size,
			Status:      w.Status,
			PlacedAt:    time.UnixMilli(w.PlacedAtMs),
		})
	}
	return out, nil
}

// Position 查询单市场净仓位。
func (c *RPCClient) Position(ctx context.Context, marketIndex uint16) (venue.Position, error) {
	var wire wirePosition
	path := fmt.Sprintf("/v1/position?marketIndex=%d", marketIndex)
	if err := c.get(ctx, path, &wire); err != nil {
		return venue.Position{}, err
	}
	base, err := fixed.FromString(wire.Base)
	if err != nil {
		return venue.Position{}, fmt.Errorf("gateway: position base: %w", err)
	}
	return venue.Position{MarketIndex: wire.MarketIndex, Base: base}, nil
}

func (c *RPCClient) post(ctx context.Context, path string, body, out interface{}) error {
	if c == nil || c.HTTPClient == nil {
		return fmt.Errorf("gateway: http client not set")
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *RPCClient) get(ctx context.Context, path string, out interface{}) error {
	if c == nil || c.HTTPClient == nil {
		return fmt.Errorf("gateway: http client not set")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *RPCClient) do(req *http.Request, out interface{}) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway: %s %s status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
