package duco

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const successBody = "SUCCESS"

type Client struct {
	host    string
	gateway *Gateway
	now     func() time.Time
}

func NewClient(host string, gateway *Gateway) *Client {
	return &Client{
		host:    host,
		gateway: gateway,
		now:     time.Now,
	}
}

func (c *Client) Host() string {
	return c.host
}

func (c *Client) ListNodes(ctx context.Context) ([]int, error) {
	var list nodeList
	if err := c.readJSON(ctx, fmt.Sprintf("/nodelist?t=%v", c.cacheBuster()), &list); err != nil {
		return nil, err
	}

	return list.Nodes, nil
}

func (c *Client) GetBoardInfo(ctx context.Context) (*BoardInfo, error) {
	info := &BoardInfo{}
	if err := c.readJSON(ctx, fmt.Sprintf("/board_info?t=%v", c.cacheBuster()), info); err != nil {
		return nil, err
	}

	return info, nil
}

func (c *Client) GetNodeInfo(ctx context.Context, node int) (*NodeInfo, error) {
	info := &NodeInfo{}
	if err := c.readJSON(ctx, fmt.Sprintf("/nodeinfoget?node=%v", node), info); err != nil {
		return nil, err
	}

	return info, nil
}

func (c *Client) GetNodeConfig(ctx context.Context, node int) (NodeConfig, error) {
	if response, err := c.gateway.Read(ctx, c.url(fmt.Sprintf("/nodeconfigget?node=%v", node))); err != nil {
		return nil, err
	} else {
		return decodeNodeConfig(response)
	}
}

func (c *Client) SetOverrule(ctx context.Context, node int, value int) error {
	response, err := c.gateway.Write(ctx, c.url(fmt.Sprintf("/nodesetoverrule?node=%v&value=%v", node, value)))
	if err != nil {
		return err
	}

	if body := string(response); body != successBody {
		return &WriteRejectedError{Node: node, Value: value, Body: body}
	}

	return nil
}

func (c *Client) readJSON(ctx context.Context, path string, v interface{}) error {
	response, err := c.gateway.Read(ctx, c.url(path))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(response, v); err != nil {
		return fmt.Errorf("decoding response of %v: %w", path, err)
	}

	return nil
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("http://%v%v", c.host, path)
}

func (c *Client) cacheBuster() int64 {
	return c.now().UnixMilli()
}
