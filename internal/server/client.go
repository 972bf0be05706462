package server

import (
	"context"
	"fmt"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the admin API. Responses are returned as plain maps decoded
// from the Struct messages.
type Client struct {
	procedures map[string]*connect.Client[structpb.Struct, structpb.Struct]
}

// NewClient creates a client for the admin service at baseURL
// (e.g., "http://localhost:50061").
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")

	c := &Client{procedures: make(map[string]*connect.Client[structpb.Struct, structpb.Struct])}
	for _, proc := range []string{
		ListDesignationsProcedure,
		ListMembersProcedure,
		DispatcherStatsProcedure,
		PublishEventProcedure,
		BindPortProcedure,
		UnbindPortProcedure,
		ListPortsProcedure,
		HandlePacketProcedure,
		ListFlowsProcedure,
	} {
		c.procedures[proc] = connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+proc, opts...)
	}
	return c
}

// Call invokes procedure with req and returns the response fields.
func (c *Client) Call(ctx context.Context, procedure string, req *structpb.Struct) (map[string]any, error) {
	client, ok := c.procedures[procedure]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProcedure, procedure)
	}
	if req == nil {
		req = &structpb.Struct{}
	}

	resp, err := client.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", procedure, err)
	}
	return resp.Msg.AsMap(), nil
}

// CallFields is Call with the request given as a plain map.
func (c *Client) CallFields(ctx context.Context, procedure string, fields map[string]any) (map[string]any, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", procedure, err)
	}
	return c.Call(ctx, procedure, req)
}
