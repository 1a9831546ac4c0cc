package connect

import (
	"context"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// AdminClient calls the admin service with a fixed token.
type AdminClient struct {
	token     string
	getStatus *connect.Client[emptypb.Empty, structpb.Struct]
	skip      *connect.Client[structpb.Struct, structpb.Struct]
	stop      *connect.Client[structpb.Struct, structpb.Struct]
}

// NewAdminClient creates a client for the admin service at baseURL.
func NewAdminClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *AdminClient {
	return &AdminClient{
		token:     token,
		getStatus: connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+GetStatusProcedure, opts...),
		skip:      connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+SkipProcedure, opts...),
		stop:      connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+StopProcedure, opts...),
	}
}

// GetStatus returns the raw status document.
func (c *AdminClient) GetStatus(ctx context.Context) (*structpb.Struct, error) {
	req := connect.NewRequest(&emptypb.Empty{})
	req.Header().Set(AdminTokenHeader, c.token)
	resp, err := c.getStatus.CallUnary(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Skip skips the current track of a guild.
func (c *AdminClient) Skip(ctx context.Context, guildID string) (bool, string, error) {
	return c.call(ctx, c.skip, guildID)
}

// Stop stops the queue of a guild.
func (c *AdminClient) Stop(ctx context.Context, guildID string) (bool, string, error) {
	return c.call(ctx, c.stop, guildID)
}

func (c *AdminClient) call(ctx context.Context, client *connect.Client[structpb.Struct, structpb.Struct], guildID string) (bool, string, error) {
	msg, err := structpb.NewStruct(map[string]any{"guild_id": guildID})
	if err != nil {
		return false, "", err
	}
	req := connect.NewRequest(msg)
	req.Header().Set(AdminTokenHeader, c.token)
	resp, err := client.CallUnary(ctx, req)
	if err != nil {
		return false, "", err
	}
	fields := resp.Msg.GetFields()
	return fields["success"].GetBoolValue(), fields["message"].GetStringValue(), nil
}
