package flclient

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	addMyWeightsMethod      = "/serverside.AvgWeights/AddMyWeights"
	getReleaseWeightsMethod = "/serverside.AvgWeights/GetReleaseWeights"
)

// Client talks to the aggregation server: it uploads weight deltas and
// resolves the latest global release.
type Client struct {
	serverUrl string
	clientId  string
	logger    hclog.Logger
	conn      *grpc.ClientConn
}

func NewClient(serverUrl string, clientId string, logger hclog.Logger) (*Client, error) {
	conn, err := grpc.NewClient(serverUrl,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(wireCodec{})))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", serverUrl, err)
	}

	return &Client{
		serverUrl: serverUrl,
		clientId:  clientId,
		logger:    logger,
		conn:      conn,
	}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// UploadWeights sends the serialized delta together with the local
// example count.
func (c *Client) UploadWeights(ctx context.Context, weights []byte, numExamples int64) error {
	request := &AddMyWeightsRequest{
		ClientId:    c.clientId,
		Weights:     weights,
		NumExamples: numExamples,
	}
	response := &AddMyWeightsResponse{}

	if err := c.conn.Invoke(ctx, addMyWeightsMethod, request, response); err != nil {
		return fmt.Errorf("uploading weights: %w", err)
	}
	if !response.Ok {
		return fmt.Errorf("server rejected weights: %s", response.Message)
	}

	c.logger.Info("uploaded weights", "bytes", len(weights), "numExamples", numExamples)
	return nil
}

// ReleaseLink asks for the current global release. An empty link means
// the server has not published one yet.
func (c *Client) ReleaseLink(ctx context.Context) (string, error) {
	request := &GetReleaseWeightsRequest{}
	response := &GetReleaseWeightsResponse{}

	if err := c.conn.Invoke(ctx, getReleaseWeightsMethod, request, response); err != nil {
		return "", fmt.Errorf("requesting release weights: %w", err)
	}

	return response.LinkToMinio, nil
}
