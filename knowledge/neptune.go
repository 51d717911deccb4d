package knowledge

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/neptunegraph"
	"github.com/aws/aws-sdk-go-v2/service/neptunegraph/types"
)

// NeptuneAPI is the subset of the Neptune Analytics client used here.
type NeptuneAPI interface {
	ExecuteQuery(ctx context.Context, in *neptunegraph.ExecuteQueryInput, optFns ...func(*neptunegraph.Options)) (*neptunegraph.ExecuteQueryOutput, error)
}

// NeptuneGraph runs openCypher statements against a Neptune Analytics graph.
type NeptuneGraph struct {
	Client  NeptuneAPI
	GraphID string
}

// ExecuteQuery runs one statement and returns the JSON payload.
func (n *NeptuneGraph) ExecuteQuery(ctx context.Context, query string) ([]byte, error) {
	out, err := n.Client.ExecuteQuery(ctx, &neptunegraph.ExecuteQueryInput{
		GraphIdentifier: aws.String(n.GraphID),
		QueryString:     aws.String(query),
		Language:        types.QueryLanguage("OPEN_CYPHER"),
	})
	if err != nil {
		return nil, err
	}
	if out.Payload == nil {
		return []byte(`{"results":[]}`), nil
	}
	defer out.Payload.Close()
	data, err := io.ReadAll(out.Payload)
	if err != nil {
		return nil, fmt.Errorf("read query payload: %w", err)
	}
	return data, nil
}
