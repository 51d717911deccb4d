package knowledge

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/neptunegraph"
	"github.com/aws/aws-sdk-go-v2/service/neptunegraph/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNeptune struct {
	in *neptunegraph.ExecuteQueryInput
}

func (f *fakeNeptune) ExecuteQuery(ctx context.Context, in *neptunegraph.ExecuteQueryInput, optFns ...func(*neptunegraph.Options)) (*neptunegraph.ExecuteQueryOutput, error) {
	f.in = in
	return &neptunegraph.ExecuteQueryOutput{Payload: io.NopCloser(strings.NewReader(`{"results":[{"id":"n1"}]}`))}, nil
}

func TestNeptuneGraphExecuteQuery(t *testing.T) {
	client := &fakeNeptune{}
	graph := &NeptuneGraph{Client: client, GraphID: "g-123"}

	payload, err := graph.ExecuteQuery(context.Background(), "MATCH (n) RETURN n")
	require.NoError(t, err)
	assert.JSONEq(t, `{"results":[{"id":"n1"}]}`, string(payload))
	assert.Equal(t, "g-123", aws.ToString(client.in.GraphIdentifier))
	assert.Equal(t, types.QueryLanguage("OPEN_CYPHER"), client.in.Language)
}
