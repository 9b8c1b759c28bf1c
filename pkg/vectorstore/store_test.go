package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchSimilarity(t *testing.T) {
	require.InDelta(t, 0.80, Match{Score: 0.20}.Similarity(), 1e-9)
	require.InDelta(t, 1.00, Match{Score: 0.00}.Similarity(), 1e-9)
	require.InDelta(t, 0.00, Match{Score: 1.00}.Similarity(), 1e-9)
}
