package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name    string
		network string
		method  string
		params  string
		want    string
	}{
		{"absent params", "mainnet", "eth_blockNumber", "", "mainnet:eth_blockNumber"},
		{"empty array params", "mainnet", "eth_blockNumber", `[]`, "mainnet:eth_blockNumber"},
		{"single scalar string", "mainnet", "eth_getBlockByHash", `["0xabc"]`, "mainnet:eth_getBlockByHash:0xabc"},
		{"single scalar number", "mainnet", "eth_getBlockByNumber", `[12]`, "mainnet:eth_getBlockByNumber:12"},
		{"single scalar bool", "mainnet", "eth_mine", `[true]`, "mainnet:eth_mine:true"},
		{"single scalar null", "mainnet", "eth_mine", `[null]`, "mainnet:eth_mine:null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var params []byte
			if tt.params != "" {
				params = []byte(tt.params)
			}
			got, err := Compute(tt.network, tt.method, params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompute_AbsentAndEmptyArrayAreIdentical(t *testing.T) {
	absent, err := Compute("mainnet", "eth_blockNumber", nil)
	require.NoError(t, err)
	empty, err := Compute("mainnet", "eth_blockNumber", []byte(`[]`))
	require.NoError(t, err)
	assert.Equal(t, absent, empty)
}

func TestCompute_ObjectKeyOrderIsCanonical(t *testing.T) {
	a, err := Compute("mainnet", "eth_call", []byte(`[{"to":"0x1","data":"0x2"}]`))
	require.NoError(t, err)
	b, err := Compute("mainnet", "eth_call", []byte(`[{"data":"0x2","to":"0x1"}]`))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCompute_ArrayOrderIsSignificant(t *testing.T) {
	a, err := Compute("mainnet", "eth_call", []byte(`[{"to":"0x1"},"latest"]`))
	require.NoError(t, err)
	b, err := Compute("mainnet", "eth_call", []byte(`["latest",{"to":"0x1"}]`))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCompute_DifferentNetworksDifferentKeys(t *testing.T) {
	a, err := Compute("mainnet", "eth_blockNumber", nil)
	require.NoError(t, err)
	b, err := Compute("polygon", "eth_blockNumber", nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
