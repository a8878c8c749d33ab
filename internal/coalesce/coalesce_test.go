package coalesce

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpcguard/rpcguard/internal/jsonrpc"
)

func TestDo_ConcurrentCallsShareOneExecution(t *testing.T) {
	c := New()

	var calls int32
	ready := make(chan struct{})
	release := make(chan struct{})

	fn := func() (jsonrpc.Response, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			close(ready)
			<-release
		}
		return jsonrpc.Response{JSONRPC: jsonrpc.Version, Result: []byte(`"0x1"`)}, nil
	}

	var wg sync.WaitGroup
	results := make([]jsonrpc.Response, 2)
	sharedFlags := make([]bool, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		resp, shared, err := c.Do("key", fn)
		require.NoError(t, err)
		results[0] = resp
		sharedFlags[0] = shared
	}()

	<-ready

	wg.Add(1)
	go func() {
		defer wg.Done()
		resp, shared, err := c.Do("key", fn)
		require.NoError(t, err)
		results[1] = resp
		sharedFlags[1] = shared
	}()

	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "only one execution should have run")
	assert.Equal(t, results[0], results[1])
	assert.True(t, sharedFlags[0] || sharedFlags[1])
}

func TestDo_SequentialCallsEachExecute(t *testing.T) {
	c := New()
	var calls int32

	fn := func() (jsonrpc.Response, error) {
		n := atomic.AddInt32(&calls, 1)
		return jsonrpc.Response{JSONRPC: jsonrpc.Version, Result: []byte(fmt.Sprintf(`%d`, n))}, nil
	}

	_, _, err := c.Do("key", fn)
	require.NoError(t, err)
	_, _, err = c.Do("key", fn)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDo_ErrorPropagatesToAllWaiters(t *testing.T) {
	c := New()
	wantErr := fmt.Errorf("upstream boom")

	_, _, err := c.Do("key", func() (jsonrpc.Response, error) {
		return jsonrpc.Response{}, wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}
