package transport

import (
	"context"
	"sort"
	"sync"

	"github.com/gateway-fm/chainbench/internal/rpc"
)

// RPCHealth checks that each network's RPC endpoint answers eth_blockNumber.
type RPCHealth map[string]rpc.Client

// Check queries every endpoint concurrently.
func (h RPCHealth) Check(ctx context.Context) map[string]error {
	results := make(map[string]error, len(h))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, client := range h {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.GetBlockNumber(ctx)
			mu.Lock()
			results["rpc:"+name] = err
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
