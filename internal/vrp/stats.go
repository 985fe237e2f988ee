package vrp

import "sync"

// In-memory registry of search stats per solve, for the debug endpoints.
// Keyed by tenant and solve id; survives only for the process lifetime.

type statsKey struct {
	tenant  string
	solveID string
}

var (
	statsMu  sync.Mutex
	statsReg = map[statsKey]Stats{}
)

func RecordStats(tenant, solveID string, st Stats) {
	statsMu.Lock()
	defer statsMu.Unlock()
	statsReg[statsKey{tenant, solveID}] = st
}

func GetStats(tenant, solveID string) (Stats, bool) {
	statsMu.Lock()
	defer statsMu.Unlock()
	st, ok := statsReg[statsKey{tenant, solveID}]
	return st, ok
}

// ListStats returns all recorded stats for a tenant keyed by solve id.
func ListStats(tenant string) map[string]Stats {
	statsMu.Lock()
	defer statsMu.Unlock()
	out := map[string]Stats{}
	for k, v := range statsReg {
		if k.tenant == tenant {
			out[k.solveID] = v
		}
	}
	return out
}
