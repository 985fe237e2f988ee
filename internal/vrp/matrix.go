package vrp

import (
	"math"
	"runtime"
	"sync"

	"fleetroute/internal/geo"
)

// UnitsPerKm scales haversine kilometers into the integer units the search
// runs on. Integer arc costs keep move deltas exact, so equal-cost moves
// compare the same on every platform.
const UnitsPerKm = 1000

// Matrix is a dense symmetric travel matrix in integer units, row-major.
type Matrix struct {
	n     int
	units []int64
}

// BuildMatrix computes all pairwise haversine distances for locs. Rows are
// split across GOMAXPROCS goroutines; the diagonal is zero.
func BuildMatrix(locs []Location) *Matrix {
	n := len(locs)
	m := &Matrix{n: n, units: make([]int64, n*n)}

	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(start int) {
			defer wg.Done()
			for i := start; i < n; i += workers {
				row := i * n
				for j := 0; j < n; j++ {
					if i == j {
						continue
					}
					km := geo.HaversineKm(locs[i].Lat, locs[i].Lng, locs[j].Lat, locs[j].Lng)
					m.units[row+j] = int64(math.Round(km * UnitsPerKm))
				}
			}
		}(w)
	}
	wg.Wait()
	return m
}

// At returns the travel cost from node i to node j in units.
func (m *Matrix) At(i, j int) int64 { return m.units[i*m.n+j] }

// Len returns the number of nodes.
func (m *Matrix) Len() int { return m.n }

// Km converts units back to kilometers.
func Km(units int64) float64 { return float64(units) / UnitsPerKm }
