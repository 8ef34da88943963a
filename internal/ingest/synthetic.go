package ingest

import (
	"fmt"

	"github.com/xtxerr/telestream/internal/store"
	"github.com/xtxerr/telestream/internal/types"
)

// Synthetic adds count demo points to st. Point i goes to topic key<i>,
// or to key<i mod topics> when topics is positive, at time i*1000 with
// value i.
func Synthetic(st *store.Store, topics, count int) LoadStats {
	var stats LoadStats
	for i := 0; i < count; i++ {
		n := i
		if topics > 0 {
			n = i % topics
		}
		st.AddSample(fmt.Sprintf("key%d", n), uint64(i)*1000, types.Number(float64(i)))
		stats.Loaded++
	}
	return stats
}
