package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xtxerr/telestream/internal/logging"
	"github.com/xtxerr/telestream/internal/store"
	"github.com/xtxerr/telestream/internal/types"
)

var log = logging.Component("ingest")

// LoadStats reports the outcome of a seed load.
type LoadStats struct {
	Loaded  int
	Skipped int
}

// LoadCSV adds every `time,topic,value` line of r to st. A value that parses
// as a float becomes a Number, anything else is stored as Text. A first line
// whose time column is the literal "time" is treated as a header. Lines with
// a bad time or the wrong number of columns are skipped and counted.
func LoadCSV(r io.Reader, st *store.Store) (LoadStats, error) {
	var stats LoadStats

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("csv line %d: %w", line, err)
		}

		if line == 1 && len(rec) > 0 && strings.EqualFold(rec[0], "time") {
			continue
		}
		if len(rec) != 3 {
			log.Debug("csv line skipped", "line", line, "columns", len(rec))
			stats.Skipped++
			continue
		}

		t, err := strconv.ParseUint(strings.TrimSpace(rec[0]), 10, 64)
		if err != nil || rec[1] == "" {
			log.Debug("csv line skipped", "line", line, "time", rec[0], "topic", rec[1])
			stats.Skipped++
			continue
		}

		st.AddSample(rec[1], t, parseValue(rec[2]))
		stats.Loaded++
	}
}

func parseValue(s string) types.Value {
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return types.Number(f)
	}
	return types.Text(s)
}
