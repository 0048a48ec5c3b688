package answer

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ziadkadry99/fingraph/internal/graphstore"
)

// MaxRows is the number of rows sent to the model.
const MaxRows = 50

// Table renders result as a header line followed by pipe-separated rows,
// truncated to maxRows.
func Table(result graphstore.Result, maxRows int) string {
	if result.Len() == 0 {
		return "(no rows)"
	}
	if maxRows <= 0 {
		maxRows = MaxRows
	}
	var b strings.Builder
	b.WriteString(strings.Join(result.Keys(), " | "))
	for i, r := range result.Records {
		if i == maxRows {
			fmt.Fprintf(&b, "\n... (%d more rows)", result.Len()-maxRows)
			break
		}
		b.WriteByte('\n')
		for j, v := range r.Values {
			if j > 0 {
				b.WriteString(" | ")
			}
			b.WriteString(FormatValue(v))
		}
	}
	return b.String()
}

// FormatValue renders a single cell compactly.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "null"
		}
		return strconv.FormatFloat(math.Round(x*10000)/10000, 'f', -1, 64)
	case float32:
		return FormatValue(float64(x))
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	case []any, map[string]any:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	}
	return fmt.Sprint(v)
}

// Summary is the answer used when the model cannot be reached: the first
// rows stated plainly.
func Summary(entityID string, result graphstore.Result) string {
	if result.Len() == 0 {
		return noData(entityID)
	}
	const shown = 5
	var b strings.Builder
	if entityID != "" {
		fmt.Fprintf(&b, "Here is the data I found for %s", entityID)
	} else {
		b.WriteString("Here is the data I found")
	}
	fmt.Fprintf(&b, " (%d %s):", result.Len(), plural(result.Len(), "row", "rows"))
	for i, r := range result.Records {
		if i == shown {
			fmt.Fprintf(&b, "\n... and %d more.", result.Len()-shown)
			break
		}
		parts := make([]string, len(r.Keys))
		for j, k := range r.Keys {
			parts[j] = k + "=" + FormatValue(r.Values[j])
		}
		b.WriteString("\n- ")
		b.WriteString(strings.Join(parts, ", "))
	}
	return b.String()
}

func noData(entityID string) string {
	if entityID == "" {
		return "No data found for your question."
	}
	return fmt.Sprintf("No data found for %s.", entityID)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
