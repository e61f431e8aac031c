package remote

import (
	"fmt"
	"strings"
	"time"
)

// queryTimeLayout is the timestamp format the tracker's query language
// accepts in date comparisons.
const queryTimeLayout = "2006-01-02 15:04"

// Query builds a filtered issue search expression for one project.
// Zero-valued fields are omitted from the expression.
type Query struct {
	Project         string
	UpdatedSince    *time.Time
	ExcludeStatuses []string
	ExcludeTypes    []string
}

// String renders the query expression. Clauses appear in a fixed order so
// identical queries render identically (useful in tests and logs).
func (q Query) String() string {
	clauses := []string{fmt.Sprintf("project = %q", q.Project)}

	if q.UpdatedSince != nil {
		clauses = append(clauses,
			fmt.Sprintf("updated >= %q", q.UpdatedSince.UTC().Format(queryTimeLayout)))
	}
	if len(q.ExcludeStatuses) > 0 {
		clauses = append(clauses,
			fmt.Sprintf("status NOT IN (%s)", quoteList(q.ExcludeStatuses)))
	}
	if len(q.ExcludeTypes) > 0 {
		clauses = append(clauses,
			fmt.Sprintf("issuetype NOT IN (%s)", quoteList(q.ExcludeTypes)))
	}

	return strings.Join(clauses, " AND ")
}

func quoteList(vals []string) string {
	quoted := make([]string, len(vals))
	for i, v := range vals {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return strings.Join(quoted, ", ")
}
