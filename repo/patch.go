package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Skryldev/parkd/db"
)

// patch collects the column assignments of a partial UPDATE. The SQL stays
// explicit: column names are literals at the call sites.
type patch struct {
	columns []string
	args    []any
}

func (p *patch) set(column string, value any) {
	p.columns = append(p.columns, column+" = ?")
	p.args = append(p.args, value)
}

// setIf assigns *v to column when v is non-nil.
func setIf[T any](p *patch, column string, v *T) {
	if v != nil {
		p.set(column, *v)
	}
}

func (p *patch) empty() bool { return len(p.columns) == 0 }

// apply stamps updated_at and runs the UPDATE against the row with id.
func (p *patch) apply(ctx context.Context, q db.Querier, table string, id int64) error {
	p.set("updated_at", time.Now().UTC())
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = ?`, table, strings.Join(p.columns, ", "))
	_, err := q.Exec(ctx, query, append(p.args, id)...)
	return err
}
