package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/adyach/nakadi/internal/domain"
	"github.com/adyach/nakadi/internal/storage"
)

// celFilter wraps a compiled CEL program evaluated against each read event.
// When disabled, Eval always returns true.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("partition", cel.StringType),
		cel.Variable("offset", cel.StringType),
		cel.Variable("written_at_ms", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("text", cel.StringType),
		// Parsed JSON payload (map/list/values) for field filtering
		cel.Variable("json", cel.DynType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, fmt.Errorf("%w: filter: %v", domain.ErrInvalidArgument, iss.Err())
	}
	if ast.OutputType() != cel.BoolType && ast.OutputType() != cel.DynType {
		return celFilter{}, fmt.Errorf("%w: filter must evaluate to bool, got %s", domain.ErrInvalidArgument, ast.OutputType())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the compiled expression against a record. Evaluation
// errors drop the record.
func (f celFilter) Eval(rec storage.Record, now time.Time) bool {
	if !f.enabled {
		return true
	}
	var jsonObj any
	_ = json.Unmarshal(rec.Payload, &jsonObj)
	out, _, err := f.prog.Eval(map[string]any{
		"partition":     rec.Partition,
		"offset":        rec.Offset,
		"written_at_ms": rec.WrittenAt.UnixMilli(),
		"size":          int64(len(rec.Payload)),
		"text":          string(rec.Payload),
		"json":          jsonObj,
		"now_ms":        now.UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
