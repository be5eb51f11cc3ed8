package service

import (
	"encoding/json"
	"fmt"
	"reflect"

	jmespath "github.com/jmespath-community/go-jmespath"
	"github.com/target/mmk-scan-api/internal/domain/model"
)

// JMESPathEvaluator evaluates JMESPath expressions against decoded JSON documents.
type JMESPathEvaluator interface {
	Validate(expr string) error
	Evaluate(expr string, data any) (any, error)
}

// jmespathLibEvaluator implements JMESPathEvaluator using go-jmespath.
type jmespathLibEvaluator struct{}

// NewJMESPathEvaluator returns the go-jmespath backed evaluator.
func NewJMESPathEvaluator() JMESPathEvaluator { return jmespathLibEvaluator{} }

func (jmespathLibEvaluator) Validate(expr string) error {
	_, err := jmespath.Compile(expr)
	return err
}

func (jmespathLibEvaluator) Evaluate(expr string, data any) (any, error) {
	return jmespath.Search(expr, data)
}

// scanJobDocument renders job as the generic JSON document expressions are evaluated against,
// using the same field names the API returns.
func scanJobDocument(job *model.ScanJob) (map[string]any, error) {
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode scan job %s: %w", job.ID, err)
	}
	doc := map[string]any{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode scan job %s: %w", job.ID, err)
	}
	return doc, nil
}

// truthy applies JMESPath truthiness: false, null and empty strings, arrays and objects are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	default:
		return true
	}
}
