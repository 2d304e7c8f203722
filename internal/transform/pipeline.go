package transform

import (
	"fmt"

	"github.com/tidwall/gjson"

	"modelrelay/internal/config"
)

// Step is one compiled body transform. The set of implementations is closed:
// RegexStep, JSONPathDropStep, JSONPathAddStep.
type Step interface {
	Apply(body []byte) ([]byte, error)
}

// Pipeline applies a list of compiled transforms strictly in configured
// order. It is compiled once per route side at config load and shared
// read-only across requests.
type Pipeline struct {
	steps []Step
}

// Compile turns a configured transform list into a runnable pipeline.
func Compile(list []config.Transform) (*Pipeline, error) {
	steps := make([]Step, 0, len(list))
	for i, t := range list {
		var (
			step Step
			err  error
		)
		switch t.Type {
		case config.TransformRegex:
			step, err = CompileRegex(t.Pattern, t.Replacement)
		case config.TransformJSONPathDrop:
			step, err = CompileDrop(t.Path)
		case config.TransformJSONPathAdd:
			step, err = CompileAdd(t.Path, t.Value)
		default:
			err = fmt.Errorf("unknown transform type %q", t.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("transform %d: %w", i, err)
		}
		steps = append(steps, step)
	}
	return &Pipeline{steps: steps}, nil
}

// Empty reports whether the pipeline has no steps.
func (p *Pipeline) Empty() bool { return len(p.steps) == 0 }

// Run threads body through every step in listed order. The byte form is the
// interchange between steps, so regex output feeds JSONPath input and vice
// versa exactly as configured.
func (p *Pipeline) Run(body []byte) ([]byte, error) {
	result := body
	for i, step := range p.steps {
		var err error
		result, err = step.Apply(result)
		if err != nil {
			return nil, fmt.Errorf("transform %d: %w", i, err)
		}
	}
	return result, nil
}

// RunEvent applies the pipeline to a single SSE event payload. Regex steps
// always apply; JSONPath steps apply only when the payload parses as JSON
// and otherwise pass the payload through unchanged. Failures never break the
// stream: the unmodified payload flows on.
func (p *Pipeline) RunEvent(payload []byte) []byte {
	result := payload
	for _, step := range p.steps {
		if _, isRegex := step.(*RegexStep); !isRegex && !gjson.ValidBytes(result) {
			continue
		}
		next, err := step.Apply(result)
		if err != nil {
			continue
		}
		result = next
	}
	return result
}
