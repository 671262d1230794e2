package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"orei-control/internal/multiviewer"
)

const (
	opSend   = "send"
	opExpect = "expect"
)

// Step is one script line.
type Step struct {
	Op    string
	Value string
	Line  int
}

// parseScript reads "send <command>" and "expect <pattern>" lines. Blank lines and
// lines starting with # are skipped.
func parseScript(scriptText string) ([]Step, error) {
	var steps []Step
	lines := strings.Split(strings.TrimSpace(scriptText), "\n")

	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		op, value, _ := strings.Cut(line, " ")
		value = strings.TrimSpace(value)

		switch op {
		case opSend:
			value = unquote(value)
			if value == "" {
				return nil, fmt.Errorf("line %d: send needs a command", i+1)
			}
		case opExpect:
			if _, err := multiviewer.ParseMatcher(value); err != nil {
				return nil, fmt.Errorf("line %d: %v", i+1, err)
			}
		default:
			return nil, fmt.Errorf("invalid command on line %d: %s", i+1, line)
		}
		steps = append(steps, Step{Op: op, Value: value, Line: i + 1})
	}

	return steps, nil
}

// unquote strips one pair of matching single or double quotes.
func unquote(value string) string {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '\'' || first == '"') && first == last {
			return value[1 : len(value)-1]
		}
	}
	return value
}

// Runner executes script steps against a multiviewer.
type Runner struct {
	Controller *multiviewer.Controller
	Logger     *log.Logger
	Out        io.Writer
}

// Run sends each command and checks every expect against the latest response.
func (r *Runner) Run(ctx context.Context, steps []Step) error {
	var last string
	haveResponse := false

	for _, step := range steps {
		switch step.Op {
		case opSend:
			response, err := r.Controller.Send(ctx, step.Value)
			if err != nil {
				return fmt.Errorf("send %q: %w", step.Value, err)
			}
			fmt.Fprintf(r.Out, "%s -> %s\n", multiviewer.Normalize(step.Value), response)
			last, haveResponse = response, true

		case opExpect:
			if !haveResponse {
				return fmt.Errorf("line %d: expect %s before any send", step.Line, step.Value)
			}
			match, err := multiviewer.ParseMatcher(step.Value)
			if err != nil {
				return fmt.Errorf("line %d: %v", step.Line, err)
			}
			r.Logger.Printf("EXPECT: %s", step.Value)
			if !match(last) {
				return fmt.Errorf("line %d: expected %s, got %q", step.Line, step.Value, last)
			}
			r.Logger.Printf("MATCHED: %s", step.Value)
		}
	}
	return nil
}
