package symbolizer

import (
	"context"
	"encoding/json"
	"fmt"
)

// cpuProfilerCategory marks trace events whose args.frames carry native
// stack frames eligible for symbolication.
const cpuProfilerCategory = "disabled-by-default-cpu_profiler"

// SymbolicateTrace rewrites the eligible stack-frame lists of one trace
// document and returns the transformed copy. Every field other than the
// rewritten args.frames values is preserved via json.RawMessage. Events are
// processed one at a time; frames within an event are symbolicated
// concurrently. On any fatal error no output is produced.
func (s *Symbolizer) SymbolicateTrace(ctx context.Context, data []byte) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse trace document: %w", err)
	}

	rawEvents, ok := doc["traceEvents"]
	if !ok {
		// Nothing eligible for symbolication.
		return data, nil
	}

	var events []json.RawMessage
	if err := json.Unmarshal(rawEvents, &events); err != nil {
		return nil, fmt.Errorf("parse traceEvents: %w", err)
	}

	for i, rawEvent := range events {
		rewritten, changed, err := s.symbolicateEvent(ctx, rawEvent)
		if err != nil {
			return nil, err
		}
		if changed {
			events[i] = rewritten
		}
	}

	rawEvents, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("encode traceEvents: %w", err)
	}
	doc["traceEvents"] = rawEvents

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode trace document: %w", err)
	}
	return out, nil
}

// symbolicateEvent rewrites args.frames of one cpu-profiler event. Events
// of other categories, or without a frames string, are left untouched.
func (s *Symbolizer) symbolicateEvent(ctx context.Context, rawEvent json.RawMessage) (json.RawMessage, bool, error) {
	var event map[string]json.RawMessage
	if err := json.Unmarshal(rawEvent, &event); err != nil {
		// Not an object; leave it as is.
		return nil, false, nil
	}

	var category string
	if raw, ok := event["cat"]; ok {
		if err := json.Unmarshal(raw, &category); err != nil {
			return nil, false, nil
		}
	}
	if category != cpuProfilerCategory {
		return nil, false, nil
	}

	rawArgs, ok := event["args"]
	if !ok {
		return nil, false, nil
	}
	var args map[string]json.RawMessage
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return nil, false, nil
	}

	rawFrames, ok := args["frames"]
	if !ok {
		return nil, false, nil
	}
	var frames string
	if err := json.Unmarshal(rawFrames, &frames); err != nil {
		return nil, false, nil
	}

	resolved, err := s.SymbolicateFrames(ctx, frames)
	if err != nil {
		return nil, false, err
	}
	if resolved == frames {
		return nil, false, nil
	}

	rawFrames, err = json.Marshal(resolved)
	if err != nil {
		return nil, false, err
	}
	args["frames"] = rawFrames

	rawArgs, err = json.Marshal(args)
	if err != nil {
		return nil, false, err
	}
	event["args"] = rawArgs

	rewritten, err := json.Marshal(event)
	if err != nil {
		return nil, false, err
	}
	return rewritten, true, nil
}
