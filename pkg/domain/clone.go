package domain

// CloneArguments returns a deep copy of an argument payload.
func CloneArguments(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneArguments(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// CloneActionCall returns a deep copy of c.
func CloneActionCall(c ActionCall) ActionCall {
	c.Arguments = CloneArguments(c.Arguments)
	return c
}

// CloneMessage returns a deep copy of m.
func CloneMessage(m Message) Message {
	if m.ActionCalls != nil {
		calls := make([]ActionCall, len(m.ActionCalls))
		for i, c := range m.ActionCalls {
			calls[i] = CloneActionCall(c)
		}
		m.ActionCalls = calls
	}
	return m
}

// CloneMessages returns a deep copy of msgs.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = CloneMessage(m)
	}
	return out
}

// CloneDescriptor returns a deep copy of d.
func CloneDescriptor(d ActionDescriptor) ActionDescriptor {
	d.Schema = CloneArguments(d.Schema)
	return d
}
