package display

// Binding is the value substituted for a {name} placeholder: either a
// literal or a provider evaluated again on every render (a clock, a counter).
type Binding struct {
	literal  string
	provider func() string
}

func Literal(value string) Binding {
	return Binding{literal: value}
}

func Func(provider func() string) Binding {
	return Binding{provider: provider}
}

func (b Binding) Value() string {
	if b.provider != nil {
		return b.provider()
	}
	return b.literal
}

// Bindings maps placeholder names to their binding.
type Bindings map[string]Binding

// Literals wraps plain strings as literal bindings.
func Literals(values map[string]string) Bindings {
	bindings := make(Bindings, len(values))
	for k, v := range values {
		bindings[k] = Literal(v)
	}
	return bindings
}

// evaluate resolves every binding once, so all lines of a render see the same values.
func (b Bindings) evaluate() map[string]string {
	values := make(map[string]string, len(b))
	for k, v := range b {
		values[k] = v.Value()
	}
	return values
}
