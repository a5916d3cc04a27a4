package delivery

// ---------------------------------------------------------------------------
// FieldMappingEngine
// ---------------------------------------------------------------------------

// FieldDiagnostic records how one mapping rule was resolved
type FieldDiagnostic struct {
	SourceField             string        `json:"sourceField"`
	TargetField             string        `json:"targetField"`
	Required                bool          `json:"required"`
	HasDefault              bool          `json:"hasDefaultValue"`
	Transform               TransformName `json:"transform,omitempty"`
	Description             string        `json:"description,omitempty"`
	SourceValue             any           `json:"sourceValue,omitempty"`
	ResolvedFromSource      bool          `json:"resolvedFromSource"`
	ResolvedFromDefault     bool          `json:"resolvedFromDefault"`
	ResolvedFromCustomField bool          `json:"resolvedFromCustomField"`
	FinalValue              any           `json:"finalValue,omitempty"`
	// Present is true when the target key ends up in the payload
	Present bool `json:"present"`
}

// MappingOutcome is the flat carrier payload plus one diagnostic per enabled rule
type MappingOutcome struct {
	Payload     map[string]any    `json:"payload"`
	Diagnostics []FieldDiagnostic `json:"diagnostics"`
}

// FieldMappingEngine applies mapping rules to an order snapshot.
// It is stateless and safe for concurrent use.
type FieldMappingEngine struct{}

// NewFieldMappingEngine creates a new FieldMappingEngine
func NewFieldMappingEngine() *FieldMappingEngine {
	return &FieldMappingEngine{}
}

// Apply resolves every enabled rule in order, then merges customFields last.
//
// Per rule: a prioritised default wins unconditionally; otherwise a non-empty
// source value is transformed and used; otherwise the default is used verbatim;
// otherwise the target stays absent. A value that transforms to "" is absent.
func (e *FieldMappingEngine) Apply(snapshot map[string]any, mappings []FieldMapping, customFields map[string]any) *MappingOutcome {
	outcome := &MappingOutcome{
		Payload:     make(map[string]any),
		Diagnostics: make([]FieldDiagnostic, 0, len(mappings)),
	}

	for _, m := range mappings {
		if !m.Enabled {
			continue
		}
		outcome.Diagnostics = append(outcome.Diagnostics, e.applyRule(snapshot, m, outcome.Payload))
	}

	for key, value := range customFields {
		outcome.Payload[key] = value
		for i := range outcome.Diagnostics {
			d := &outcome.Diagnostics[i]
			if d.TargetField == key {
				d.ResolvedFromCustomField = true
				d.FinalValue = value
				d.Present = true
			}
		}
	}

	return outcome
}

func (e *FieldMappingEngine) applyRule(snapshot map[string]any, m FieldMapping, payload map[string]any) FieldDiagnostic {
	diag := FieldDiagnostic{
		SourceField: m.SourceField,
		TargetField: m.TargetField,
		Required:    m.Required,
		HasDefault:  m.HasDefault(),
		Transform:   m.Transform,
		Description: m.Description,
	}

	var source any
	sourcePresent := false
	if m.SourceField != "" {
		if v, ok := ResolvePath(snapshot, m.SourceField); ok && !IsEmptyValue(v) {
			source = v
			sourcePresent = true
			diag.SourceValue = v
		}
	}

	switch {
	case m.DefaultValuePriority && m.HasDefault():
		diag.FinalValue = m.DefaultValue
		diag.ResolvedFromDefault = true
	case sourcePresent:
		value := transformValue(m.Transform, source)
		if IsEmptyValue(value) {
			break
		}
		diag.FinalValue = value
		diag.ResolvedFromSource = true
	case m.HasDefault():
		diag.FinalValue = m.DefaultValue
		diag.ResolvedFromDefault = true
	}

	if diag.ResolvedFromSource || diag.ResolvedFromDefault {
		payload[m.TargetField] = diag.FinalValue
		diag.Present = true
	}
	return diag
}

// transformValue keeps untransformed values in their original type so numbers
// and nested objects reach the carrier unchanged.
func transformValue(name TransformName, value any) any {
	if !name.IsKnown() {
		return value
	}
	return ApplyTransform(name, value)
}
