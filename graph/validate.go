package graph

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/petal-labs/strata/core"
	"github.com/petal-labs/strata/expr"
	"github.com/petal-labs/strata/registry"
)

// allowedFields lists the kind-specific fields each kind accepts.
var allowedFields = map[string][]string{
	KindProcess:     {"type", "config", "parameter_handling"},
	KindSequential:  {"iterations", "iteration_expression", "children"},
	KindConditional: {"condition", "max_iterations", "children"},
	KindData:        {"value"},
	KindDataRef:     {"target"},
}

// Validate checks structural integrity of the ModelDefinition.
// It checks rules that can be verified without a process registry:
//   - MD-001: duplicate component names
//   - MD-002: names and user IDs are identifiers
//   - MD-003: known component kind
//   - MD-004: input references parse and name existing components
//   - MD-005: process components declare a type
//   - MD-006: expressions parse
//   - MD-007: expressions refer to known identifiers (warning)
//   - MD-008: time levels are non-negative and not below the host
//   - MD-009: parameter handling names a known policy
//   - MD-010: only fields valid for the kind are set
//   - MD-011: data references designate a data component
//   - MD-012: the model is non-empty and the root exists
//   - MD-014: aggregates without children (warning)
//   - MD-015: sync_with_host input-sets run out before the host does (warning)
//   - MD-016: inputs on aggregates are ignored (warning)
//   - MD-017: process cycles without a data component (warning)
//   - MD-019: data components with neither inputs nor a value (warning)
//
// Registry-dependent rules (MD-005 unknown types, MD-013, MD-018) are
// checked via ValidateWithRegistry.
func (md *ModelDefinition) Validate() []Diagnostic {
	v := newValidator(md)
	v.checkNames()
	v.checkRoot()
	for _, vis := range v.visits {
		v.checkComponent(vis)
	}
	v.checkCycles()
	return v.diags
}

// ValidateWithRegistry runs Validate plus the rules needing process type
// metadata:
//   - MD-005: process types are registered
//   - MD-013: process config matches the type's config fields
//   - MD-018: input-sets carry an operand count the type accepts
func (md *ModelDefinition) ValidateWithRegistry(reg *registry.Registry) []Diagnostic {
	diags := md.Validate()
	md.walk(func(vis visit) {
		cd := vis.def
		if cd.Kind != KindProcess || cd.Type == "" {
			return
		}
		def, ok := reg.Get(cd.Type)
		if !ok {
			diags = append(diags, Diagnostic{
				Code:     "MD-005",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Component %q has unknown process type %q", cd.Name, cd.Type),
				Path:     vis.path + ".type",
			})
			return
		}
		for _, problem := range def.CheckConfig(cd.Config) {
			diags = append(diags, Diagnostic{
				Code:     "MD-013",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Component %q: %s", cd.Name, problem),
				Path:     vis.path + ".config",
			})
		}
		diags = append(diags, checkOperands(cd, def, vis.path)...)
	})
	return diags
}

func checkOperands(cd *ComponentDef, def registry.ProcessTypeDef, path string) []Diagnostic {
	required := 0
	for _, p := range def.Ports.Inputs {
		if p.Required {
			required++
		}
	}
	var diags []Diagnostic
	for i, set := range cd.Inputs {
		var msg string
		switch {
		case len(set) < required:
			msg = fmt.Sprintf("Component %q input-set %d has %d operands, type %q needs at least %d",
				cd.Name, i, len(set), cd.Type, required)
		case !def.Ports.Variadic && len(set) > len(def.Ports.Inputs):
			msg = fmt.Sprintf("Component %q input-set %d has %d operands, type %q accepts at most %d",
				cd.Name, i, len(set), cd.Type, len(def.Ports.Inputs))
		default:
			continue
		}
		diags = append(diags, Diagnostic{
			Code:     "MD-018",
			Severity: SeverityError,
			Message:  msg,
			Path:     fmt.Sprintf("%s.inputs[%d]", path, i),
		})
	}
	return diags
}

type validator struct {
	md      *ModelDefinition
	visits  []visit
	names   map[string]*ComponentDef
	userIDs map[string][]*ComponentDef
	diags   []Diagnostic
}

func newValidator(md *ModelDefinition) *validator {
	v := &validator{
		md:      md,
		names:   make(map[string]*ComponentDef),
		userIDs: make(map[string][]*ComponentDef),
	}
	md.walk(func(vis visit) { v.visits = append(v.visits, vis) })
	return v
}

func (v *validator) add(code, severity, path, format string, args ...any) {
	v.diags = append(v.diags, Diagnostic{
		Code:     code,
		Severity: severity,
		Message:  fmt.Sprintf(format, args...),
		Path:     path,
	})
}

func (v *validator) checkNames() {
	for _, vis := range v.visits {
		cd := vis.def
		if cd.Name == "" || core.ValidateIdentifier(cd.Name) != nil {
			v.add("MD-002", SeverityError, vis.path+".name",
				"Component name %q must be a non-empty identifier of letters, digits and underscores", cd.Name)
		}
		if cd.UserID != "" {
			if core.ValidateIdentifier(cd.UserID) != nil {
				v.add("MD-002", SeverityError, vis.path+".user_id",
					"User ID %q of component %q is not an identifier", cd.UserID, cd.Name)
			}
			v.userIDs[cd.UserID] = append(v.userIDs[cd.UserID], cd)
		}
		if _, dup := v.names[cd.Name]; dup {
			v.add("MD-001", SeverityError, vis.path+".name", "Duplicate component name %q", cd.Name)
			continue
		}
		v.names[cd.Name] = cd
	}
}

func (v *validator) checkRoot() {
	if len(v.md.Components) == 0 {
		v.add("MD-012", SeverityError, "components", "Model %q has no components", v.md.ID)
		return
	}
	if v.md.Root != "" && v.names[v.md.Root] == nil {
		v.add("MD-012", SeverityError, "root", "Root component %q does not exist", v.md.Root)
	}
}

func (v *validator) checkComponent(vis visit) {
	cd := vis.def
	allowed, known := allowedFields[cd.Kind]
	if !known {
		v.add("MD-003", SeverityError, vis.path+".kind",
			"Component %q has unknown kind %q (want process, sequential, conditional, data or data_ref)", cd.Name, cd.Kind)
	} else {
		for _, field := range setFields(cd) {
			if !slices.Contains(allowed, field) {
				v.add("MD-010", SeverityError, vis.path+"."+field,
					"Field %q is not valid for %s component %q", field, cd.Kind, cd.Name)
			}
		}
	}

	v.checkLevel(vis)
	v.checkInputs(vis)

	switch cd.Kind {
	case KindProcess:
		v.checkProcess(vis)
	case KindSequential:
		v.checkSequential(vis)
	case KindConditional:
		v.checkConditional(vis)
	case KindData:
		if len(cd.Inputs) == 0 && cd.Value == nil {
			v.add("MD-019", SeverityWarning, vis.path,
				"Data component %q has neither inputs nor a value; reads fail until a value is pushed", cd.Name)
		}
	case KindDataRef:
		v.checkDataRef(vis)
	}

	if cd.IsAggregate() {
		if len(cd.Children) == 0 {
			v.add("MD-014", SeverityWarning, vis.path+".children", "Aggregate %q has no children", cd.Name)
		}
		if len(cd.Inputs) > 0 {
			v.add("MD-016", SeverityWarning, vis.path+".inputs",
				"Inputs of aggregate %q are ignored; reference its children instead", cd.Name)
		}
	}
}

// setFields returns the kind-specific fields that carry a value.
func setFields(cd *ComponentDef) []string {
	var fields []string
	add := func(name string, set bool) {
		if set {
			fields = append(fields, name)
		}
	}
	add("type", cd.Type != "")
	add("config", len(cd.Config) > 0)
	add("parameter_handling", cd.ParameterHandling != "")
	add("iterations", cd.Iterations != nil)
	add("iteration_expression", cd.IterationExpression != "")
	add("condition", cd.Condition != "")
	add("max_iterations", cd.MaxIterations != 0)
	add("children", len(cd.Children) > 0)
	add("value", cd.Value != nil)
	add("target", cd.Target != "")
	return fields
}

func (v *validator) checkLevel(vis visit) {
	cd := vis.def
	if cd.TimeLevel == nil {
		return
	}
	lvl := *cd.TimeLevel
	if lvl < 0 {
		v.add("MD-008", SeverityError, vis.path+".time_level", "Component %q has negative time level %d", cd.Name, lvl)
		return
	}
	if vis.host == nil {
		return
	}
	if hostLevel := v.levelOf(vis.host); lvl < hostLevel {
		v.add("MD-008", SeverityError, vis.path+".time_level",
			"Component %q time level %d is below host %q level %d", cd.Name, lvl, vis.host.Name, hostLevel)
	}
}

func (v *validator) levelOf(cd *ComponentDef) int {
	for _, vis := range v.visits {
		if vis.def == cd {
			return vis.level
		}
	}
	return 0
}

func (v *validator) checkInputs(vis visit) {
	cd := vis.def
	for i, set := range cd.Inputs {
		for j, raw := range set {
			path := fmt.Sprintf("%s.inputs[%d][%d]", vis.path, i, j)
			ref, err := core.ParseInputRef(raw)
			if err != nil {
				v.add("MD-004", SeverityError, path, "Component %q: %v", cd.Name, err)
				continue
			}
			if v.names[ref.Component] == nil {
				v.add("MD-004", SeverityError, path,
					"Component %q input %q references unknown component", cd.Name, raw)
			}
		}
	}
}

func (v *validator) checkProcess(vis visit) {
	cd := vis.def
	if cd.Type == "" {
		v.add("MD-005", SeverityError, vis.path+".type", "Process component %q has no type", cd.Name)
	}

	handling, err := core.ParseParameterHandling(cd.ParameterHandling)
	if err != nil {
		v.add("MD-009", SeverityError, vis.path+".parameter_handling", "Component %q: %v", cd.Name, err)
		return
	}

	if src, ok := cd.Config["expression"].(string); ok && cd.Type == "expression" {
		vars, _ := cd.Config["vars"].(map[string]any)
		v.checkExpression(cd, src, vis.path+".config.expression", func(id string) bool {
			if _, ok := vars[id]; ok {
				return true
			}
			return isOperandName(id)
		})
	}

	host := vis.host
	if handling != core.SyncWithHost || host == nil || host.Kind != KindSequential ||
		host.Iterations == nil || host.IterationExpression != "" {
		return
	}
	if n := len(cd.Inputs); n > 0 && n < *host.Iterations {
		v.add("MD-015", SeverityWarning, vis.path+".inputs",
			"Component %q has %d input-sets but host %q runs %d passes; sync_with_host fails at step %d",
			cd.Name, n, host.Name, *host.Iterations, n)
	}
}

func isOperandName(id string) bool {
	switch id {
	case "in", "step", "param":
		return true
	}
	rest, ok := strings.CutPrefix(id, "in")
	if !ok {
		return false
	}
	_, err := strconv.Atoi(rest)
	return err == nil
}

func (v *validator) checkSequential(vis visit) {
	cd := vis.def
	if cd.Iterations != nil && cd.IterationExpression != "" {
		v.add("MD-010", SeverityError, vis.path,
			"Sequential %q sets both iterations and iteration_expression", cd.Name)
	}
	if cd.Iterations != nil && *cd.Iterations < 0 {
		v.add("MD-010", SeverityError, vis.path+".iterations",
			"Sequential %q has negative iterations %d", cd.Name, *cd.Iterations)
	}
	if cd.IterationExpression != "" {
		v.checkExpression(cd, cd.IterationExpression, vis.path+".iteration_expression", v.isModelIdentifier)
	}
}

func (v *validator) checkConditional(vis visit) {
	cd := vis.def
	if cd.Condition == "" {
		v.add("MD-010", SeverityError, vis.path+".condition", "Conditional %q has no condition", cd.Name)
	} else {
		v.checkExpression(cd, cd.Condition, vis.path+".condition", v.isModelIdentifier)
	}
	if cd.MaxIterations < 0 {
		v.add("MD-010", SeverityError, vis.path+".max_iterations",
			"Conditional %q has negative max_iterations %d", cd.Name, cd.MaxIterations)
	}
}

// isModelIdentifier reports whether id can resolve in an aggregate's
// iteration expression or condition.
func (v *validator) isModelIdentifier(id string) bool {
	if id == "step" || id == "iterations" {
		return true
	}
	return v.names[id] != nil || len(v.userIDs[id]) > 0
}

func (v *validator) checkExpression(cd *ComponentDef, src, path string, known func(string) bool) {
	ast, err := expr.Parse(src)
	if err != nil {
		v.add("MD-006", SeverityError, path, "Component %q expression %q: %v", cd.Name, src, err)
		return
	}
	for _, id := range expr.Identifiers(ast) {
		if !known(id) {
			v.add("MD-007", SeverityWarning, path,
				"Component %q expression %q refers to unknown identifier %q (evaluates to null)", cd.Name, src, id)
		}
	}
}

func (v *validator) checkDataRef(vis visit) {
	cd := vis.def
	target := cd.Target
	if target == "" && len(cd.Inputs) > 0 && len(cd.Inputs[0]) > 0 {
		if ref, err := core.ParseInputRef(cd.Inputs[0][0]); err == nil {
			target = ref.Component
		}
	}
	if target == "" {
		v.add("MD-011", SeverityError, vis.path+".target", "Data reference %q has no target", cd.Name)
		return
	}
	if t := v.names[target]; t != nil {
		if t.Kind != KindData && t.Kind != KindDataRef {
			v.add("MD-011", SeverityError, vis.path+".target",
				"Data reference %q targets %s component %q", cd.Name, t.Kind, target)
		}
		return
	}
	matches := 0
	for _, d := range v.userIDs[target] {
		if d.Kind == KindData {
			matches++
		}
	}
	if matches != 1 {
		v.add("MD-011", SeverityError, vis.path+".target",
			"Data reference %q target %q matches %d data components", cd.Name, target, matches)
	}
}

// checkCycles reports dependency cycles between process components. The
// scheduler can only break a cycle at a data component.
func (v *validator) checkCycles() {
	inDegree := make(map[string]int)
	successors := make(map[string][]string)
	var procs []string
	for _, vis := range v.visits {
		if vis.def.Kind == KindProcess {
			if _, seen := inDegree[vis.def.Name]; !seen {
				procs = append(procs, vis.def.Name)
			}
			inDegree[vis.def.Name] = 0
		}
	}
	for _, vis := range v.visits {
		cd := vis.def
		if cd.Kind != KindProcess {
			continue
		}
		deps := map[string]bool{}
		for _, set := range cd.Inputs {
			for _, raw := range set {
				ref, err := core.ParseInputRef(raw)
				if err != nil || deps[ref.Component] {
					continue
				}
				if _, isProc := inDegree[ref.Component]; !isProc {
					continue
				}
				deps[ref.Component] = true
				successors[ref.Component] = append(successors[ref.Component], cd.Name)
				inDegree[cd.Name]++
			}
		}
	}

	var queue []string
	for _, name := range procs {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}
	visited := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		visited++
		for _, succ := range successors[current] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if visited < len(procs) {
		var cycle []string
		for _, name := range procs {
			if inDegree[name] > 0 {
				cycle = append(cycle, name)
			}
		}
		v.add("MD-017", SeverityWarning, "components",
			"Processes %v form a cycle without a data component; add one to break it", cycle)
	}
}
