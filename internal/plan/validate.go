package plan

import "github.com/pengelbrecht/orch/internal/ownership"

// Registry reports which agents may receive tasks.
type Registry interface {
	RoleOf(agent string) (ownership.Role, bool)
}

// Validate checks that p is non-empty, names only registered agents, and
// that every dependency points at an earlier task. Requiring earlier
// indices makes cycles unrepresentable.
func Validate(p *Plan, reg Registry) error {
	if p == nil || len(p.Tasks) == 0 {
		return invalidf(-1, "plan has no tasks")
	}
	for i, t := range p.Tasks {
		if t.Agent == "" {
			return invalidf(i, "agent is empty")
		}
		if _, ok := reg.RoleOf(t.Agent); !ok {
			return invalidf(i, "agent '%s' is not registered", t.Agent)
		}
		for _, dep := range t.DependsOn {
			switch {
			case dep < 0 || dep >= len(p.Tasks):
				return invalidf(i, "depends_on index %d is out of bounds", dep)
			case dep >= i:
				return invalidf(i, "depends_on index %d is not a prior task (would create cycle)", dep)
			}
		}
	}
	return nil
}

// Order returns task indices in dependency order. Ready tasks are kept on a
// stack seeded in index order, so among independent tasks the highest index
// runs first.
func Order(p *Plan) ([]int, error) {
	n := len(p.Tasks)
	inDegree := make([]int, n)
	dependents := make([][]int, n)
	for i, t := range p.Tasks {
		for _, dep := range t.DependsOn {
			if dep < 0 || dep >= n {
				return nil, invalidf(i, "depends_on index %d is out of bounds", dep)
			}
			inDegree[i]++
			dependents[dep] = append(dependents[dep], i)
		}
	}

	var stack []int
	for i := 0; i < n; i++ {
		if inDegree[i] == 0 {
			stack = append(stack, i)
		}
	}

	order := make([]int, 0, n)
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		order = append(order, i)
		for _, d := range dependents[i] {
			inDegree[d]--
			if inDegree[d] == 0 {
				stack = append(stack, d)
			}
		}
	}

	if len(order) != n {
		return nil, invalidf(-1, "dependency cycle detected")
	}
	return order, nil
}
