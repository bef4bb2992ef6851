package health

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/MrWong99/aria/internal/component"
	"github.com/MrWong99/aria/internal/conversation"
)

// Components returns a readiness checker over the component manager: it
// fails when any required component reports unhealthy. Optional components
// never fail readiness; their state shows up in the diagnostics surface
// instead.
func Components(m *component.Manager) Checker {
	return Checker{
		Name: "components",
		Check: func(ctx context.Context) error {
			var failing []string
			for name, healthy := range m.Healthy(ctx) {
				if healthy {
					continue
				}
				c := m.Get(name)
				if c != nil && c.Optional() {
					continue
				}
				failing = append(failing, name)
			}
			if len(failing) == 0 {
				return nil
			}
			sort.Strings(failing)
			return fmt.Errorf("unhealthy: %s", strings.Join(failing, ", "))
		},
	}
}

// Sessions returns a checker over the conversation store. The store has no
// external dependencies, so the check only guards against runaway session
// growth; maxSessions <= 0 disables the bound.
func Sessions(s *conversation.Store, maxSessions int) Checker {
	return Checker{
		Name: "sessions",
		Check: func(ctx context.Context) error {
			if maxSessions > 0 && s.Len() > maxSessions {
				return fmt.Errorf("%d live sessions exceed the bound of %d", s.Len(), maxSessions)
			}
			return nil
		},
	}
}
