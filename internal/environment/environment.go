package environment

import (
	"fmt"
	"os"
	"strings"
)

const Variable = "CLONEFS_ENV"

type Env int

const (
	// Use iota + 1 so the zero Env is never mistaken for a real environment.
	Dev Env = iota + 1
	Test
	Prod
)

func (e Env) String() string {
	switch e {
	case Dev:
		return "dev"
	case Test:
		return "test"
	case Prod:
		return "prod"
	default:
		return "unknown"
	}
}

// LoadEnvironment reads CLONEFS_ENV. An unset variable means Prod, since the
// CLI is mostly run by people who never set it.
func LoadEnvironment() (Env, error) {
	return Parse(os.Getenv(Variable))
}

func Parse(s string) (Env, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dev":
		return Dev, nil
	case "test":
		return Test, nil
	case "prod", "":
		return Prod, nil
	default:
		return 0, fmt.Errorf("unknown %s %q", Variable, s)
	}
}
