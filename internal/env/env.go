package env

import "fmt"

type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

func (e Environment) IsProduction() bool { return e == Production }

func (e Environment) Validate() error {
	switch e {
	case Development, Production:
		return nil
	default:
		return fmt.Errorf("unknown environment %q", string(e))
	}
}
