package engine

// Resolver selects the tenant data engine instance for a project namespace.
// Deployments with a single shared engine use StaticResolver; sharded setups
// map namespaces to separate instances.
type Resolver interface {
	Engine(namespace string) (Client, error)
}

type StaticResolver struct {
	Client Client
}

func (r StaticResolver) Engine(namespace string) (Client, error) {
	return r.Client, nil
}
