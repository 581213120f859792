package handlers

// Bootstrap constructs a Registry with every forward and compensation
// handler named by orchestration/definitions registered against it. Callers
// assemble a Deps (typically once, at process startup in cmd/sagaserver)
// and pass it here; the returned Registry satisfies orchestration/saga.Registry.
func Bootstrap(d *Deps) *Registry {
	reg := NewRegistry()
	RegisterProvisionHandlers(reg, d)
	RegisterDeprovisionHandlers(reg, d)
	RegisterServiceOperationHandlers(reg, d)
	return reg
}
