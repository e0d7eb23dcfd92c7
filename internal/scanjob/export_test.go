package scanjob

// SetBeforeRun installs fn to be called by the next jobs before their first
// checkpoint.
func SetBeforeRun(m *Manager, fn func()) {
	m.beforeRun = fn
}
