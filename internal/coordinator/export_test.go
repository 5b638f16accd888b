package coordinator

// Tracked reports whether the coordinator holds per-session state for code.
func (c *Coordinator) Tracked(code string) bool {
	_, ok := c.states.Load(code)
	return ok
}
