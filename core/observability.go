package core

// RunnerStats represents runtime observability state for a task runner.
type RunnerStats struct {
	Name    string
	Workers int
	Pending int
	Delayed int
	Running int
	Closed  bool
}
