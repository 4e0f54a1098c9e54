package engine

import "uipilot/internal/flow"

// Observer receives step and run outcomes, e.g. for metrics or history.
type Observer interface {
	StepFinished(step flow.Step, res StepResult)
	RunFinished(res *RunResult)
}

type nopObserver struct{}

func (nopObserver) StepFinished(flow.Step, StepResult) {}
func (nopObserver) RunFinished(*RunResult)            {}

// Observers fans out to several observers in order.
type Observers []Observer

func (o Observers) StepFinished(step flow.Step, res StepResult) {
	for _, ob := range o {
		ob.StepFinished(step, res)
	}
}

func (o Observers) RunFinished(res *RunResult) {
	for _, ob := range o {
		ob.RunFinished(res)
	}
}
