package engine

import (
	"context"
	"sync/atomic"

	"urbaninfra/internal/submit"
)

type countingSubmitter struct{ n atomic.Int32 }

func (c *countingSubmitter) Submit(context.Context, submit.Payload, ...submit.Option) submit.Outcome {
	c.n.Add(1)
	return submit.Outcome{Status: submit.StatusSuccess, RedirectTarget: "/analysis/latest"}
}

type nopNav struct{}

func (nopNav) Navigate(string) {}
func (nopNav) Fail(string)     {}
