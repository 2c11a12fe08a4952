package worker

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Supervise runs each background loop until ctx is cancelled and they all
// return. A panic in one loop stops its siblings and comes back as an error.
func Supervise(ctx context.Context, loops ...func(context.Context)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      conc.WaitGroup
		catcher panics.Catcher
	)
	for _, loop := range loops {
		wg.Go(func() {
			catcher.Try(func() { loop(ctx) })
			if catcher.Recovered() != nil {
				cancel()
			}
		})
	}
	wg.Wait()

	if r := catcher.Recovered(); r != nil {
		return fmt.Errorf("background loop panicked: %v", r.Value)
	}
	return nil
}
