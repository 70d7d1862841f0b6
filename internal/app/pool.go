package app

import "golang.org/x/sync/errgroup"

// runPool runs fn over every item with at most width calls in flight. One
// failure does not stop the others; the first error is returned once every
// task has finished. Results keep the order of items.
func runPool[T, R any](width int, items []T, fn func(T) (R, error)) ([]R, error) {
	results := make([]R, len(items))
	g := new(errgroup.Group)
	g.SetLimit(width)
	for i, item := range items {
		g.Go(func() error {
			r, err := fn(item)
			results[i] = r
			return err
		})
	}
	return results, g.Wait()
}
