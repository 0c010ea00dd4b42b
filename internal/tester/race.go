package tester

import (
	"context"
	"errors"
	"sync"
)

// ErrNoneAlive is returned by Race when every candidate failed.
var ErrNoneAlive = errors.New("no alive node among candidates")

// Race probes ids concurrently and returns the first one that answers.
// Probes still running when a winner is found are cancelled.
func Race(parent context.Context, p Prober, ids []string) (string, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	winChan := make(chan string, 1)
	var once sync.Once
	var wg sync.WaitGroup

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			if _, err := p.Probe(ctx, id); err != nil {
				return
			}
			once.Do(func() {
				winChan <- id
				cancel()
			})
		}(id)
	}

	go func() {
		wg.Wait()
		close(winChan)
	}()

	if winner, ok := <-winChan; ok {
		return winner, nil
	}
	if err := parent.Err(); err != nil {
		return "", err
	}
	return "", ErrNoneAlive
}
