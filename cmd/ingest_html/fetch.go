package main

import (
	"context"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"joboffers/internal/extract"
	"joboffers/internal/selector"
)

// fetchJob is one link to download, already matched to its site.
type fetchJob struct {
	link string
	site selector.Site
}

// fetched is a downloaded page, or the reason it could not be.
type fetched struct {
	fetchJob
	doc *goquery.Document
	err error
}

// fetchAll downloads jobs with n concurrent workers and hands each page to
// handle. handle runs on the calling goroutine only, so the store sees one
// writer. Pages arrive in completion order, not link order.
func fetchAll(ctx context.Context, loader *extract.Loader, n int, jobs []fetchJob, handle func(fetched)) {
	if n < 1 {
		n = 1
	}

	queue := make(chan fetchJob)
	results := make(chan fetched, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				doc, err := loader.Load(ctx, job.link)
				results <- fetched{fetchJob: job, doc: doc, err: err}
			}
		}()
	}

	go func() {
		defer close(queue)
		for _, job := range jobs {
			select {
			case queue <- job:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		handle(r)
	}
}
