// Package crawler implements the batch crawl loop: the scheduler that pulls
// work from the frontier, the per-task processor that renders and extracts a
// page, and the reducer that folds results back into the frontier.
package crawler
