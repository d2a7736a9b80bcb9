// Package iox holds small cleanup helpers shared by the pipeline packages.
package iox

import "io"

// DiscardClose closes c, ignoring the error. Nil closers are skipped.
//
//	defer iox.DiscardClose(resp.Body)
func DiscardClose(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

// CloseFunc adapts c for t.Cleanup and similar hooks.
func CloseFunc(c io.Closer) func() {
	return func() { DiscardClose(c) }
}

// DiscardErr calls fn, ignoring the error. Used for best-effort flushes
// such as logger.Sync at process exit.
func DiscardErr(fn func() error) { _ = fn() }
