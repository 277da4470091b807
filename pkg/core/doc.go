// Package core is a small, stable facade over the monitor's baseline and
// verification machinery for programs that want a one-shot integrity check
// without running the watcher.
//
// Example:
//
//	opts := core.Options{Root: "/srv/www"}
//	if _, _, err := core.CreateBaseline(ctx, opts); err != nil { /* handle */ }
//	res, err := core.Verify(ctx, opts)
//	if err != nil { /* handle */ }
//	_ = core.MarshalFindings(os.Stdout, res.Findings)
package core
