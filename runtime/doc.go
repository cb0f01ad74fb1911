// Package runtime assembles the guardkit components into one explicitly
// constructed object.
//
// New builds the cache, the rate limiter, and the resilience executor from a
// single config.Config; Start launches their background sweeps and Shutdown
// joins them in reverse order. Nothing here is a global: two runtimes in one
// process are fully independent.
//
// # Usage
//
//	cfg, _ := config.Load()
//	rt, err := runtime.New(cfg)
//	if err != nil { ... }
//	if err := rt.Start(ctx); err != nil { ... }
//	defer rt.Shutdown(context.Background())
//
//	result, err := resilience.Run(ctx, rt.Executor(), "payments", op, resilience.Options[Receipt]{})
package runtime
