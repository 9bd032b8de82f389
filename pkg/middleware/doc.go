// Package middleware provides request throttling for the admin API.
//
// Two rate limiter implementations share one interface shape: an in-memory
// token bucket for single-instance deployments, and a Redis-backed counter
// window for fleets. Both key authenticated requests by principal and
// anonymous requests by client IP.
//
//	rl := middleware.NewRateLimitMiddleware()
//	router.Use(rl.Handler)
//
// Distributed:
//
//	drl := middleware.NewDistributedRateLimitMiddleware(redisClient)
//	router.Use(drl.Handler)
package middleware
