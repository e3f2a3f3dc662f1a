package ports

// RateLimiter is the token-bucket primitive: Allow reports whether a
// token was available and consumed it if so.
type RateLimiter interface {
	Allow() bool
	Tokens() int64
}

// RateLimiterRegistry owns one bucket per client key (IP, or a global key
// for the aggregate limit) and a shared global bucket.
type RateLimiterRegistry interface {
	ForKey(key string) RateLimiter
	Global() RateLimiter
}
