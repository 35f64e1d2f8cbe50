/*
Package resilience provides a circuit breaker for upstream fetches.

# Overview

Upstream sites fail independently, so breakers are grouped per upstream
host. A tripped breaker fails new calls immediately; nothing is retried.

# Usage

	group := resilience.NewGroup(resilience.Settings{
		Timeout: 30 * time.Second,
		IdleTTL: 10 * time.Minute,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
	})

	// Callers report the outcome once response headers are known, so a
	// streamed body never holds the slot.
	done, err := group.Get("example.com").Allow()
	if err != nil {
		return err
	}
	resp, err := send()
	done(err == nil && resp.StatusCode < 500)

Closed breakers of hosts that have gone quiet are forgotten after IdleTTL.

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                         Open
*/
package resilience
