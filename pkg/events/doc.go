/*
Package events wakes listeners when a sync-rule group's storage state
changes.

The batch writer publishes an event after every flush or keepalive that
advances the group's checkpoint; lifecycle transitions and compaction
passes publish their own kinds. The sync API layer listens to wake
long-poll clients waiting for new data.

Delivery is coalescing rather than queueing: a listener holds at most one
undelivered event, and a newer one replaces it. Events are wakeup hints —
consumers re-read the authoritative checkpoint record — so only the latest
state matters and a slow listener can never stall the writer. There is no
background goroutine; Publish fans out synchronously under a mutex.
*/
package events
