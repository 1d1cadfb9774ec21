// Package session wraps a model Handle in a state machine and serializes
// generation.
//
//	idle --Load--> loading --ok--> ready --Generate--> generating
//	                      \--err--> failed            |  done/cancel -> ready
//	                                                  \  engine error -> failed
//
// failed and ready both accept Load again (retry, model swap). Nothing retries
// automatically.
//
// Each generation has its own Stream and producer goroutine. The producer
// hands fragments over an unbuffered channel, so it steps the engine again
// only after the consumer took the previous fragment. Cancel is scoped to the
// generation that is active when it is called and is observed between steps.
package session
