// Package freebox implements the Gray Logic bridge for a Freebox home
// gateway.
//
// The bridge exposes the alarm and the shutters discovered on the box as
// Gray Logic devices:
//
//	alarm            arm_main, arm_night, disarm
//	shutter-{node}   set_position {"position": 0-100}, open, close, stop, toggle
//
// Topics follow the flat bridge scheme:
//
//	graylogic/command/freebox/{device}   Core → Bridge
//	graylogic/ack/freebox/{device}       Bridge → Core
//	graylogic/state/freebox/{device}     Bridge → Core (retained)
//	graylogic/health/freebox             Bridge → Core (retained, LWT)
//	graylogic/discovery/freebox          Bridge → Core (retained)
//
// Positions follow the box convention: 0 is open, 100 is closed.
//
// All gateway calls go through the freeboxos request executor, so commands
// and polls never overlap on the box session. Commands are queued and run
// in arrival order; each is acknowledged "accepted" before it is sent and
// "failed" or "timeout" if the box call fails.
//
// State is polled every poll interval. Values the box reports as not
// updated are skipped; only changes are published.
package freebox
