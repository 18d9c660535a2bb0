// Package osl provides the OS layers an xrps.Coordinator runs on.
//
// RealTime uses the wall clock, a timer goroutine and a deferred work
// goroutine. Simulated runs on a sim.Engine, so that whole scenarios can be
// replayed deterministically in virtual time.
package osl
