//go:build windows

package evloop

import "github.com/domsolutions/netloop"

// The IOCP completion backend has not been ported yet; Loop.Init
// fails on windows.
func newPoller() Poller {
	return unsupportedPoller{}
}

type unsupportedPoller struct{}

func (unsupportedPoller) Init() error                           { return netloop.ErrNotSupported }
func (unsupportedPoller) Register(int, Event, IOCallback) error { return netloop.ErrNotSupported }
func (unsupportedPoller) Update(int, Event) error               { return netloop.ErrNotSupported }
func (unsupportedPoller) Unregister(int, bool) error            { return netloop.ErrNotSupported }
func (unsupportedPoller) Wait(int) error                        { return netloop.ErrNotSupported }
func (unsupportedPoller) Notify()                               {}
func (unsupportedPoller) Type() PollType                        { return PollIOCP }
func (unsupportedPoller) LevelTriggered() bool                  { return false }
func (unsupportedPoller) Close() error                          { return nil }
