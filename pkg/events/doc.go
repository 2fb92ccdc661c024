/*
Package events provides the in-memory broker for kernel events.

The broker fans typed events out to subscriber channels. Publishing
never blocks the caller: events queue on a buffered channel and a
single distribution goroutine forwards them, dropping on subscribers
that fall behind.

# Event Types

	object.stored      object written back to a layer
	object.removed     object removed
	plugin.installed   bundle unpacked into the local area
	plugin.loaded      plug-in mounted and overlaid
	plugin.unloaded    plug-in unmounted
	session.created    session bound to a client
	session.destroyed  session terminated or expired
	server.started     kernel up and serving
	server.reset       kernel state rebuilt
	server.stopping    shutdown in progress

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for event := range sub {
			fmt.Println(event.Type, event.Path)
		}
	}()

	broker.Emit(events.EventPluginLoaded, "/storage/plugin/crm/", "1.4.0")

Publish stamps missing ids and timestamps. Subscriber channels buffer
50 events; a full subscriber loses events rather than stalling the
broker, so consumers needing completeness must drain promptly.

The status web service keeps a ring of recent events for its health
report, and tests subscribe to assert on lifecycle transitions.
*/
package events
