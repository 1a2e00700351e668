// See events.go for the broker API: NewBroker, Subscribe/Unsubscribe,
// Publish. Subscribers get a buffered channel; when a subscriber's
// buffer is full the event is skipped for that subscriber (it stays
// subscribed and is never blocked), so the reconciler never stalls on
// a slow listener.
package events
