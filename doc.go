/*
Package hublink manages one long-lived connection to a real-time message hub.

A Service owns the connection lifecycle (authenticate, connect, disconnect,
reconnect), fans inbound hub events out to locally registered subscribers and
exposes the outbound hub operations SendMessage, DeleteMessage and
SendTypingIndicator. The wire protocol itself lives behind the Transport
interface; hublink only drives the lifecycle of whatever Transport the
configured Factory builds.

Lifecycle

A Service is created once at process bootstrap with New() and passed by
reference to everything that talks to the hub. Start() fetches the bearer
token from the configured token provider, builds the Transport and opens the
connection, retrying failed attempts with exponential backoff (1s doubling
up to 30s, 5 retries by default). Concurrent Start calls share one in-flight
attempt. Once connected, disruption-triggered reconnects are handled by the
Transport itself and only surface as connection status events. Stop() closes
the connection and never fails.

Subscriptions

The four On* methods register a callback for one event category (message,
conversation update, typing signal, connection status) and return the
function that removes the registration. Callbacks are isolated from each
other: a panicking subscriber is reported to the logger and the remaining
subscribers still run. Subscribing and unsubscribing while events are being
delivered is safe.

Outbound operations

SendMessage and DeleteMessage require an established connection and fail
with ErrNotConnected otherwise; invocation failures are returned wrapped in
InvokeError. SendTypingIndicator is best effort and never returns an error.
*/
package hublink
