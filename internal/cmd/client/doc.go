// Package client provides the `nakadi` command-line client.
//
// The CLI talks to the Nakadi HTTP API to manage storages, event types and
// timelines and to publish and read events from a terminal.
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. When using the standalone binary, it
// defaults to http://127.0.0.1:8080 and can be changed with NAKADI_HTTP.
// Requests carry the client id from --client or NAKADI_CLIENT.
//
// Usage
//
//	nakadi storage create --id archive --type local --client nakadi-admin
//	nakadi event-type create --name orders --partitions 4
//	nakadi events publish --event-type orders --data '{"id":1}' --key user-1
//	nakadi events read --event-type orders --cursor 0:BEGIN --limit 10
//
//	# Move orders onto the archive storage; old cursors keep working
//	nakadi timeline create --event-type orders --storage archive --client nakadi-admin
//	nakadi timeline list --event-type orders -o yaml
//
//	nakadi cursor inspect 001-0001-000000000000000042
package client
