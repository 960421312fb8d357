// Package redisstream provides a Redis Streams transport for xpush.
//
// Every target is a stream. A Pusher publishes requests and events with XADD
// on the target stream and reads responses from the stream named after its
// origin; a Responder reads its target stream through a consumer group.
//
// Transport name: "redis-streams"
//
// Config keys:
//   - addr: "host:port" (default "127.0.0.1:6379")
//   - group: consumer group name (default "xpush")
//   - consumer: consumer name (default "xpush-<host>-<pid>")
//   - concurrency: number of workers (default 8)
//   - batch_size: XREADGROUP COUNT (default 128)
//   - block: XREADGROUP BLOCK duration (default 5s)
//   - auto_create: create group/stream if missing (default true)
//   - auto_delete_on_ack: XDEL after XACK (default false)
//   - dead_letter: stream receiving frames whose handler failed (optional)
//   - max_len_approx: approximate MAXLEN trimming per stream (optional)
//   - claim_min_idle: take over entries pending this long on other consumers (off when 0)
//   - claim_interval, claim_batch: how often and how many to claim (15s, 128)
//
// Example builder usage:
//
//	p, _ := xpush.NewPusherBuilder().
//	    WithTransport(redisstream.TransportName, map[string]any{
//	        "addr":        "localhost:6379",
//	        "dead_letter": "xpush-dlq",
//	    }).
//	    WithOrigin("kitchen-panel").
//	    Build()
package redisstream
