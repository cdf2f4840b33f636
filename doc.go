// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

/*
Package scgid implements an SCGI application-server core.

scgid sits between a front-end web server and a pool of backend worker processes. Front-end adapters translate native HTTP into length-prefixed request frames and send them over TCP or a unix socket; scgid admits or rejects each request, dispatches it to a pooled worker subprocess, and streams the worker's response back while shielding the worker from slow or hostile clients.

The pool spawns workers on demand up to a configured maximum, retires workers that sit idle past a timeout down to a configured minimum, probes idle workers for liveness, and reaps crashed workers. Dispatch is least-recently-used among idle workers and strictly FIFO among queued requests. A bounded admission queue provides backpressure: when it is full, new requests are answered immediately with an overload response instead of queueing without limit.

Once a worker has produced its complete response it is returned to the pool immediately; the remaining unsent bytes are spooled per connection and delivered at whatever pace the client reads. A worker process consumes exactly one request frame per dispatch and produces exactly one response frame; a worker that closes its channel without responding is treated as crashed, and its request fails with a gateway error rather than being retried.
*/
package scgid
