/*
Package staticserver is a static file server built on an epoll reactor and a
fixed pool of OS-thread-locked workers.

One process accepts client connections, multiplexes their readiness through a
single epoll instance and hands each ready connection to the worker pool. A
worker parses one HTTP/1.0 or HTTP/1.1 request out of the connection's buffer
and streams the requested file back with sendfile(2).

Features

  - epoll with edge-triggered one-shot registration and explicit re-arm
  - Fixed worker pool with a bounded FIFO task queue and admission control
  - GET and HEAD for regular files under one resource root
  - Zero-copy file transfer
  - Prompt suspend and terminate through an eventfd wake-up
  - Structured logging with logrus
  - Request and connection metrics through OpenTelemetry

Quick Start

	static-server --port 8080 --path /srv/www

Every flag can also be given as an environment variable with the STATIC_
prefix, for example STATIC_PORT=8080 or STATIC_MAX_CLIENTS=4096.

Embedding the engine:

	engine, err := core.NewEngine(core.Options{
		Port: 8080,
		Root: "/srv/www",
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := engine.Start(); err != nil {
		log.Fatal(err)
	}
	defer engine.Terminate()

Modules

  - app: Process lifecycle, logger setup and signal handling
  - config: Flag and environment configuration
  - core: Engine (acceptor, dispatch loop, connection table, lifecycle)
  - core/observability: Per-method request monitor and OpenTelemetry instruments
  - core/http: Request parsing, responses, status and MIME tables
  - core/pools: Worker pool, task queue and buffer pool
  - core/poller: epoll binding
  - core/sendfile: Socket writes and sendfile(2)

Workers

The accept loop and the dispatch loop each occupy one worker for as long as
the engine runs, so a pool of N workers serves requests on N-2 of them. At
least three workers are required.
*/
package staticserver
