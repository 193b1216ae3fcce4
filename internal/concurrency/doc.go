// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Core-pinned stack workers for hioload-fstack. WorkerFactory decides which
// core and role each worker gets, EventLoop drives one stack instance per
// worker, and EventLoopGroup builds and starts the whole set with the
// primary first.
package concurrency
