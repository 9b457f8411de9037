// Package server hosts the Fiber HTTP service that exposes the asset cache to
// the desktop UI on a loopback port. It owns the middleware chain (panic
// recovery, request ids, CORS), resolves inbound paths into resource routes
// and hands them to the gateway handler, while diagnostics such as /status are
// registered separately by the routes subpackage and take precedence over the
// resource catch-all.
package server
