// Command brokeradmin runs the management gateway of a message broker.
//
// brokeradmin registers broker resources (addresses, queues, acceptors,
// diverts, bridges and cluster connections) as management controls and
// exposes them through an HTTP admin API and a gRPC management API.
//
// Install:
//
//	go install github.com/nuetzliches/brokeradmin/cmd/brokeradmin@latest
//
// Usage:
//
//	brokeradmin run --config ./Brokerfile --watch
package main
